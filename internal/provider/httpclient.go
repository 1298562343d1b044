package provider

import (
	"net/http"
	"sync"
	"time"
)

var (
	transportOnce sync.Once
	transport     *http.Transport
)

// sharedTransport is the connection pool every generator client draws from.
func sharedTransport() *http.Transport {
	transportOnce.Do(func() {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.MaxIdleConnsPerHost = 10
		t.IdleConnTimeout = 90 * time.Second
		transport = t
	})
	return transport
}

// SharedHTTPClient returns a client for the model SDKs. timeout bounds a
// whole request; clients with different timeouts still share connections.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &http.Client{Timeout: timeout, Transport: sharedTransport()}
}
