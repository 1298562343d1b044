package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"persona/internal/domain"
)

const (
	httpTimeout    = 15 * time.Second
	fetchMaxBytes  = 100 * 1024
	fetchMaxOutput = 10000
	userAgent      = "persona/0.1"
)

// Builtin is the source of abilities shipped with the agent.
type Builtin struct {
	// Only restricts the set to the named abilities. Empty means all.
	Only   []string
	Client *http.Client
}

func (b Builtin) Abilities() []domain.Ability {
	client := b.Client
	if client == nil {
		client = &http.Client{Timeout: httpTimeout}
	}
	all := []domain.Ability{
		&webSearch{client: client},
		&webFetch{client: client},
		systemInfo{},
		clock{},
	}
	if len(b.Only) == 0 {
		return all
	}
	var out []domain.Ability
	for _, a := range all {
		for _, name := range b.Only {
			if a.Name() == name {
				out = append(out, a)
			}
		}
	}
	return out
}

// webSearch queries the DuckDuckGo instant answer API.
type webSearch struct {
	client   *http.Client
	endpoint string
}

func (t *webSearch) Name() string { return "web_search" }
func (t *webSearch) Description() string {
	return "Search the web for a short factual summary."
}
func (t *webSearch) Parameters() map[string]any {
	return Parameters(map[string]Param{
		"query": {Type: "string", Description: "What to look up"},
	}, []string{"query"})
}

func (t *webSearch) Execute(ctx context.Context, args map[string]any) (string, error) {
	query := ArgString(args, "query")
	if query == "" {
		return "", fmt.Errorf("missing argument: query")
	}
	base := t.endpoint
	if base == "" {
		base = "https://api.duckduckgo.com/"
	}
	endpoint := base + "?format=json&no_html=1&skip_disambig=1&q=" + url.QueryEscape(query)

	body, err := get(ctx, t.client, endpoint, fetchMaxBytes)
	if err != nil {
		return "", fmt.Errorf("search: %w", err)
	}

	var res struct {
		Heading       string `json:"Heading"`
		Abstract      string `json:"Abstract"`
		AbstractURL   string `json:"AbstractURL"`
		Answer        string `json:"Answer"`
		RelatedTopics []struct {
			Text string `json:"Text"`
		} `json:"RelatedTopics"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return "", fmt.Errorf("parse search response: %w", err)
	}

	var parts []string
	if res.Answer != "" {
		parts = append(parts, "Answer: "+res.Answer)
	}
	if res.Abstract != "" {
		parts = append(parts, fmt.Sprintf("%s: %s (%s)", res.Heading, res.Abstract, res.AbstractURL))
	}
	for i, topic := range res.RelatedTopics {
		if i == 5 {
			break
		}
		if topic.Text != "" {
			parts = append(parts, "- "+topic.Text)
		}
	}
	if len(parts) == 0 {
		return "No results for " + query, nil
	}
	return strings.Join(parts, "\n"), nil
}

// webFetch returns the text of a page with markup removed.
type webFetch struct {
	client *http.Client
}

func (t *webFetch) Name() string { return "web_fetch" }
func (t *webFetch) Description() string {
	return "Fetch a web page and return its text."
}
func (t *webFetch) Parameters() map[string]any {
	return Parameters(map[string]Param{
		"url": {Type: "string", Description: "http or https URL"},
	}, []string{"url"})
}

func (t *webFetch) Execute(ctx context.Context, args map[string]any) (string, error) {
	raw := ArgString(args, "url")
	if raw == "" {
		return "", fmt.Errorf("missing argument: url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	body, err := get(ctx, t.client, raw, fetchMaxBytes)
	if err != nil {
		return "", err
	}
	text := StripHTML(string(body))
	if len(text) > fetchMaxOutput {
		text = text[:fetchMaxOutput] + "\n... (truncated)"
	}
	return text, nil
}

func get(ctx context.Context, client *http.Client, rawURL string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}
	return io.ReadAll(io.LimitReader(resp.Body, limit))
}

// StripHTML drops tags and blank lines from an HTML document.
func StripHTML(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	var lines []string
	for _, line := range strings.Split(b.String(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

var startTime = time.Now()

type systemInfo struct{}

func (systemInfo) Name() string               { return "system_info" }
func (systemInfo) Description() string        { return "Report host and runtime details of the agent process." }
func (systemInfo) Parameters() map[string]any { return Parameters(nil, nil) }

func (systemInfo) Execute(ctx context.Context, _ map[string]any) (string, error) {
	host, _ := os.Hostname()
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	lines := []string{
		"Hostname: " + host,
		fmt.Sprintf("OS: %s/%s", runtime.GOOS, runtime.GOARCH),
		fmt.Sprintf("CPUs: %d", runtime.NumCPU()),
		fmt.Sprintf("Go: %s", runtime.Version()),
		fmt.Sprintf("Goroutines: %d", runtime.NumGoroutine()),
		fmt.Sprintf("Heap: %.1f MB", float64(mem.HeapAlloc)/1024/1024),
		fmt.Sprintf("Uptime: %s", time.Since(startTime).Round(time.Second)),
	}
	return strings.Join(lines, "\n"), nil
}

type clock struct{}

func (clock) Name() string        { return "clock" }
func (clock) Description() string { return "Current date and time, optionally in an IANA time zone." }
func (clock) Parameters() map[string]any {
	return Parameters(map[string]Param{
		"zone": {Type: "string", Description: "IANA zone such as Europe/Paris"},
	}, nil)
}

func (clock) Execute(_ context.Context, args map[string]any) (string, error) {
	now := time.Now()
	if zone := ArgString(args, "zone"); zone != "" {
		loc, err := time.LoadLocation(zone)
		if err != nil {
			return "", fmt.Errorf("unknown zone %q: %w", zone, err)
		}
		now = now.In(loc)
	}
	return now.Format(time.RFC1123), nil
}
