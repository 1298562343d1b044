package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"persona/internal/channel"
	"persona/internal/domain"
	"persona/internal/knowledge"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	sup      *Supervisor
	tr       *channel.Memory
	queue    *knowledge.Queue
	coll     *knowledge.Collection
	timeouts chan time.Time
	done     chan error
	cancel   context.CancelFunc
}

func start(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		tr:       channel.NewMemory(domain.Identity{ID: "bot"}, domain.Identity{ID: "owner"}),
		queue:    knowledge.NewQueue(logger),
		coll:     knowledge.NewCollection(),
		timeouts: make(chan time.Time),
		done:     make(chan error, 1),
	}
	cfg := Config{
		Transport:  h.tr,
		Queue:      h.queue,
		Collection: h.coll,
		Listeners: []Listener{
			{Name: "messages", Attach: func(t domain.Transport) func() { return t.OnMessage(func(domain.InboundEvent) {}) }},
			{Name: "reactions", Attach: func(t domain.Transport) func() { return t.OnReaction(func(domain.Reaction) {}) }},
		},
		After:  func(time.Duration) <-chan time.Time { return h.timeouts },
		Logger: logger,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.sup = New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.sup.Run(ctx) }()
	return h
}

func (h *harness) waitConnects(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.sup.Connects() == n && h.sup.State() == Running
	}, 2*time.Second, 5*time.Millisecond)
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	h.cancel()
	select {
	case err := <-h.done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}
}

func doc(id string) knowledge.LoadFunc {
	return func(context.Context) (domain.Document, error) {
		return domain.Document{ID: id, Source: id}, nil
	}
}

func TestTimeoutReconnectRegistersListenersExactlyOnce(t *testing.T) {
	h := start(t, nil)
	h.waitConnects(t, 1)

	h.timeouts <- time.Now()
	h.waitConnects(t, 2)
	h.timeouts <- time.Now()
	h.waitConnects(t, 3)

	messages, reactions := h.tr.Listeners()
	assert.Equal(t, 1, messages)
	assert.Equal(t, 1, reactions)

	opens, closes, clears := h.tr.Counts()
	assert.Equal(t, 3, opens)
	assert.Equal(t, 2, closes)
	assert.Equal(t, 2, clears)

	h.stop(t)
	assert.Equal(t, Stopped, h.sup.State())
	assert.Contains(t, h.sup.Transitions(), Timeout)
}

func TestTransitionHistoryIsBounded(t *testing.T) {
	h := start(t, nil)
	h.waitConnects(t, 1)
	for i := 2; i <= 40; i++ {
		h.timeouts <- time.Now()
		h.waitConnects(t, i)
	}
	h.stop(t)

	got := h.sup.Transitions()
	require.Len(t, got, maxTransitions)
	assert.Equal(t, Stopped, got[len(got)-1])
	assert.Contains(t, got, Timeout)
}

func TestDroppedSessionReconnects(t *testing.T) {
	h := start(t, nil)
	h.waitConnects(t, 1)

	h.tr.Drop()
	h.waitConnects(t, 2)
	assert.True(t, h.tr.Connected())
	assert.NotContains(t, h.sup.Transitions(), Timeout)

	h.stop(t)
}

func TestDocumentsLoadOnceAndCollectionFreezes(t *testing.T) {
	queue := knowledge.NewQueue(nil)
	queue.Push("a", doc("a"))
	queue.Push("b", doc("b"))
	h := start(t, func(c *Config) { c.Queue = queue })
	h.waitConnects(t, 1)

	assert.Equal(t, 2, h.coll.Len())
	assert.True(t, h.coll.Frozen())
	assert.Zero(t, queue.Len())

	// Documents pushed mid-session are picked up by the next connect.
	queue.Push("c", doc("c"))
	h.timeouts <- time.Now()
	h.waitConnects(t, 2)
	assert.Equal(t, 3, h.coll.Len())
	assert.True(t, h.coll.Frozen())

	h.stop(t)
}

func TestOpenFailureIsFatal(t *testing.T) {
	tr := channel.NewMemory(domain.Identity{ID: "bot"}, domain.Identity{})
	tr.FailOpen(errors.New("invalid token"))
	sup := New(Config{Transport: tr, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	err := sup.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid token")
	assert.Equal(t, Failed, sup.State())
	assert.Equal(t, []State{Connecting, Failed}, sup.Transitions())
}

func TestConnectedHookRunsOnEveryOpen(t *testing.T) {
	calls := make(chan struct{}, 4)
	h := start(t, func(c *Config) {
		c.Connected = func(context.Context) { calls <- struct{}{} }
	})
	h.waitConnects(t, 1)
	h.timeouts <- time.Now()
	h.waitConnects(t, 2)
	h.stop(t)
	assert.Len(t, calls, 2)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", Running.String())
	b, err := Timeout.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "timeout", string(b))
}
