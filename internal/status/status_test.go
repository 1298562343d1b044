package status

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"persona/internal/agent"
	"persona/internal/channel"
	"persona/internal/domain"
	"persona/internal/memory"
	"persona/internal/provider"
	"persona/internal/supervisor"
)

type fakeSupervisor struct{}

func (fakeSupervisor) State() supervisor.State { return supervisor.Running }
func (fakeSupervisor) Connects() int           { return 2 }

func newServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := memory.Open(filepath.Join(t.TempDir(), "memory.db"), logger)
	require.NoError(t, err)
	a, err := agent.New(agent.Config{
		Name:      "Ada",
		Transport: channel.NewMemory(domain.Identity{ID: "bot"}, domain.Identity{ID: "owner"}),
		Generator: provider.Echo{},
		Store:     store,
		Logger:    logger,
	})
	require.NoError(t, err)
	a.AddExamples("owner: hi\nAda: hello")
	t.Cleanup(func() {
		a.Shutdown()
		_ = store.Close()
	})
	return New(Config{Version: "0.1.0", Agent: a, Supervisor: fakeSupervisor{}, Logger: logger})
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(newServer(t).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestStatusReportsAgent(t *testing.T) {
	srv := httptest.NewServer(newServer(t).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "Ada", got["agent"])
	assert.Equal(t, "running", got["state"])
	assert.Equal(t, "memory", got["transport"])
	assert.EqualValues(t, 2, got["connects"])
	assert.EqualValues(t, 1, got["examples"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := httptest.NewServer(newServer(t).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "persona_events_received_total")
}

func TestUnknownRoute(t *testing.T) {
	rec := httptest.NewRecorder()
	newServer(t).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
