// Package status serves the agent's health, status and metrics over HTTP.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"persona/internal/activator"
	"persona/internal/agent"
	"persona/internal/supervisor"
)

// Supervisor is the part of the run supervisor the status page reads.
type Supervisor interface {
	State() supervisor.State
	Connects() int
}

type Config struct {
	Addr       string
	Version    string
	Agent      *agent.Agent
	Supervisor Supervisor
	Logger     *slog.Logger
}

type Server struct {
	cfg     Config
	logger  *slog.Logger
	started time.Time
	router  *chi.Mux
}

// Snapshot is the body of GET /status.
type Snapshot struct {
	Agent     string           `json:"agent"`
	Version   string           `json:"version"`
	Transport string           `json:"transport"`
	State     supervisor.State `json:"state"`
	Connects  int              `json:"connects"`
	Documents int              `json:"documents"`
	Chunks    int              `json:"chunks"`
	Abilities []string         `json:"abilities"`
	Examples  int              `json:"examples"`
	Admission activator.Stats  `json:"admission"`
	Tasks     []agent.Task     `json:"tasks"`
	Uptime    string           `json:"uptime"`
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: cfg.Logger, started: time.Now()}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.health)
	r.Get("/status", s.status)
	r.Get("/metrics", cfg.Agent.Metrics().Collector().Handler())
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("status server listening", "addr", s.cfg.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) Snapshot() Snapshot {
	a := s.cfg.Agent
	snap := Snapshot{
		Agent:     a.Name(),
		Version:   s.cfg.Version,
		Transport: a.Transport().Name(),
		Documents: a.Collection().Len(),
		Chunks:    a.Collection().Chunks(),
		Abilities: a.Abilities().Names(),
		Examples:  a.Examples().Len(),
		Admission: a.Activator().Stats(),
		Tasks:     a.Tasks().Active(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	}
	if s.cfg.Supervisor != nil {
		snap.State = s.cfg.Supervisor.State()
		snap.Connects = s.cfg.Supervisor.Connects()
	}
	return snap
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Snapshot()); err != nil {
		s.logger.Warn("status encode failed", "err", err)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"took", time.Since(start))
	})
}
