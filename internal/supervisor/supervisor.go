// Package supervisor keeps the agent connected: it loads knowledge, opens
// the transport and reconnects when a session times out or drops.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"persona/internal/domain"
	"persona/internal/knowledge"
	"persona/internal/metrics"
)

type State int

const (
	Stopped State = iota
	Connecting
	Running
	Timeout
	Failed
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Connecting:
		return "connecting"
	case Running:
		return "running"
	case Timeout:
		return "timeout"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Listener attaches a callback to the transport. Listeners are attached
// once per process, keyed by name.
type Listener struct {
	Name   string
	Attach func(t domain.Transport) (remove func())
}

var errTransportClosed = errors.New("transport closed the session")

type Config struct {
	Transport  domain.Transport
	Queue      *knowledge.Queue
	Collection *knowledge.Collection
	Listeners  []Listener

	SessionTimeout      time.Duration
	DocumentConcurrency int

	// Connected runs after every successful Open.
	Connected func(ctx context.Context)
	// After replaces time.After in tests.
	After func(d time.Duration) <-chan time.Time

	Logger  *slog.Logger
	Metrics *metrics.Agent
}

type Supervisor struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Agent

	mu          sync.Mutex
	state       State
	transitions []State
	attached    map[string]func()
	connects    int
}

func New(cfg Config) *Supervisor {
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 300 * time.Second
	}
	if cfg.DocumentConcurrency <= 0 {
		cfg.DocumentConcurrency = 4
	}
	if cfg.After == nil {
		cfg.After = time.After
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Queue == nil {
		cfg.Queue = knowledge.NewQueue(cfg.Logger)
	}
	if cfg.Collection == nil {
		cfg.Collection = knowledge.NewCollection()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewAgent(metrics.NewCollector("persona"))
	}
	return &Supervisor{
		cfg:      cfg,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		attached: make(map[string]func()),
	}
}

// Run connects and reconnects until ctx is cancelled, which returns nil.
// Any failure other than a session timeout or a dropped session is
// returned.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		s.set(Connecting)
		if err := s.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return s.stop()
			}
			s.set(Failed)
			return fmt.Errorf("supervisor connect: %w", err)
		}
		s.set(Running)

		reason := s.wait(ctx)
		if ctx.Err() != nil {
			return s.stop()
		}
		if errors.Is(reason, domain.ErrSessionTimeout) {
			s.set(Timeout)
			s.metrics.Timeouts.Inc()
			s.logger.Info("session ended, reconnecting", "err", reason, "timeout", s.cfg.SessionTimeout)
		} else {
			s.logger.Warn("session dropped, reconnecting", "err", reason)
		}

		if err := s.cfg.Transport.Close(); err != nil {
			s.set(Failed)
			return fmt.Errorf("supervisor close: %w", err)
		}
		if err := s.cfg.Transport.ClearRegistrations(ctx); err != nil {
			if ctx.Err() != nil {
				return s.stop()
			}
			s.set(Failed)
			return fmt.Errorf("supervisor clear registrations: %w", err)
		}
	}
}

func (s *Supervisor) connect(ctx context.Context) error {
	if err := s.loadDocuments(ctx); err != nil {
		return err
	}
	s.attach()
	if err := s.cfg.Transport.Open(ctx); err != nil {
		return fmt.Errorf("open %s: %w", s.cfg.Transport.Name(), err)
	}
	s.mu.Lock()
	s.connects++
	n := s.connects
	s.mu.Unlock()
	s.metrics.Connects.Inc()
	s.logger.Info("transport connected", "transport", s.cfg.Transport.Name(), "connects", n)
	if s.cfg.Connected != nil {
		s.cfg.Connected(ctx)
	}
	return nil
}

// loadDocuments drains whatever was queued since the last connect into the
// collection and freezes it for the session.
func (s *Supervisor) loadDocuments(ctx context.Context) error {
	c := s.cfg.Collection
	c.Thaw()
	defer c.Freeze()
	if s.cfg.Queue.Len() == 0 {
		return nil
	}
	docs, err := s.cfg.Queue.Drain(ctx, s.cfg.DocumentConcurrency)
	if err != nil {
		return fmt.Errorf("load documents: %w", err)
	}
	if err := c.Extend(docs...); err != nil {
		return fmt.Errorf("load documents: %w", err)
	}
	s.metrics.Documents.Set(int64(c.Len()))
	return nil
}

func (s *Supervisor) attach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.cfg.Listeners {
		if _, ok := s.attached[l.Name]; ok {
			continue
		}
		s.attached[l.Name] = l.Attach(s.cfg.Transport)
		s.logger.Debug("listener attached", "listener", l.Name)
	}
}

func (s *Supervisor) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.cfg.Transport.Done():
		return errTransportClosed
	case <-s.cfg.After(s.cfg.SessionTimeout):
		return domain.ErrSessionTimeout
	}
}

func (s *Supervisor) stop() error {
	if err := s.cfg.Transport.Close(); err != nil {
		s.logger.Warn("transport close failed", "err", err)
	}
	s.set(Stopped)
	s.logger.Info("supervisor stopped")
	return nil
}

func (s *Supervisor) set(st State) {
	s.mu.Lock()
	s.state = st
	s.transitions = append(s.transitions, st)
	if n := len(s.transitions); n > maxTransitions {
		s.transitions = slices.Delete(s.transitions, 0, n-maxTransitions)
	}
	s.mu.Unlock()
	s.logger.Debug("supervisor state", "state", st.String())
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// maxTransitions bounds the history kept for Transitions.
const maxTransitions = 64

// Transitions returns the most recent states entered, oldest first.
func (s *Supervisor) Transitions() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.transitions)
}

func (s *Supervisor) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}
