package knowledge

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

type WatcherConfig struct {
	Dir      string
	Loader   *Loader
	Queue    *Queue
	Debounce time.Duration // default: 500ms
	Logger   *slog.Logger
}

// Watcher queues knowledge files that appear in a directory while the
// agent runs. They are loaded on the next connect.
type Watcher struct {
	cfg     WatcherConfig
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]time.Time
	queued  map[string]bool
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		cfg:     cfg,
		logger:  logger,
		watcher: w,
		pending: make(map[string]time.Time),
		queued:  make(map[string]bool),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start begins watching. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.cfg.Dir); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}
	w.logger.Info("watching knowledge directory", "dir", w.cfg.Dir)

	go w.run(ctx)
	return nil
}

// Stop ends the watch loop and waits for it.
func (w *Watcher) Stop() {
	w.mu.Lock()
	running := w.running
	w.running = false
	w.mu.Unlock()

	if running {
		close(w.stopCh)
		<-w.doneCh
	}
	if err := w.watcher.Close(); err != nil {
		w.logger.Warn("closing knowledge watcher", "err", err)
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := time.NewTicker(w.cfg.Debounce / 5)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.mu.Lock()
			w.pending[ev.Name] = time.Now()
			w.mu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("knowledge watcher", "err", err)
		case <-tick.C:
			w.flush()
		}
	}
}

// flush queues files whose last event is older than the debounce window.
func (w *Watcher) flush() {
	now := time.Now()
	var ready []string

	w.mu.Lock()
	for path, at := range w.pending {
		if now.Sub(at) >= w.cfg.Debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		path = filepath.Clean(path)
		if w.cfg.Loader.Dumped(path) {
			continue
		}
		w.mu.Lock()
		seen := w.queued[path]
		w.queued[path] = true
		w.mu.Unlock()
		if seen {
			continue
		}
		if w.cfg.Loader.Enqueue(path, w.cfg.Queue) {
			w.logger.Info("knowledge file queued", "file", path)
		}
	}
}
