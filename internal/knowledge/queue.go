package knowledge

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"persona/internal/domain"
)

// LoadFunc produces one document.
type LoadFunc func(ctx context.Context) (domain.Document, error)

type pending struct {
	name string
	load LoadFunc
}

// Queue holds document loads that have not run yet.
type Queue struct {
	mu     sync.Mutex
	items  []pending
	logger *slog.Logger
}

func NewQueue(logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{logger: logger}
}

// Push adds a load. name identifies it in logs.
func (q *Queue) Push(name string, load LoadFunc) {
	q.mu.Lock()
	q.items = append(q.items, pending{name: name, load: load})
	q.mu.Unlock()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain runs every queued load with at most concurrency in flight and
// returns the loaded documents in push order. The queue is emptied before
// any load starts. A failed load is logged and skipped; only context
// cancellation fails the drain.
func (q *Queue) Drain(ctx context.Context, concurrency int) ([]domain.Document, error) {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()

	if len(items) == 0 {
		return nil, nil
	}
	if concurrency <= 0 {
		concurrency = 4
	}

	results := make([]*domain.Document, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, it := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			doc, err := it.load(gctx)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				q.logger.Warn("document load failed", "source", it.name, "err", err)
				return nil
			}
			results[i] = &doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	docs := make([]domain.Document, 0, len(results))
	for _, d := range results {
		if d != nil {
			docs = append(docs, *d)
		}
	}
	q.logger.Info("documents loaded", "queued", len(items), "loaded", len(docs))
	return docs, nil
}
