package agent

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"persona/internal/metrics"
)

// TaskStatus is the lifecycle state of a queued task.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskRunning TaskStatus = "running"
)

// Task describes a task that is queued or running.
type Task struct {
	ID       uint64     `json:"id"`
	Name     string     `json:"name"`
	Status   TaskStatus `json:"status"`
	QueuedAt time.Time  `json:"queued_at"`
}

type queuedTask struct {
	id   uint64
	name string
	fn   func(ctx context.Context) error
}

type TaskGroupConfig struct {
	Workers        int
	QueueSize      int
	EnqueueTimeout time.Duration
	Logger         *slog.Logger
	Metrics        *metrics.Agent
}

// TaskGroup runs reply tasks on a fixed pool of workers fed by a bounded
// queue. Tasks run on the group's own context, which is cancelled only by
// Shutdown.
type TaskGroup struct {
	ctx     context.Context
	cancel  context.CancelFunc
	queue   chan queuedTask
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Agent

	workers sync.WaitGroup
	pending sync.WaitGroup

	// mu guards closed and is read-held while a task is being queued.
	mu     sync.RWMutex
	closed bool

	tasksMu sync.Mutex
	nextID  uint64
	tasks   map[uint64]*Task
}

func NewTaskGroup(cfg TaskGroupConfig) *TaskGroup {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewAgent(metrics.NewCollector("persona"))
	}
	ctx, cancel := context.WithCancel(context.Background())
	g := &TaskGroup{
		ctx:     ctx,
		cancel:  cancel,
		queue:   make(chan queuedTask, cfg.QueueSize),
		timeout: cfg.EnqueueTimeout,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		tasks:   make(map[uint64]*Task),
	}
	g.workers.Add(cfg.Workers)
	for range cfg.Workers {
		go g.worker()
	}
	return g
}

// Go queues fn. When the queue is full it waits up to the enqueue timeout
// and then drops the task. It reports whether the task was queued.
func (g *TaskGroup) Go(name string, fn func(ctx context.Context) error) bool {
	// The read lock keeps Close from closing the queue under a send.
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		g.logger.Warn("task group closed, task dropped", "task", name)
		g.metrics.TasksDropped.Inc()
		return false
	}

	g.tasksMu.Lock()
	g.nextID++
	t := queuedTask{id: g.nextID, name: name, fn: fn}
	g.tasks[t.id] = &Task{ID: t.id, Name: name, Status: TaskPending, QueuedAt: time.Now()}
	g.tasksMu.Unlock()
	g.pending.Add(1)
	g.metrics.TasksInFlight.Inc()

	select {
	case g.queue <- t:
		return true
	default:
	}

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()
	select {
	case g.queue <- t:
		return true
	case <-timer.C:
		g.logger.Error("task queue full, task dropped", "task", name, "waited", g.timeout)
	case <-g.ctx.Done():
		g.logger.Warn("task group shutting down, task dropped", "task", name)
	}
	g.forget(t.id)
	return false
}

// forget undoes the bookkeeping of a task that never reached a worker.
func (g *TaskGroup) forget(id uint64) {
	g.metrics.TasksDropped.Inc()
	g.metrics.TasksInFlight.Dec()
	g.pending.Done()
	g.setStatus(id, "")
}

func (g *TaskGroup) worker() {
	defer g.workers.Done()
	for t := range g.queue {
		g.run(t)
	}
}

func (g *TaskGroup) run(t queuedTask) {
	defer g.pending.Done()
	defer g.metrics.TasksInFlight.Dec()
	defer g.setStatus(t.id, "")
	defer func() {
		if r := recover(); r != nil {
			g.metrics.TaskPanics.Inc()
			g.logger.Error("task panicked", "task", t.name, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()

	g.setStatus(t.id, TaskRunning)
	if err := t.fn(g.ctx); err != nil {
		g.logger.Error("task failed", "task", t.name, "err", err)
	}
}

// setStatus updates a task; an empty status removes it.
func (g *TaskGroup) setStatus(id uint64, s TaskStatus) {
	g.tasksMu.Lock()
	defer g.tasksMu.Unlock()
	if s == "" {
		delete(g.tasks, id)
		return
	}
	if t, ok := g.tasks[id]; ok {
		t.Status = s
	}
}

// Active returns the queued and running tasks, oldest first.
func (g *TaskGroup) Active() []Task {
	g.tasksMu.Lock()
	out := make([]Task, 0, len(g.tasks))
	for _, t := range g.tasks {
		out = append(out, *t)
	}
	g.tasksMu.Unlock()
	slices.SortFunc(out, func(a, b Task) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Wait blocks until every queued task has finished.
func (g *TaskGroup) Wait() { g.pending.Wait() }

// Close stops accepting tasks, lets queued tasks finish and stops the
// workers.
func (g *TaskGroup) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		g.workers.Wait()
		return
	}
	g.closed = true
	close(g.queue)
	g.mu.Unlock()
	g.workers.Wait()
}

// Shutdown cancels running tasks and then closes the group.
func (g *TaskGroup) Shutdown() {
	g.cancel()
	g.Close()
}
