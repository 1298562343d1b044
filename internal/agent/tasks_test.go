package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"persona/internal/metrics"
)

func newTestGroup(t *testing.T, cfg TaskGroupConfig) (*TaskGroup, *metrics.Agent) {
	t.Helper()
	m := metrics.NewAgent(metrics.NewCollector("test"))
	cfg.Metrics = m
	cfg.Logger = testLogger()
	g := NewTaskGroup(cfg)
	t.Cleanup(g.Shutdown)
	return g, m
}

func TestTaskGroupRunsTasks(t *testing.T) {
	g, m := newTestGroup(t, TaskGroupConfig{Workers: 3, QueueSize: 4})
	var n atomic.Int32
	for range 10 {
		require.True(t, g.Go("count", func(context.Context) error {
			n.Add(1)
			return nil
		}))
	}
	g.Wait()
	assert.EqualValues(t, 10, n.Load())
	assert.Zero(t, m.TasksInFlight.Value())
	assert.Empty(t, g.Active())
}

func TestTaskGroupRecoversPanics(t *testing.T) {
	g, m := newTestGroup(t, TaskGroupConfig{Workers: 1, QueueSize: 1})
	g.Go("panics", func(context.Context) error { panic("boom") })
	g.Go("fails", func(context.Context) error { return errors.New("nope") })
	ran := make(chan struct{})
	g.Go("after", func(context.Context) error {
		close(ran)
		return nil
	})
	g.Wait()
	<-ran
	assert.EqualValues(t, 1, m.TaskPanics.Value())
}

func TestTaskGroupDropsWhenQueueStaysFull(t *testing.T) {
	g, m := newTestGroup(t, TaskGroupConfig{Workers: 1, QueueSize: 1, EnqueueTimeout: 20 * time.Millisecond})
	release := make(chan struct{})
	started := make(chan struct{})
	block := func(context.Context) error {
		<-release
		return nil
	}

	require.True(t, g.Go("running", func(ctx context.Context) error {
		close(started)
		return block(ctx)
	}))
	<-started
	require.True(t, g.Go("queued", block))

	begin := time.Now()
	assert.False(t, g.Go("dropped", block))
	assert.GreaterOrEqual(t, time.Since(begin), 20*time.Millisecond)
	assert.EqualValues(t, 1, m.TasksDropped.Value())

	active := g.Active()
	require.Len(t, active, 2)
	assert.Equal(t, "running", active[0].Name)
	assert.Equal(t, TaskRunning, active[0].Status)
	assert.Equal(t, TaskPending, active[1].Status)

	close(release)
	g.Wait()
	assert.Zero(t, m.TasksInFlight.Value())
}

func TestTaskGroupClosedRejects(t *testing.T) {
	g, m := newTestGroup(t, TaskGroupConfig{Workers: 1})
	g.Close()
	assert.False(t, g.Go("late", func(context.Context) error { return nil }))
	assert.EqualValues(t, 1, m.TasksDropped.Value())
}

func TestTaskGroupShutdownCancelsRunningTasks(t *testing.T) {
	m := metrics.NewAgent(metrics.NewCollector("test"))
	g := NewTaskGroup(TaskGroupConfig{Workers: 1, Metrics: m, Logger: testLogger()})
	started := make(chan struct{})
	var cancelled atomic.Bool
	g.Go("long", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})
	<-started
	g.Shutdown()
	assert.True(t, cancelled.Load())
}
