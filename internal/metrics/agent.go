package metrics

// Stage names a step of the reply pipeline in failure counts.
type Stage string

const (
	StagePlaceholder Stage = "placeholder"
	StageTransform   Stage = "transform"
	StageGenerate    Stage = "generate"
	StageDeliver     Stage = "deliver"
	StagePersist     Stage = "persist"
)

// Agent holds the metrics the orchestrator and supervisor update.
type Agent struct {
	c *Collector

	EventsReceived   *Counter
	EventsAdmitted   *Counter
	RepliesDelivered *Counter
	FeedbackRecorded *Counter
	TasksDropped     *Counter
	TaskPanics       *Counter
	Connects         *Counter
	Timeouts         *Counter
	TasksInFlight    *Gauge
	Documents        *Gauge

	GenerationLatency *Histogram
	ReplyLatency      *Histogram
}

func NewAgent(c *Collector) *Agent {
	latency := []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60}
	return &Agent{
		c:                 c,
		EventsReceived:    c.Counter("events_received_total", "Inbound events seen by the agent", ""),
		EventsAdmitted:    c.Counter("events_admitted_total", "Inbound events accepted by the activator", ""),
		RepliesDelivered:  c.Counter("replies_delivered_total", "Replies edited into their placeholder", ""),
		FeedbackRecorded:  c.Counter("feedback_recorded_total", "Confirmed replies recorded as examples", ""),
		TasksDropped:      c.Counter("tasks_dropped_total", "Reply tasks dropped because the queue was full", ""),
		TaskPanics:        c.Counter("task_panics_total", "Reply tasks that panicked", ""),
		Connects:          c.Counter("connects_total", "Transport connections opened", ""),
		Timeouts:          c.Counter("session_timeouts_total", "Sessions ended by the session timeout", ""),
		TasksInFlight:     c.Gauge("tasks_in_flight", "Reply tasks queued or running", ""),
		Documents:         c.Gauge("documents", "Documents in the knowledge collection", ""),
		GenerationLatency: c.Histogram("generation_latency_seconds", "Generation latency in seconds", "", latency),
		ReplyLatency:      c.Histogram("reply_latency_seconds", "Time from event to delivered reply in seconds", "", latency),
	}
}

// ReplyFailed counts a reply that stopped at stage.
func (a *Agent) ReplyFailed(stage Stage) {
	a.c.Counter("replies_failed_total", "Replies that failed, by pipeline stage", `stage="`+string(stage)+`"`).Inc()
}

// RepliesFailed returns the failure count for stage.
func (a *Agent) RepliesFailed(stage Stage) int64 {
	return a.c.Counter("replies_failed_total", "Replies that failed, by pipeline stage", `stage="`+string(stage)+`"`).Value()
}

func (a *Agent) Collector() *Collector { return a.c }
