package sagaflow

import "time"

// EventType identifies a lifecycle event of an execution.
type EventType string

const (
	EventStarted       EventType = "started"
	EventStepCompleted EventType = "step_completed"
	EventStepFailed    EventType = "step_failed"
	EventCompensated   EventType = "compensated"
	EventCommitted     EventType = "committed"
	EventAborted       EventType = "aborted"
	EventFailed        EventType = "failed"
)

// Event is an outbound lifecycle notification. Events flow through a
// buffered channel consumed by a single monitoring goroutine, so a sink
// never re-enters the orchestrator's state synchronously; when the buffer is
// full events are dropped with a warning rather than stalling the drive
// loop.
type Event struct {
	Type        EventType      `json:"type"`
	ExecutionID string         `json:"execution_id"`
	SagaID      string         `json:"saga_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// EventSink consumes lifecycle events for external monitoring. HandleEvent
// is called from a single goroutine; a slow sink delays delivery but never
// the sagas themselves.
type EventSink interface {
	HandleEvent(event Event)
}
