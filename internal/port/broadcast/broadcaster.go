// Package broadcast defines the port for publishing generation progress events.
package broadcast

import "context"

// Event types published during a generate or chat call.
const (
	EventStage         = "pipeline.stage"
	EventDone          = "pipeline.done"
	EventFailed        = "pipeline.failed"
	EventFallback      = "router.fallback"
	EventClarification = "clarify.resolved"
)

// Broadcaster publishes events to interested listeners. Delivery is best effort.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// StageEvent is the payload of EventStage.
type StageEvent struct {
	SessionID string  `json:"session_id"`
	RunID     string  `json:"run_id"`
	Stage     string  `json:"stage"`
	Iteration int     `json:"iteration"`
	Composite float64 `json:"composite,omitempty"`
}

// FallbackEvent is the payload of EventFallback.
type FallbackEvent struct {
	Provider string `json:"provider"`
	Kind     string `json:"kind"`
	Next     string `json:"next,omitempty"`
}

// DoneEvent is the payload of EventDone and EventFailed.
type DoneEvent struct {
	SessionID  string  `json:"session_id"`
	RunID      string  `json:"run_id"`
	Provider   string  `json:"provider,omitempty"`
	Composite  float64 `json:"composite,omitempty"`
	Iterations int     `json:"iterations"`
	Status     string  `json:"status"`
	Error      string  `json:"error,omitempty"`
}

// ClarificationEvent is the payload of EventClarification.
type ClarificationEvent struct {
	SessionID  string  `json:"session_id"`
	Question   string  `json:"question"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence,omitempty"`
}
