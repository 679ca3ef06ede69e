// Package audit defines the port for recording generation outcomes.
package audit

import (
	"context"
	"time"

	"github.com/Strob0t/prdforge/internal/domain/clarify"
	"github.com/Strob0t/prdforge/internal/domain/generation"
)

// Record is one finished generate call.
type Record struct {
	RunID          string
	SessionID      string
	RequestID      string
	ProjectID      string
	Provider       string
	Composite      float64
	Iterations     int
	Status         generation.Status
	Clarifications []clarify.Answer // in the order the questions were resolved
	FinishedAt     time.Time
}

// Sink persists audit records.
type Sink interface {
	RecordGeneration(ctx context.Context, rec Record) error
}
