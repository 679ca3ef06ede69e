// Package generation defines the request, stage and result types of the
// document generation pipeline.
package generation

import (
	"errors"
	"strings"

	"github.com/Strob0t/prdforge/internal/domain/clarify"
	"github.com/Strob0t/prdforge/internal/domain/quality"
	"github.com/Strob0t/prdforge/internal/domain/validation"
)

// Pipeline defaults. They are overridable through configuration.
const (
	DefaultTargetScore   = 85.0
	DefaultMaxIterations = 3
)

// Priority of a request.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ErrFeatureRequired is returned for a request without feature text.
var ErrFeatureRequired = errors.New("feature text is required")

// Request is a natural-language feature request.
type Request struct {
	Feature      string   `json:"feature"`
	Context      string   `json:"context,omitempty"`
	Priority     Priority `json:"priority,omitempty"`
	Requirements []string `json:"requirements,omitempty"`
	ProjectID    string   `json:"project_id,omitempty"`
	RequestID    string   `json:"request_id,omitempty"`
}

// Validate checks the request and fills in defaults.
func (r *Request) Validate() error {
	r.Feature = strings.TrimSpace(r.Feature)
	if r.Feature == "" {
		return ErrFeatureRequired
	}
	if r.Priority == "" {
		r.Priority = PriorityMedium
	}
	return nil
}

// Scope classifies the request.
func (r Request) Scope() validation.Scope {
	return validation.DetectScope(r.Feature, r.Context, r.Requirements)
}

// Stage is a pipeline state.
type Stage string

const (
	StageResearch Stage = "research"
	StagePlan     Stage = "plan"
	StageDraft    Stage = "draft"
	StageCritique Stage = "critique"
	StageRefine   Stage = "refine"
	StageDone     Stage = "done"
	StageFailed   Stage = "failed"
)

// Status of a finished run.
type Status string

const (
	StatusTargetMet   Status = "target_met"
	StatusBelowTarget Status = "below_target"
)

// Result is the outcome of a successful generate call.
type Result struct {
	Document       string            `json:"document"`
	Provider       string            `json:"provider"`
	Quality        quality.Score     `json:"quality"`
	Validation     validation.Report `json:"validation"`
	Iterations     int               `json:"iterations"`
	Status         Status            `json:"status"`
	Clarifications []clarify.Answer  `json:"clarifications,omitempty"`
	Domain         Domain            `json:"domain"`
}

// BelowTarget reports whether the document was returned without meeting the target score.
func (r Result) BelowTarget() bool { return r.Status == StatusBelowTarget }
