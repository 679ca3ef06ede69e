// Package contextsource defines the narrow port to external context sources
// (indexed codebases and design mockups) used to answer clarification questions.
package contextsource

import (
	"context"

	"github.com/Strob0t/prdforge/internal/domain/clarify"
)

// Resolver queries external context. A nil *clarify.Response with a nil error
// means the source had nothing to say.
type Resolver interface {
	HasContext(ctx context.Context, requestID string) (clarify.Availability, error)
	QueryCodebaseContext(ctx context.Context, projectID, question, searchQuery string) (*clarify.Response, error)
	QueryMockupContext(ctx context.Context, requestID, featureQuery string) (*clarify.Response, error)
}
