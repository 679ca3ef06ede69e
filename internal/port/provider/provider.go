// Package provider defines the port for AI execution targets.
package provider

import (
	"context"

	"github.com/Strob0t/prdforge/internal/domain/conversation"
	domain "github.com/Strob0t/prdforge/internal/domain/provider"
)

// Provider executes a conversation against one execution target.
type Provider interface {
	// Candidate describes this target for routing.
	Candidate() domain.Candidate

	// Generate returns the assistant text for conv. When jsonRequested is set the
	// target is asked for a JSON object. Failures should be *domain.Error values;
	// other errors are classified by the router.
	Generate(ctx context.Context, conv []conversation.Message, jsonRequested bool) (string, error)
}
