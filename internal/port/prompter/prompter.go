// Package prompter defines the port for asking a person a clarification question.
package prompter

import "context"

// Prompter asks a human and returns the typed answer. An empty answer means
// the person skipped the question.
type Prompter interface {
	Ask(ctx context.Context, question string) (string, error)
}
