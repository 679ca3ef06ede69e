package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a single provider failure.
type ErrorKind string

const (
	ErrKindNotConfigured   ErrorKind = "not_configured"
	ErrKindNetwork         ErrorKind = "network"
	ErrKindRateLimit       ErrorKind = "rate_limit"
	ErrKindInvalidResponse ErrorKind = "invalid_response"
	ErrKindTimeout         ErrorKind = "timeout"
	ErrKindCancelled       ErrorKind = "cancelled"
	ErrKindUnavailable     ErrorKind = "unavailable"
)

var (
	// ErrProviderUnavailable marks a candidate that cannot take calls right now
	// (capability missing or circuit open).
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrAllProvidersExhausted is matched by *ExhaustedError.
	ErrAllProvidersExhausted = errors.New("all providers failed")
)

// Error is one candidate's failure.
type Error struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("provider %s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrProviderUnavailable) match unavailable and not-configured failures.
func (e *Error) Is(target error) bool {
	return target == ErrProviderUnavailable &&
		(e.Kind == ErrKindUnavailable || e.Kind == ErrKindNotConfigured)
}

// NewError wraps err as a provider failure of the given kind.
func NewError(name string, kind ErrorKind, err error) *Error {
	return &Error{Provider: name, Kind: kind, Err: err}
}

// Classify maps an arbitrary failure to a provider error. Errors that are
// already *Error keep their kind; context errors map to timeout or cancelled;
// everything else is treated as a network failure.
func Classify(name string, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		if pe.Provider == "" {
			pe.Provider = name
		}
		return pe
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(name, ErrKindTimeout, err)
	case errors.Is(err, context.Canceled):
		return NewError(name, ErrKindCancelled, err)
	case errors.Is(err, ErrProviderUnavailable):
		return NewError(name, ErrKindUnavailable, err)
	}
	return NewError(name, ErrKindNetwork, err)
}

// Attempt records one candidate tried during a route traversal.
type Attempt struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

// ExhaustedError is the single aggregate failure returned when every candidate failed.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return "all providers failed: no candidates in route"
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s (%s)", a.Provider, a.Kind)
	}
	return "all providers failed: " + strings.Join(parts, ", ")
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrAllProvidersExhausted }
