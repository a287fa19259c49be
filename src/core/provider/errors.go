// Package provider classifies failures of external collaborators.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Error marks a collaborator (index, embedding, reranker, LLM, web search,
// cache store) as unreachable or timed out.
type Error struct {
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Unavailable wraps err as a provider failure. A nil err stays nil.
func Unavailable(name string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Provider: name, Err: err}
}

// IsUnavailable reports whether err is, or wraps, a provider failure.
func IsUnavailable(err error) bool {
	var pe *Error
	return errors.As(err, &pe)
}

// Name returns the failing provider, or "" when err is not a provider failure.
func Name(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Provider
	}
	return ""
}

// IsTimeout reports whether err came from an exceeded deadline rather than a
// caller cancellation.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
