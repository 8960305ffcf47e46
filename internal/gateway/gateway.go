// Package gateway defines the capability interface for the remote
// translation call, the failure taxonomy the engine retries against, and
// the retry policy applied around every call. Provider adapters (OpenAI,
// Ollama, Google Cloud Translation) live in this package; the scheduler
// holds no provider-specific knowledge.
package gateway

import (
	"context"
	"errors"
	"fmt"
)

// Request carries one fragment to the remote translator. Instructions
// are user-supplied translation directives plus any markup-preservation
// hints added by the scheduler.
type Request struct {
	Text         string
	TargetLang   string
	Instructions string
}

// Gateway is the sole network-facing boundary of the engine.
type Gateway interface {
	Name() string
	Translate(ctx context.Context, req Request) (string, error)
}

// Class partitions remote failures by how the engine must react.
type Class int

const (
	// Transient failures (network errors, server 5xx, timeouts) are
	// retried with backoff.
	Transient Class = iota
	// RateLimited failures (HTTP 429) are retried with backoff.
	RateLimited
	// Malformed failures (empty or unparsable responses) are retried
	// like Transient but counted separately for diagnostics.
	Malformed
	// Fatal failures (bad credentials, invalid configuration) abort
	// the entire run immediately.
	Fatal
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	case Malformed:
		return "malformed"
	case Fatal:
		return "fatal"
	}
	return "unknown"
}

// Error is a classified remote-call failure.
type Error struct {
	Class   Class
	Service string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Service, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a class and the originating service name.
func NewError(class Class, service string, err error) *Error {
	return &Error{Class: class, Service: service, Err: err}
}

// Errorf is NewError with fmt-style message construction.
func Errorf(class Class, service, format string, args ...any) *Error {
	return &Error{Class: class, Service: service, Err: fmt.Errorf(format, args...)}
}

// ClassOf extracts the failure class from err. Unclassified errors and
// exceeded call deadlines count as Transient; Fatal never comes from
// plain errors.
func ClassOf(err error) Class {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Class
	}
	return Transient
}

// classFromStatus maps an HTTP status code from a provider to a failure
// class. Shared by the HTTP-speaking adapters.
func classFromStatus(status int) Class {
	switch {
	case status == 401 || status == 403:
		return Fatal
	case status == 429:
		return RateLimited
	default:
		return Transient
	}
}
