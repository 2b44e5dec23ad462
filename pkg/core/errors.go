package core

import (
	"errors"
	"fmt"
)

// Error is the platform error carried across the session boundary.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Adapter string    `json:"adapter,omitempty"`
	wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Adapter != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Adapter, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ErrorKind categorizes errors.
type ErrorKind string

const (
	// ErrConfiguration means the agent configuration is absent or malformed.
	// Fatal to session open.
	ErrConfiguration ErrorKind = "configuration_error"

	// ErrAdapter means an STT/TTS/LLM backend call failed. Recoverable:
	// the session reports it and continues.
	ErrAdapter ErrorKind = "adapter_error"

	// ErrTransport means the client connection is gone. Fatal to the session.
	ErrTransport ErrorKind = "transport_error"

	// ErrTimeout means the silence timeout elapsed. The session ends
	// gracefully; this is not a failure.
	ErrTimeout ErrorKind = "timeout_error"

	// ErrCanceled marks work abandoned by a barge-in. Never surfaced to
	// the client.
	ErrCanceled ErrorKind = "canceled"
)

// NewConfigurationError creates a configuration error.
func NewConfigurationError(message string) *Error {
	return &Error{Kind: ErrConfiguration, Message: message}
}

// NewAdapterError wraps a backend failure from the named adapter.
func NewAdapterError(adapter string, underlying error) *Error {
	msg := "backend call failed"
	if underlying != nil {
		msg = underlying.Error()
	}
	return &Error{Kind: ErrAdapter, Adapter: adapter, Message: msg, wrapped: underlying}
}

// NewTransportError wraps a connection-level failure.
func NewTransportError(underlying error) *Error {
	msg := "connection failed"
	if underlying != nil {
		msg = underlying.Error()
	}
	return &Error{Kind: ErrTransport, Message: msg, wrapped: underlying}
}

// NewTimeoutError creates a silence-timeout error.
func NewTimeoutError(message string) *Error {
	return &Error{Kind: ErrTimeout, Message: message}
}

// Recoverable reports whether the session should continue after this error.
func (e *Error) Recoverable() bool {
	return e.Kind == ErrAdapter
}

// ClientMessage returns the human-readable text sent to the client.
// Internal detail (upstream status lines, request IDs) stays server-side.
func (e *Error) ClientMessage() string {
	switch e.Kind {
	case ErrConfiguration:
		return "agent configuration is invalid"
	case ErrAdapter:
		return "a backend service failed; please try again"
	case ErrTimeout:
		return e.Message
	default:
		return "session error"
	}
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.wrapped
}

// KindOf extracts the ErrorKind from any error, defaulting to ErrAdapter
// for untyped failures crossing an adapter boundary.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrAdapter
}
