package errors

import (
	"encoding/json"
	"fmt"
	"time"
)

// Error is a coded failure with the dispatch context it happened in.
type Error struct {
	Code    ErrorCode
	Message string

	// Worker is the identity of the worker that failed.
	Worker string

	// Kind is the task discriminator involved, if any.
	Kind string

	// Handler is the handler that failed, if any.
	Handler string

	At time.Time

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Transient reports whether retrying may succeed.
func (e *Error) Transient() bool {
	return e.Code.Transient()
}

// MarshalJSON renders the error for the admin API and event exporters.
func (e *Error) MarshalJSON() ([]byte, error) {
	out := struct {
		Code      ErrorCode `json:"code"`
		Category  Category  `json:"category"`
		Message   string    `json:"message"`
		Cause     string    `json:"cause,omitempty"`
		Worker    string    `json:"worker,omitempty"`
		Kind      string    `json:"task,omitempty"`
		Handler   string    `json:"handler,omitempty"`
		At        time.Time `json:"at"`
		Transient bool      `json:"transient"`
	}{
		Code:      e.Code,
		Category:  e.Code.Category(),
		Message:   e.Message,
		Worker:    e.Worker,
		Kind:      e.Kind,
		Handler:   e.Handler,
		At:        e.At,
		Transient: e.Transient(),
	}
	if e.cause != nil {
		out.Cause = e.cause.Error()
	}
	return json.Marshal(out)
}

// Option sets an optional Error field.
type Option func(*Error)

// WithCause sets the wrapped error.
func WithCause(cause error) Option {
	return func(e *Error) { e.cause = cause }
}

// WithWorker sets the worker identity.
func WithWorker(id string) Option {
	return func(e *Error) { e.Worker = id }
}

// WithKind sets the task discriminator.
func WithKind(kind string) Option {
	return func(e *Error) { e.Kind = kind }
}

// New creates an Error stamped with the current time.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{Code: code, Message: message, At: time.Now()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Connection reports an unreachable store.
func Connection(message string, opts ...Option) *Error {
	return New(ErrCodeConnection, message, opts...)
}

// InvalidInput reports a malformed argument.
func InvalidInput(message string, opts ...Option) *Error {
	return New(ErrCodeInvalidInput, message, opts...)
}

// Codec reports a value that could not be encoded or decoded.
func Codec(message string, opts ...Option) *Error {
	return New(ErrCodeCodec, message, opts...)
}

// Internal reports an unexpected failure.
func Internal(message string, opts ...Option) *Error {
	return New(ErrCodeInternal, message, opts...)
}

// Unroutable reports a task of the given kind that no handler accepts.
func Unroutable(kind string, opts ...Option) *Error {
	e := New(ErrCodeUnroutable, fmt.Sprintf("no handler accepts task %q", kind), opts...)
	e.Kind = kind
	return e
}

// HandlerFailed reports an error returned (or panicked) by a handler's Do.
func HandlerFailed(handler, kind string, cause error, opts ...Option) *Error {
	e := New(ErrCodeHandlerFailed, fmt.Sprintf("handler %s failed on task %q", handler, kind), opts...)
	e.Handler = handler
	e.Kind = kind
	e.cause = cause
	return e
}
