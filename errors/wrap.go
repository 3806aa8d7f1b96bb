package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap adds message to err. A coded error keeps its code and context
// fields; context errors become CANCELED; anything else becomes INTERNAL.
// Wrap(nil, ...) is nil.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	code := ErrCodeInternal
	var inner *Error
	switch {
	case errors.As(err, &inner):
		code = inner.Code
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = ErrCodeCanceled
	}

	e := New(code, message, WithCause(err))
	if inner != nil {
		e.Worker, e.Kind, e.Handler = inner.Worker, inner.Kind, inner.Handler
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// As returns the outermost *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Code returns the code of the outermost *Error in err's chain, or "".
func Code(err error) ErrorCode {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && Code(err) == code
}

// IsConnection reports whether err is a store connection failure.
func IsConnection(err error) bool {
	return Is(err, ErrCodeConnection)
}

// IsCanceled reports whether err stems from cooperative cancellation, either
// as a CANCELED code or a bare context error anywhere in the chain.
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	return Is(err, ErrCodeCanceled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsTransient reports whether err is coded and transient.
func IsTransient(err error) bool {
	e, ok := As(err)
	return ok && e.Transient()
}

// RecoverPanic converts a recovered panic value into a PANIC error.
func RecoverPanic(recovered any) *Error {
	if recovered == nil {
		return nil
	}
	if err, ok := recovered.(error); ok {
		return New(ErrCodePanic, "panic", WithCause(err))
	}
	return New(ErrCodePanic, fmt.Sprintf("panic: %v", recovered))
}
