// Package errors defines the coded errors shared by the store, the
// dispatcher and handlers.
//
// Codes fall into three categories:
//
//   - transient: CONNECTION, the store was unreachable
//   - permanent: CANCELED, UNROUTABLE, HANDLER_FAILED, INVALID_INPUT, CODEC
//   - internal: INTERNAL, PANIC
//
// Nothing retries automatically. Transient only tells a caller whether a
// later attempt could succeed.
//
// # Usage
//
//	err := errors.Connection("dial redis", errors.WithCause(dialErr))
//
//	if errors.IsConnection(err) {
//	    // drop the connection and dial again next time
//	}
//
// Errors marshal to JSON for the admin API and event exporters.
package errors
