package errors

// ErrorCode identifies a class of failure.
type ErrorCode string

const (
	// ErrCodeConnection: the store was unreachable or the connection dropped.
	ErrCodeConnection ErrorCode = "CONNECTION"

	ErrCodeCanceled      ErrorCode = "CANCELED"
	ErrCodeUnroutable    ErrorCode = "UNROUTABLE"
	ErrCodeHandlerFailed ErrorCode = "HANDLER_FAILED"
	ErrCodeInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrCodeCodec         ErrorCode = "CODEC"

	ErrCodeInternal ErrorCode = "INTERNAL"
	ErrCodePanic    ErrorCode = "PANIC"
)

func (c ErrorCode) String() string {
	return string(c)
}

// Category groups codes by what a caller can do about them.
type Category string

const (
	CategoryTransient Category = "transient"
	CategoryPermanent Category = "permanent"
	CategoryInternal  Category = "internal"
)

// Category returns the category of c. Unknown codes are internal.
func (c ErrorCode) Category() Category {
	switch c {
	case ErrCodeConnection:
		return CategoryTransient
	case ErrCodeCanceled, ErrCodeUnroutable, ErrCodeHandlerFailed, ErrCodeInvalidInput, ErrCodeCodec:
		return CategoryPermanent
	default:
		return CategoryInternal
	}
}

// Transient reports whether a later attempt at the same call may succeed.
func (c ErrorCode) Transient() bool {
	return c.Category() == CategoryTransient
}
