package store

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	ErrClosed      = errors.New("store closed")
	ErrInvalidKey  = errors.New("invalid key")
	ErrInvalidTTL  = errors.New("invalid TTL")
	ErrNoValues    = errors.New("at least one value required")
	ErrNoIdentity  = errors.New("worker identity required")
	ErrUnavailable = errors.New("store unavailable")
	ErrScopeEnded  = errors.New("connection scope already released")
)

// Backend is the store protocol the coordination layer is built on.
// Every method is a single indivisible store-side operation.
// Missing keys are not errors: Get, SRandMember and RPopLPush return nil.
type Backend interface {
	// SetNX sets key to value with the given expiry only if key is absent.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Get returns the value stored at key, or nil.
	Get(ctx context.Context, key string) ([]byte, error)

	// SAdd adds members to a set and returns how many were new.
	SAdd(ctx context.Context, key string, members ...[]byte) (int64, error)

	// SRandMember returns an arbitrary member, or nil if the set is empty.
	SRandMember(ctx context.Context, key string) ([]byte, error)

	// SRem removes a member and returns 1 if it was present.
	SRem(ctx context.Context, key string, member []byte) (int64, error)

	// SCard returns the set cardinality.
	SCard(ctx context.Context, key string) (int64, error)

	// LPush prepends values in order and returns the new length.
	LPush(ctx context.Context, key string, values ...[]byte) (int64, error)

	// RPopLPush moves the tail of src to the head of dst and returns it,
	// or nil if src is empty.
	RPopLPush(ctx context.Context, src, dst string) ([]byte, error)

	// LRem removes up to count occurrences of value (from the head when
	// count > 0) and returns how many were removed.
	LRem(ctx context.Context, key string, count int64, value []byte) (int64, error)

	// LLen returns the list length.
	LLen(ctx context.Context, key string) (int64, error)

	// Close releases the underlying connection.
	Close() error
}

// Dialer opens a new Backend connection.
type Dialer func(ctx context.Context) (Backend, error)

// ValidateKey checks if a key is valid.
func ValidateKey(key string) error {
	if key == "" || len(key) > 1024 {
		return ErrInvalidKey
	}
	return nil
}

// InFlightKey returns the name of a worker's private in-flight list for queue.
func InFlightKey(queue, identity string) string {
	return queue + "_" + identity
}
