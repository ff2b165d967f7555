package staging

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the store.
var (
	// ErrNotFound covers unknown, expired, swept and released keys alike.
	ErrNotFound = errors.New("staging: key not found")

	// ErrInvalidLifetime is returned by Allocate for a non-positive lifetime.
	ErrInvalidLifetime = errors.New("staging: lifetime must be positive")

	// ErrLocked means another process holds the staging root.
	ErrLocked = errors.New("staging: root is locked by another process")

	// ErrClosed is returned for mutations after Close.
	ErrClosed = errors.New("staging: store closed")
)

// StoreIOError reports an index or filesystem failure during a store
// operation.
type StoreIOError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreIOError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("staging %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("staging %s %s: %v", e.Op, shortKey(e.Key), e.Err)
}

func (e *StoreIOError) Unwrap() error {
	return e.Err
}

// shortKey keeps full keys, which are capabilities, out of logs and errors.
func shortKey(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8] + "…"
}
