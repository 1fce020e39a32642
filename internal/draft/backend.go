// Package draft persists in-progress questionnaire drafts locally so that
// answers survive restarts and connectivity loss.
package draft

import (
	"context"
	"errors"
)

// ErrStorageFull is returned by a Backend that has no room for a write.
var ErrStorageFull = errors.New("draft: storage full")

// Backend is a key-value store for serialized draft records. Implementations
// must be safe for concurrent use.
type Backend interface {
	// Get returns the value stored under key. found is false when the key
	// does not exist.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Put overwrites the value under key. It returns an error wrapping
	// ErrStorageFull when the backend is out of space.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists every key starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}
