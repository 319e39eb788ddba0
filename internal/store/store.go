// Package store persists the mapping between backend message keys and
// the short numeric ids shown to users.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when an id has no mapped key.
var ErrNotFound = errors.New("id not found")

// IDMapper assigns stable short ids to backend keys, per mailbox.
type IDMapper interface {
	// MapIDs returns the id of every key, assigning new ids to keys seen
	// for the first time.
	MapIDs(ctx context.Context, mailbox string, keys []string) (map[string]string, error)

	// Key resolves an id back to its key.
	Key(ctx context.Context, mailbox, id string) (string, error)

	// Forget drops the mapping of keys that no longer exist.
	Forget(ctx context.Context, mailbox string, keys []string) error

	Close() error
}
