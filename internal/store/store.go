package store

import (
	"context"
	"errors"
)

// ErrQuotaExceeded is returned by backends that enforce a size limit when a
// write would exceed it.
var ErrQuotaExceeded = errors.New("store quota exceeded")

// KV is the persistence backend for the local cache. It mirrors a browser
// storage area: string keys, string values, last write wins.
type KV interface {
	// GetItem returns the stored value for key. ok is false when the key
	// has never been written or was removed.
	GetItem(ctx context.Context, key string) (value string, ok bool, err error)

	// SetItem replaces the value stored under key.
	SetItem(ctx context.Context, key, value string) error

	// RemoveItem deletes key. Removing a missing key is not an error.
	RemoveItem(ctx context.Context, key string) error
}
