// Package state holds the keyed, cross-process state shared between the
// ingest pipeline and the read API: the per-user connection flag, the
// negative cache of invalid publish keys, and the cached public channel view.
package state

import (
	"context"
	"time"
)

// ConnectionFlags tracks which users currently have a live ingest connection.
//
// Flags carry a TTL and are refreshed by the owning session while it is
// alive, so a crashed process self-heals within one TTL instead of leaving
// the flag permanently stale.
type ConnectionFlags interface {
	// Acquire atomically sets the flag for userID when it is absent. It
	// reports false when the flag is already held.
	Acquire(ctx context.Context, userID string, ttl time.Duration) (bool, error)

	// Refresh extends the TTL of an already-held flag, re-asserting it if it
	// expired in the meantime.
	Refresh(ctx context.Context, userID string, ttl time.Duration) error

	// Release clears the flag. Releasing an absent flag is not an error.
	Release(ctx context.Context, userID string) error

	// Connected reports whether the flag is currently set.
	Connected(ctx context.Context, userID string) (bool, error)
}

// KeyRejectionCache is a short-TTL negative cache of publish keys that failed
// validation, shedding repeated admission checks from the durable store.
type KeyRejectionCache interface {
	// Rejected reports whether the key has a live negative-cache entry.
	Rejected(ctx context.Context, key string) (bool, error)

	// Reject records a negative-cache entry for the key with the given TTL.
	Reject(ctx context.Context, key string, ttl time.Duration) error
}

// ChannelCache invalidates the cached public view of a channel so readers
// immediately observe connection-state changes.
type ChannelCache interface {
	Invalidate(ctx context.Context, username string) error
}

// Store combines the shared-state interfaces with lifecycle management.
type Store interface {
	ConnectionFlags
	KeyRejectionCache
	ChannelCache

	Ping(ctx context.Context) error
	Close() error
}
