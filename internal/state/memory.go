package state

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// NewMemoryStore returns a process-local Store backed by a TTL cache. It is
// used for single-node deployments without Redis and in tests. Flags and
// negative-cache entries honour the same TTL semantics as the Redis store,
// but are not visible to other processes.
func NewMemoryStore() Store {
	return &memoryStore{
		entries: gocache.New(gocache.NoExpiration, time.Minute),
	}
}

type memoryStore struct {
	entries *gocache.Cache
}

func connectedEntry(userID string) string { return "connected:" + userID }
func invalidEntry(key string) string      { return "invalid-key:" + key }

func (s *memoryStore) Acquire(_ context.Context, userID string, ttl time.Duration) (bool, error) {
	if err := s.entries.Add(connectedEntry(userID), struct{}{}, ttl); err != nil {
		return false, nil
	}
	return true, nil
}

func (s *memoryStore) Refresh(_ context.Context, userID string, ttl time.Duration) error {
	s.entries.Set(connectedEntry(userID), struct{}{}, ttl)
	return nil
}

func (s *memoryStore) Release(_ context.Context, userID string) error {
	s.entries.Delete(connectedEntry(userID))
	return nil
}

func (s *memoryStore) Connected(_ context.Context, userID string) (bool, error) {
	_, ok := s.entries.Get(connectedEntry(userID))
	return ok, nil
}

func (s *memoryStore) Rejected(_ context.Context, key string) (bool, error) {
	_, ok := s.entries.Get(invalidEntry(key))
	return ok, nil
}

func (s *memoryStore) Reject(_ context.Context, key string, ttl time.Duration) error {
	s.entries.Set(invalidEntry(key), struct{}{}, ttl)
	return nil
}

func (s *memoryStore) Invalidate(_ context.Context, username string) error {
	s.entries.Delete("channel-view:" + username)
	return nil
}

func (s *memoryStore) Ping(context.Context) error { return nil }

func (s *memoryStore) Close() error { return nil }
