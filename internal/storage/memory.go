package storage

import (
	"context"
	"sync"
)

// MemoryRepository is an in-process Repository used by tests and local
// development. It additionally counts key lookups so tests can verify that
// the negative cache sheds repeated store hits.
type MemoryRepository struct {
	mu         sync.Mutex
	byKeyHash  map[string]Publisher
	keysByUser map[string]string
	lookups    int
}

// NewMemoryRepository returns an empty in-process repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byKeyHash:  make(map[string]Publisher),
		keysByUser: make(map[string]string),
	}
}

// AddPublisher registers a publisher under the given raw publish key.
func (r *MemoryRepository) AddPublisher(key string, pub Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hash := HashPublishKey(key)
	if previous, ok := r.keysByUser[pub.UserID]; ok {
		delete(r.byKeyHash, previous)
	}
	r.byKeyHash[hash] = pub
	r.keysByUser[pub.UserID] = hash
}

// SetOpenStream flips the open-stream record marker for the given user.
func (r *MemoryRepository) SetOpenStream(userID string, open bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hash, ok := r.keysByUser[userID]
	if !ok {
		return
	}
	pub := r.byKeyHash[hash]
	pub.HasOpenStream = open
	r.byKeyHash[hash] = pub
}

// Lookups reports how many times ResolvePublishKey has been called.
func (r *MemoryRepository) Lookups() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookups
}

func (r *MemoryRepository) ResolvePublishKey(_ context.Context, key string) (Publisher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	pub, ok := r.byKeyHash[HashPublishKey(key)]
	if !ok {
		return Publisher{}, ErrKeyNotFound
	}
	return pub, nil
}

func (r *MemoryRepository) RotatePublishKey(_ context.Context, userID string) (string, error) {
	key, err := GeneratePublishKey()
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	hash, ok := r.keysByUser[userID]
	if !ok {
		return "", ErrUserNotFound
	}
	pub := r.byKeyHash[hash]
	delete(r.byKeyHash, hash)
	next := HashPublishKey(key)
	r.byKeyHash[next] = pub
	r.keysByUser[userID] = next
	return key, nil
}

func (r *MemoryRepository) Ping(context.Context) error { return nil }

func (r *MemoryRepository) Close(context.Context) error { return nil }
