package storage

import (
	"context"
	"errors"
	"testing"
)

func TestGeneratePublishKey(t *testing.T) {
	first, err := GeneratePublishKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(first) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(first))
	}
	second, err := GeneratePublishKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if first == second {
		t.Fatalf("two generated keys collided")
	}
}

func TestHashPublishKeyIsDeterministic(t *testing.T) {
	a := HashPublishKey("stream-key")
	b := HashPublishKey("stream-key")
	if a != b {
		t.Fatalf("hash not deterministic: %s vs %s", a, b)
	}
	if a == HashPublishKey("other-key") {
		t.Fatalf("distinct keys hashed identically")
	}
	if a == "stream-key" {
		t.Fatalf("hash returned the raw key")
	}
}

func TestMemoryRepositoryResolvePublishKey(t *testing.T) {
	repo := NewMemoryRepository()
	repo.AddPublisher("key-1", Publisher{UserID: "u1", Username: "alice", HasOpenStream: true})

	pub, err := repo.ResolvePublishKey(context.Background(), "key-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if pub.UserID != "u1" || pub.Username != "alice" || !pub.HasOpenStream {
		t.Fatalf("unexpected publisher: %+v", pub)
	}

	_, err = repo.ResolvePublishKey(context.Background(), "unknown")
	if !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if repo.Lookups() != 2 {
		t.Fatalf("expected 2 recorded lookups, got %d", repo.Lookups())
	}
}

func TestMemoryRepositoryRotatePublishKey(t *testing.T) {
	repo := NewMemoryRepository()
	repo.AddPublisher("key-1", Publisher{UserID: "u1", Username: "alice"})

	next, err := repo.RotatePublishKey(context.Background(), "u1")
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if next == "key-1" {
		t.Fatalf("rotation returned the old key")
	}

	if _, err := repo.ResolvePublishKey(context.Background(), "key-1"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("old key still resolves: %v", err)
	}
	pub, err := repo.ResolvePublishKey(context.Background(), next)
	if err != nil {
		t.Fatalf("new key does not resolve: %v", err)
	}
	if pub.Username != "alice" {
		t.Fatalf("rotation lost the publisher: %+v", pub)
	}

	if _, err := repo.RotatePublishKey(context.Background(), "nobody"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestMemoryRepositorySetOpenStream(t *testing.T) {
	repo := NewMemoryRepository()
	repo.AddPublisher("key-1", Publisher{UserID: "u1", Username: "alice"})

	repo.SetOpenStream("u1", true)
	pub, err := repo.ResolvePublishKey(context.Background(), "key-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !pub.HasOpenStream {
		t.Fatalf("open stream marker not set")
	}

	repo.SetOpenStream("u1", false)
	pub, _ = repo.ResolvePublishKey(context.Background(), "key-1")
	if pub.HasOpenStream {
		t.Fatalf("open stream marker not cleared")
	}
}
