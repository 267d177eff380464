// Package storage exposes the durable publisher lookups required by the
// ingest pipeline. The rest of the platform's schema (profiles, follows,
// stream metadata) is owned by the API service and not modelled here.
package storage

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrKeyNotFound is returned when no user owns the presented publish key.
var ErrKeyNotFound = errors.New("publish key not found")

// ErrUserNotFound is returned when rotating a key for an unknown user.
var ErrUserNotFound = errors.New("user not found")

// Publisher is the resolved identity behind a publish key.
type Publisher struct {
	UserID   string
	Username string

	// HasOpenStream reports whether the user has an open stream record,
	// i.e. has announced a stream through the API and is authorized to
	// push bytes.
	HasOpenStream bool
}

// Repository resolves publish keys against the user store.
//
// Implementations must be safe for concurrent use.
type Repository interface {
	// ResolvePublishKey looks up the user owning the given raw publish key.
	// It returns ErrKeyNotFound when the key is unknown.
	ResolvePublishKey(ctx context.Context, key string) (Publisher, error)

	// RotatePublishKey replaces the user's publish key with a freshly
	// generated one and returns the new raw key. It returns ErrUserNotFound
	// when the user does not exist.
	RotatePublishKey(ctx context.Context, userID string) (string, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

const publishKeyBytes = 32

// GeneratePublishKey returns a fresh random publish key in hex form.
func GeneratePublishKey() (string, error) {
	buf := make([]byte, publishKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate publish key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashPublishKey returns the hex-encoded digest stored in place of the raw
// key. Lookups hash the presented key and match on the digest, so the raw
// key never reaches the database.
func HashPublishKey(key string) string {
	digest := sha256.Sum256([]byte(key))
	return hex.EncodeToString(digest[:])
}
