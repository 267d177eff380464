// Command rotate-key replaces a publisher's stream key with a freshly
// generated one and prints the new key. Operators run this when a key leaks or
// a publisher requests a reset; the old key stops working immediately.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"pulsecast/internal/storage"
)

func main() {
	var (
		postgresDSN string
		userID      string
		timeout     time.Duration
	)

	flag.StringVar(&postgresDSN, "postgres-dsn", "", "Postgres connection string (defaults to PULSECAST_POSTGRES_DSN)")
	flag.StringVar(&userID, "user", "", "ID of the publisher whose key should be rotated")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "Overall timeout for the rotation")
	flag.Parse()

	if postgresDSN == "" {
		postgresDSN = strings.TrimSpace(os.Getenv("PULSECAST_POSTGRES_DSN"))
	}
	if postgresDSN == "" {
		fatalf("--postgres-dsn or PULSECAST_POSTGRES_DSN is required")
	}
	if strings.TrimSpace(userID) == "" {
		fatalf("--user is required")
	}

	repo, err := storage.NewPostgresRepository(storage.PostgresConfig{DSN: postgresDSN})
	if err != nil {
		fatalf("open publisher store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	defer func() { _ = repo.Close(ctx) }()

	key, err := repo.RotatePublishKey(ctx, strings.TrimSpace(userID))
	if err != nil {
		fatalf("rotate publish key: %v", err)
	}

	fmt.Printf("New publish key for user %s:\n%s\n", userID, key)
	fmt.Println("Share this key over a secure channel; it cannot be recovered later.")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
