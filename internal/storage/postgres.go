package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig tunes the connection pool behind the Postgres repository.
type PostgresConfig struct {
	DSN             string
	MaxConnections  int32
	MinConnections  int32
	ConnectTimeout  time.Duration
	ApplicationName string
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository opens a Postgres-backed publisher repository. The
// caller must ensure the users schema has been migrated before invoking this
// constructor.
func NewPostgresRepository(cfg PostgresConfig) (Repository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	appName := strings.TrimSpace(cfg.ApplicationName)
	if appName == "" {
		appName = "pulsecast-ingest"
	}
	if poolCfg.ConnConfig.RuntimeParams == nil {
		poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = appName

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	return &postgresRepository{pool: pool}, nil
}

func (r *postgresRepository) ResolvePublishKey(ctx context.Context, key string) (Publisher, error) {
	const query = `
SELECT id, username, current_stream_id IS NOT NULL
FROM users
WHERE publish_key_hash = $1`

	var pub Publisher
	row := r.pool.QueryRow(ctx, query, HashPublishKey(key))
	if err := row.Scan(&pub.UserID, &pub.Username, &pub.HasOpenStream); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Publisher{}, ErrKeyNotFound
		}
		return Publisher{}, fmt.Errorf("resolve publish key: %w", err)
	}
	return pub, nil
}

func (r *postgresRepository) RotatePublishKey(ctx context.Context, userID string) (string, error) {
	key, err := GeneratePublishKey()
	if err != nil {
		return "", err
	}

	const query = `UPDATE users SET publish_key_hash = $2 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, userID, HashPublishKey(key))
	if err != nil {
		return "", fmt.Errorf("rotate publish key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", ErrUserNotFound
	}
	return key, nil
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
