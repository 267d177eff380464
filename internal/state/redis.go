package state

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "pulsecast"

// RedisConfig configures the Redis-backed shared-state store.
type RedisConfig struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	MasterName   string
	KeyPrefix    string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

// NewRedisStore initialises a shared-state store backed by Redis. The caller
// is responsible for ensuring the Redis instance is reachable.
func NewRedisStore(cfg RedisConfig) (Store, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   strings.TrimSpace(cfg.MasterName),
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   2,
	})
	return &redisStore{client: client, prefix: prefix}, nil
}

type redisStore struct {
	client redis.UniversalClient
	prefix string
}

func (s *redisStore) connectedKey(userID string) string {
	return fmt.Sprintf("%s:connected:%s", s.prefix, userID)
}

func (s *redisStore) invalidKeyKey(key string) string {
	return fmt.Sprintf("%s:invalid-key:%s", s.prefix, key)
}

func (s *redisStore) channelKey(username string) string {
	return fmt.Sprintf("%s:channel-view:%s", s.prefix, username)
}

func (s *redisStore) Acquire(ctx context.Context, userID string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.connectedKey(userID), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire connection flag: %w", err)
	}
	return ok, nil
}

func (s *redisStore) Refresh(ctx context.Context, userID string, ttl time.Duration) error {
	ok, err := s.client.Expire(ctx, s.connectedKey(userID), ttl).Result()
	if err != nil {
		return fmt.Errorf("refresh connection flag: %w", err)
	}
	if !ok {
		// Flag expired between refreshes; re-assert it so readers keep
		// seeing the session as connected.
		if err := s.client.Set(ctx, s.connectedKey(userID), "1", ttl).Err(); err != nil {
			return fmt.Errorf("re-assert connection flag: %w", err)
		}
	}
	return nil
}

func (s *redisStore) Release(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.connectedKey(userID)).Err(); err != nil {
		return fmt.Errorf("release connection flag: %w", err)
	}
	return nil
}

func (s *redisStore) Connected(ctx context.Context, userID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.connectedKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("read connection flag: %w", err)
	}
	return n > 0, nil
}

func (s *redisStore) Rejected(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.invalidKeyKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("read key rejection: %w", err)
	}
	return n > 0, nil
}

func (s *redisStore) Reject(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.invalidKeyKey(key), "invalid", ttl).Err(); err != nil {
		return fmt.Errorf("record key rejection: %w", err)
	}
	return nil
}

func (s *redisStore) Invalidate(ctx context.Context, username string) error {
	if err := s.client.Del(ctx, s.channelKey(username)).Err(); err != nil {
		return fmt.Errorf("invalidate channel view: %w", err)
	}
	return nil
}

func (s *redisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
