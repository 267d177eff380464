// Package config loads the ingest daemon's configuration from the
// environment, with optional .env file support for local development.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"pulsecast/internal/pipeline"
)

// Config carries everything the ingest daemon needs to start.
type Config struct {
	Bind      string
	HookToken string

	MediaRoot     string
	IngestBaseURL string

	PostgresDSN string

	RedisAddr     string
	RedisUsername string
	RedisPassword string
	RedisPrefix   string

	FFmpegPath  string
	FFprobePath string

	ProbeTimeout    time.Duration
	PreviewDelay    time.Duration
	PreviewInterval time.Duration
	InvalidKeyTTL   time.Duration
	ConnectionTTL   time.Duration
	ShutdownTimeout time.Duration

	Presets []pipeline.Preset

	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; missing files are not an error.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Bind:          envOrDefault("PULSECAST_BIND", ":8085"),
		HookToken:     strings.TrimSpace(os.Getenv("PULSECAST_HOOK_TOKEN")),
		MediaRoot:     envOrDefault("PULSECAST_MEDIA_ROOT", "./media"),
		IngestBaseURL: envOrDefault("PULSECAST_INGEST_URL", "rtmp://127.0.0.1:1935"),
		PostgresDSN:   strings.TrimSpace(os.Getenv("PULSECAST_POSTGRES_DSN")),
		RedisAddr:     strings.TrimSpace(os.Getenv("PULSECAST_REDIS_ADDR")),
		RedisUsername: strings.TrimSpace(os.Getenv("PULSECAST_REDIS_USERNAME")),
		RedisPassword: os.Getenv("PULSECAST_REDIS_PASSWORD"),
		RedisPrefix:   strings.TrimSpace(os.Getenv("PULSECAST_REDIS_PREFIX")),
		FFmpegPath:    strings.TrimSpace(os.Getenv("PULSECAST_FFMPEG")),
		FFprobePath:   strings.TrimSpace(os.Getenv("PULSECAST_FFPROBE")),
		LogLevel:      strings.TrimSpace(os.Getenv("PULSECAST_LOG_LEVEL")),
		LogFormat:     strings.TrimSpace(os.Getenv("PULSECAST_LOG_FORMAT")),

		ProbeTimeout:    pipeline.DefaultProbeTimeout,
		PreviewDelay:    pipeline.DefaultPreviewDelay,
		PreviewInterval: pipeline.DefaultPreviewInterval,
		InvalidKeyTTL:   pipeline.DefaultInvalidKeyTTL,
		ConnectionTTL:   pipeline.DefaultConnectionTTL,
		ShutdownTimeout: 10 * time.Second,
	}

	durations := []struct {
		env    string
		target *time.Duration
	}{
		{"PULSECAST_PROBE_TIMEOUT", &cfg.ProbeTimeout},
		{"PULSECAST_PREVIEW_DELAY", &cfg.PreviewDelay},
		{"PULSECAST_PREVIEW_INTERVAL", &cfg.PreviewInterval},
		{"PULSECAST_INVALID_KEY_TTL", &cfg.InvalidKeyTTL},
		{"PULSECAST_CONNECTION_TTL", &cfg.ConnectionTTL},
		{"PULSECAST_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		raw := strings.TrimSpace(os.Getenv(d.env))
		if raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.env, err)
		}
		if parsed <= 0 {
			return Config{}, fmt.Errorf("%s must be positive", d.env)
		}
		*d.target = parsed
	}

	if ladder := strings.TrimSpace(os.Getenv("PULSECAST_LADDER")); ladder != "" {
		presets, err := pipeline.ParseLadder(ladder)
		if err != nil {
			return Config{}, fmt.Errorf("parse PULSECAST_LADDER: %w", err)
		}
		cfg.Presets = presets
	} else {
		cfg.Presets = pipeline.DefaultPresets()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate ensures the configuration is usable.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Bind) == "" {
		return fmt.Errorf("bind address is required")
	}
	if strings.TrimSpace(c.MediaRoot) == "" {
		return fmt.Errorf("media root is required")
	}
	if strings.TrimSpace(c.PostgresDSN) == "" {
		return fmt.Errorf("PULSECAST_POSTGRES_DSN is required")
	}
	if len(c.Presets) == 0 {
		return fmt.Errorf("no presets configured")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
