package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "claude-comms.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "CLAUDE_COMMS_PORT")
	setString(&cfg.Server.CORSOrigin, "CLAUDE_COMMS_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "CLAUDE_COMMS_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "CLAUDE_COMMS_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "CLAUDE_COMMS_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "CLAUDE_COMMS_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "CLAUDE_COMMS_PG_HEALTH_CHECK")
	setBool(&cfg.NATS.Enabled, "CLAUDE_COMMS_NATS_ENABLED")
	setString(&cfg.NATS.URL, "NATS_URL")
	setInt(&cfg.Cache.MaxSessions, "CLAUDE_COMMS_CACHE_MAX_SESSIONS")
	setDuration(&cfg.Cache.TTL, "CLAUDE_COMMS_CACHE_TTL")
	setDuration(&cfg.Cache.FreshnessThreshold, "CLAUDE_COMMS_CACHE_FRESHNESS")
	setInt64(&cfg.Cache.SnapshotMaxSizeMB, "CLAUDE_COMMS_CACHE_SNAPSHOT_MB")
	setDuration(&cfg.Stream.Tick, "CLAUDE_COMMS_STREAM_TICK")
	setInt(&cfg.Stream.QueueBound, "CLAUDE_COMMS_STREAM_QUEUE_BOUND")
	setInt(&cfg.Stream.RecentLimit, "CLAUDE_COMMS_STREAM_RECENT_LIMIT")
	setDuration(&cfg.Stream.IdleTimeout, "CLAUDE_COMMS_STREAM_IDLE_TIMEOUT")
	setDuration(&cfg.Stream.ClusterWindow, "CLAUDE_COMMS_STREAM_CLUSTER_WINDOW")
	setDuration(&cfg.Stream.FrameBudget, "CLAUDE_COMMS_STREAM_FRAME_BUDGET")
	setInt(&cfg.Stream.PathBatchSize, "CLAUDE_COMMS_STREAM_PATH_BATCH")
	setInt(&cfg.Stream.MessageBatchSize, "CLAUDE_COMMS_STREAM_MESSAGE_BATCH")
	setString(&cfg.Logging.Level, "CLAUDE_COMMS_LOG_LEVEL")
	setString(&cfg.Logging.Service, "CLAUDE_COMMS_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "CLAUDE_COMMS_LOG_ASYNC")
	setBool(&cfg.Otel.Enabled, "CLAUDE_COMMS_OTEL_ENABLED")
	setString(&cfg.Otel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.NATS.Enabled && cfg.NATS.URL == "" {
		return errors.New("nats.url is required when the relay is enabled")
	}
	if cfg.Cache.MaxSessions < 1 {
		return errors.New("cache.max_sessions must be >= 1")
	}
	if cfg.Stream.Tick < 16*time.Millisecond || cfg.Stream.Tick > 100*time.Millisecond {
		return errors.New("stream.tick must be between 16ms and 100ms")
	}
	if cfg.Stream.QueueBound < 1 {
		return errors.New("stream.queue_bound must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
