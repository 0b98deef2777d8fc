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
const DefaultConfigFile = "expertloop.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
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
	setString(&cfg.Server.Port, "EXPERTLOOP_PORT")
	setString(&cfg.Server.CORSOrigin, "EXPERTLOOP_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "EXPERTLOOP_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "EXPERTLOOP_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "EXPERTLOOP_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "EXPERTLOOP_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "EXPERTLOOP_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "EXPERTLOOP_LOG_LEVEL")
	setString(&cfg.Logging.Service, "EXPERTLOOP_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "EXPERTLOOP_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "EXPERTLOOP_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "EXPERTLOOP_BREAKER_TIMEOUT")

	// Review policy
	setDuration(&cfg.Review.SLA, "EXPERTLOOP_REVIEW_SLA")
	setFloat64(&cfg.Review.BackoffFactor, "EXPERTLOOP_REVIEW_BACKOFF")
	setInt(&cfg.Review.MaxEscalationLevel, "EXPERTLOOP_REVIEW_MAX_LEVEL")
	setDuration(&cfg.Review.ConversationTTL, "EXPERTLOOP_REVIEW_CONVERSATION_TTL")
	setDuration(&cfg.Review.UserReminderAfter, "EXPERTLOOP_REVIEW_USER_REMINDER")

	// Retrieval
	setInt(&cfg.Retrieval.TopK, "EXPERTLOOP_RETRIEVAL_TOP_K")
	setDuration(&cfg.Retrieval.Timeout, "EXPERTLOOP_RETRIEVAL_TIMEOUT")

	// Delivery
	setDuration(&cfg.Delivery.Timeout, "EXPERTLOOP_DELIVERY_TIMEOUT")
	setInt(&cfg.Delivery.MaxAttempts, "EXPERTLOOP_DELIVERY_MAX_ATTEMPTS")
	setString(&cfg.Delivery.TemplateFile, "EXPERTLOOP_TEMPLATE_FILE")
	setInt(&cfg.Delivery.RequeueLimit, "EXPERTLOOP_DELIVERY_REQUEUE_LIMIT")

	// Channel
	setString(&cfg.Channel.Provider, "EXPERTLOOP_CHANNEL_PROVIDER")
	setDuration(&cfg.Channel.FreeFormWindow, "EXPERTLOOP_CHANNEL_WINDOW")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "EXPERTLOOP_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.WindowTTL, "EXPERTLOOP_CACHE_WINDOW_TTL")

	// Telemetry
	setBool(&cfg.Telemetry.Enabled, "EXPERTLOOP_OTEL_ENABLED")
	setString(&cfg.Telemetry.OTLPEndpoint, "EXPERTLOOP_OTEL_ENDPOINT")

	// Auth
	setInt(&cfg.Auth.BcryptCost, "EXPERTLOOP_BCRYPT_COST")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Review.SLA <= 0 {
		return errors.New("review.sla must be positive")
	}
	if cfg.Review.BackoffFactor < 1 {
		return errors.New("review.backoff_factor must be >= 1")
	}
	if cfg.Review.MaxEscalationLevel < 0 {
		return errors.New("review.max_escalation_level must be >= 0")
	}
	for _, tier := range cfg.Review.ReminderTiers {
		if tier <= 0 || tier >= 1 {
			return errors.New("review.reminder_tiers entries must be in (0, 1)")
		}
	}
	if len(cfg.Retrieval.Sources) == 0 {
		return errors.New("retrieval.sources must not be empty")
	}
	if cfg.Delivery.MaxAttempts < 1 {
		return errors.New("delivery.max_attempts must be >= 1")
	}
	if cfg.Channel.Provider == "" {
		return errors.New("channel.provider is required")
	}
	if cfg.Channel.FreeFormWindow <= 0 {
		return errors.New("channel.free_form_window must be positive")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
