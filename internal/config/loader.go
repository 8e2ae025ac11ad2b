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
const DefaultConfigFile = "autoclerk.yaml"

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
	setString(&cfg.Server.Port, "AUTOCLERK_PORT")
	setString(&cfg.Server.CORSOrigin, "AUTOCLERK_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "AUTOCLERK_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "AUTOCLERK_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "AUTOCLERK_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "AUTOCLERK_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "AUTOCLERK_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setString(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&cfg.OpenAI.Model, "AUTOCLERK_OPENAI_MODEL")
	setString(&cfg.Slack.Token, "SLACK_BOT_TOKEN")
	setString(&cfg.Slack.Channel, "AUTOCLERK_SLACK_CHANNEL")
	setString(&cfg.Ledger.BaseURL, "AUTOCLERK_LEDGER_URL")
	setString(&cfg.Ledger.APIKey, "AUTOCLERK_LEDGER_API_KEY")
	setDuration(&cfg.Ledger.Timeout, "AUTOCLERK_LEDGER_TIMEOUT")
	setString(&cfg.Logging.Level, "AUTOCLERK_LOG_LEVEL")
	setString(&cfg.Logging.Service, "AUTOCLERK_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "AUTOCLERK_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "AUTOCLERK_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "AUTOCLERK_BREAKER_TIMEOUT")
	setInt64(&cfg.Router.MaxConcurrent, "AUTOCLERK_ROUTER_MAX_CONCURRENT")
	setDuration(&cfg.Router.TargetTimeout, "AUTOCLERK_ROUTER_TARGET_TIMEOUT")
	setString(&cfg.Policy.File, "AUTOCLERK_POLICY_FILE")
	setInt(&cfg.Cascade.WindowDays, "AUTOCLERK_CASCADE_WINDOW_DAYS")
	setInt64(&cfg.RuleCache.MaxEntries, "AUTOCLERK_RULE_CACHE_ENTRIES")
	setBool(&cfg.Scheduler.Enabled, "AUTOCLERK_SCHEDULER_ENABLED")
	setString(&cfg.Scheduler.CollectionsSweep, "AUTOCLERK_SCHEDULE_COLLECTIONS")
	setString(&cfg.Scheduler.PeriodClose, "AUTOCLERK_SCHEDULE_PERIOD_CLOSE")
	setString(&cfg.Scheduler.LedgerRefresh, "AUTOCLERK_SCHEDULE_LEDGER_REFRESH")
	setString(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
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
	if cfg.Router.MaxConcurrent < 1 {
		return errors.New("router.max_concurrent must be >= 1")
	}
	if cfg.Cascade.WindowDays < 1 {
		return errors.New("cascade.window_days must be >= 1")
	}
	if cfg.RuleCache.MaxEntries < 1 {
		return errors.New("rule_cache.max_entries must be >= 1")
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
