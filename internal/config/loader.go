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
const DefaultConfigFile = "launchloop.yaml"

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
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	// Map entries would replace whole default platforms; decode them apart
	// and merge field by field.
	base := cfg.Platforms
	cfg.Platforms = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg.Platforms = base
		return fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Platforms = mergePlatforms(base, cfg.Platforms)

	return nil
}

// mergePlatforms overlays the non-zero fields of each loaded platform onto
// the matching base entry. Settings merge key by key.
func mergePlatforms(base, loaded map[string]Platform) map[string]Platform {
	out := make(map[string]Platform, len(base)+len(loaded))
	for name, p := range base {
		out[name] = p
	}
	for name, l := range loaded {
		p := out[name]
		if l.Interval != 0 {
			p.Interval = l.Interval
		}
		if l.MinInterval != 0 {
			p.MinInterval = l.MinInterval
		}
		if l.RatePerSecond != 0 {
			p.RatePerSecond = l.RatePerSecond
		}
		if l.Burst != 0 {
			p.Burst = l.Burst
		}
		if len(l.Settings) > 0 {
			settings := make(map[string]string, len(p.Settings)+len(l.Settings))
			for k, v := range p.Settings {
				settings[k] = v
			}
			for k, v := range l.Settings {
				settings[k] = v
			}
			p.Settings = settings
		}
		out[name] = p
	}
	return out
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "LAUNCHLOOP_PORT")
	setString(&cfg.Server.CORSOrigin, "LAUNCHLOOP_CORS_ORIGIN")
	setString(&cfg.Server.APIKey, "LAUNCHLOOP_API_KEY")
	setString(&cfg.Logging.Level, "LAUNCHLOOP_LOG_LEVEL")
	setString(&cfg.Logging.Format, "LAUNCHLOOP_LOG_FORMAT")
	setString(&cfg.Logging.Service, "LAUNCHLOOP_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "LAUNCHLOOP_LOG_ASYNC")
	setString(&cfg.Storage.Driver, "LAUNCHLOOP_STORAGE")

	// Postgres
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "LAUNCHLOOP_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "LAUNCHLOOP_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "LAUNCHLOOP_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "LAUNCHLOOP_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "LAUNCHLOOP_PG_HEALTH_CHECK")

	// Badger
	setString(&cfg.Badger.Path, "LAUNCHLOOP_BADGER_PATH")
	setBool(&cfg.Badger.InMemory, "LAUNCHLOOP_BADGER_IN_MEMORY")

	// NATS
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "LAUNCHLOOP_NATS_STREAM")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "LAUNCHLOOP_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "LAUNCHLOOP_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "LAUNCHLOOP_CACHE_L2_TTL")
	setString(&cfg.Cache.IdempotencyBucket, "LAUNCHLOOP_IDEMPOTENCY_BUCKET")
	setDuration(&cfg.Cache.IdempotencyTTL, "LAUNCHLOOP_IDEMPOTENCY_TTL")

	setInt(&cfg.Breaker.MaxFailures, "LAUNCHLOOP_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "LAUNCHLOOP_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "LAUNCHLOOP_RATE_RPS")
	setInt(&cfg.Rate.Burst, "LAUNCHLOOP_RATE_BURST")

	// Collector
	setDuration(&cfg.Collector.DefaultInterval, "LAUNCHLOOP_COLLECTOR_INTERVAL")
	setDuration(&cfg.Collector.AttemptTimeout, "LAUNCHLOOP_COLLECTOR_ATTEMPT_TIMEOUT")
	setDuration(&cfg.Collector.BackoffBase, "LAUNCHLOOP_COLLECTOR_BACKOFF_BASE")
	setDuration(&cfg.Collector.BackoffCap, "LAUNCHLOOP_COLLECTOR_BACKOFF_CAP")
	setInt(&cfg.Collector.MaxAttempts, "LAUNCHLOOP_COLLECTOR_MAX_ATTEMPTS")

	// Evaluator / approval
	setInt(&cfg.Evaluator.Workers, "LAUNCHLOOP_EVAL_WORKERS")
	setDuration(&cfg.Evaluator.RequeueDelay, "LAUNCHLOOP_EVAL_REQUEUE_DELAY")
	setDuration(&cfg.Approval.Timeout, "LAUNCHLOOP_APPROVAL_TIMEOUT")
	setDuration(&cfg.Approval.SweepInterval, "LAUNCHLOOP_APPROVAL_SWEEP_INTERVAL")

	setString(&cfg.Triggers.Dir, "LAUNCHLOOP_TRIGGERS_DIR")
	setBool(&cfg.Triggers.Watch, "LAUNCHLOOP_TRIGGERS_WATCH")

	// InfluxDB
	setString(&cfg.Influx.URL, "INFLUX_URL")
	setString(&cfg.Influx.Token, "INFLUX_TOKEN")
	setString(&cfg.Influx.Org, "INFLUX_ORG")
	setString(&cfg.Influx.Bucket, "INFLUX_BUCKET")

	// OpenTelemetry
	setBool(&cfg.OTEL.Enabled, "LAUNCHLOOP_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setFloat64(&cfg.OTEL.SampleRate, "LAUNCHLOOP_OTEL_SAMPLE_RATE")

	setBool(&cfg.MCP.Enabled, "LAUNCHLOOP_MCP_ENABLED")
	setString(&cfg.MCP.APIKey, "LAUNCHLOOP_MCP_API_KEY")

	setString(&cfg.Notify.BaseURL, "LAUNCHLOOP_DASHBOARD_URL")
	if v := os.Getenv("LAUNCHLOOP_SLACK_WEBHOOK_URL"); v != "" {
		setProviderSetting(cfg, "slack", "webhook_url", v)
	}
	if v := os.Getenv("LAUNCHLOOP_DISCORD_WEBHOOK_URL"); v != "" {
		setProviderSetting(cfg, "discord", "webhook_url", v)
	}
	if v := os.Getenv("LAUNCHLOOP_SMTP_PASSWORD"); v != "" {
		setProviderSetting(cfg, "email", "password", v)
	}

	// Platform credentials are secrets and usually only come from the environment.
	if v := os.Getenv("LAUNCHLOOP_X_BEARER_TOKEN"); v != "" {
		setPlatformSetting(cfg, "x", "bearer_token", v)
	}
	if v := os.Getenv("LAUNCHLOOP_X_BASE_URL"); v != "" {
		setPlatformSetting(cfg, "x", "base_url", v)
	}
}

func setPlatformSetting(cfg *Config, platform, key, value string) {
	if cfg.Platforms == nil {
		cfg.Platforms = make(map[string]Platform)
	}
	p := cfg.Platforms[platform]
	settings := make(map[string]string, len(p.Settings)+1)
	for k, v := range p.Settings {
		settings[k] = v
	}
	settings[key] = value
	p.Settings = settings
	cfg.Platforms[platform] = p
}

func setProviderSetting(cfg *Config, provider, key, value string) {
	if cfg.Notify.Providers == nil {
		cfg.Notify.Providers = make(map[string]map[string]string)
	}
	settings := make(map[string]string, len(cfg.Notify.Providers[provider])+1)
	for k, v := range cfg.Notify.Providers[provider] {
		settings[k] = v
	}
	settings[key] = value
	cfg.Notify.Providers[provider] = settings
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch cfg.Storage.Driver {
	case "memory":
	case "badger":
		if cfg.Badger.Path == "" && !cfg.Badger.InMemory {
			return errors.New("badger.path is required")
		}
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	default:
		return fmt.Errorf("storage.driver %q is not one of memory, badger, postgres", cfg.Storage.Driver)
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Collector.DefaultInterval <= 0 {
		return errors.New("collector.default_interval must be > 0")
	}
	if cfg.Collector.AttemptTimeout <= 0 {
		return errors.New("collector.attempt_timeout must be > 0")
	}
	if cfg.Collector.MaxAttempts < 1 {
		return errors.New("collector.max_attempts must be >= 1")
	}
	if cfg.Collector.StaleFactor < 1 {
		return errors.New("collector.stale_factor must be >= 1")
	}
	if cfg.Evaluator.Workers < 1 {
		return errors.New("evaluator.workers must be >= 1")
	}
	if cfg.Approval.Timeout <= 0 {
		return errors.New("approval.timeout must be > 0")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
