package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Strob0t/prdforge/internal/domain/provider"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "prdforge.yaml"

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
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
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
	setString(&cfg.Logging.Level, "PRDFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "PRDFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "PRDFORGE_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "PRDFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "PRDFORGE_BREAKER_TIMEOUT")

	// Router
	setBool(&cfg.Router.Policy.AllowExternal, "PRDFORGE_ALLOW_EXTERNAL")
	setBool(&cfg.Router.Policy.PreferPrivacy, "PRDFORGE_PREFER_PRIVACY")
	setBool(&cfg.Router.Policy.PreferLocalFirst, "PRDFORGE_PREFER_LOCAL_FIRST")
	setDuration(&cfg.Router.CallTimeout, "PRDFORGE_CALL_TIMEOUT")
	setDuration(&cfg.Router.RequestDeadline, "PRDFORGE_REQUEST_DEADLINE")

	// Pipeline
	setFloat64(&cfg.Pipeline.TargetScore, "PRDFORGE_TARGET_SCORE")
	setInt(&cfg.Pipeline.MaxIterations, "PRDFORGE_MAX_ITERATIONS")
	setBool(&cfg.Pipeline.ResearchEnabled, "PRDFORGE_RESEARCH_ENABLED")
	setBool(&cfg.Pipeline.PlanEnabled, "PRDFORGE_PLAN_ENABLED")

	// Clarify
	setFloat64(&cfg.Clarify.CodebaseThreshold, "PRDFORGE_CODEBASE_THRESHOLD")
	setFloat64(&cfg.Clarify.MockupThreshold, "PRDFORGE_MOCKUP_THRESHOLD")
	setInt(&cfg.Clarify.MaxQuestions, "PRDFORGE_MAX_QUESTIONS")

	setString(&cfg.Context.URL, "PRDFORGE_CONTEXT_API_URL")
	setString(&cfg.Context.TokenEnv, "PRDFORGE_CONTEXT_API_TOKEN_ENV")
	setDuration(&cfg.Context.Timeout, "PRDFORGE_CONTEXT_API_TIMEOUT")

	// Cache
	setBool(&cfg.Cache.Enabled, "PRDFORGE_CACHE_ENABLED")
	setInt64(&cfg.Cache.L1MaxSizeMB, "PRDFORGE_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "PRDFORGE_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.TTL, "PRDFORGE_CACHE_TTL")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.SubjectPrefix, "PRDFORGE_NATS_SUBJECT_PREFIX")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "PRDFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "PRDFORGE_PG_MIN_CONNS")

	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setFloat64(&cfg.Telemetry.SampleRatio, "PRDFORGE_TRACE_SAMPLE_RATIO")
}

// validate checks that required fields are set and values are in range.
func validate(cfg *Config) error {
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Router.CallTimeout <= 0 {
		return errors.New("router.call_timeout must be > 0")
	}
	if cfg.Router.RequestDeadline < cfg.Router.CallTimeout {
		return errors.New("router.request_deadline must be >= router.call_timeout")
	}
	if cfg.Pipeline.TargetScore < 0 || cfg.Pipeline.TargetScore > 100 {
		return errors.New("pipeline.target_score must be within [0,100]")
	}
	if cfg.Pipeline.MaxIterations < 0 {
		return errors.New("pipeline.max_iterations must be >= 0")
	}
	if !inUnit(cfg.Clarify.CodebaseThreshold) || !inUnit(cfg.Clarify.MockupThreshold) {
		return errors.New("clarify thresholds must be within [0,1]")
	}
	if len(cfg.Providers) == 0 {
		return errors.New("at least one provider is required")
	}
	seen := make(map[string]bool, len(cfg.Providers))
	for i, p := range cfg.Providers {
		if p.Name == "" {
			return fmt.Errorf("providers[%d].name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("providers[%d]: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = true
		if _, err := provider.ParseKind(p.Kind); err != nil {
			return fmt.Errorf("providers[%d]: %w", i, err)
		}
		if p.URL == "" {
			return fmt.Errorf("providers[%d].url is required", i)
		}
	}
	if cfg.Postgres.DSN != "" && cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	return nil
}

func inUnit(f float64) bool { return f >= 0 && f <= 1 }

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
