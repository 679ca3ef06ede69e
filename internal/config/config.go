// Package config provides hierarchical configuration loading for prdforge.
// Precedence: defaults < YAML file < environment variables.
package config

import (
	"time"

	"github.com/Strob0t/prdforge/internal/domain/clarify"
	"github.com/Strob0t/prdforge/internal/domain/generation"
	"github.com/Strob0t/prdforge/internal/domain/provider"
)

// Config holds all runtime configuration for the generation engine.
type Config struct {
	Logging   Logging    `yaml:"logging"`
	Breaker   Breaker    `yaml:"breaker"`
	Router    Router     `yaml:"router"`
	Providers []Provider `yaml:"providers"`
	Pipeline  Pipeline   `yaml:"pipeline"`
	Clarify   Clarify    `yaml:"clarify"`
	Context   ContextAPI `yaml:"context_api"`
	Cache     Cache      `yaml:"cache"`
	NATS      NATS       `yaml:"nats"`
	Postgres  Postgres   `yaml:"postgres"`
	Telemetry Telemetry  `yaml:"telemetry"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Breaker holds per-provider circuit breaker configuration.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Router holds the routing policy and call timeouts.
type Router struct {
	Policy          provider.Policy `yaml:"policy"`
	CallTimeout     time.Duration   `yaml:"call_timeout"`     // per provider call
	RequestDeadline time.Duration   `yaml:"request_deadline"` // whole chat/generate call
}

// Provider is one configured execution candidate. All candidates speak the
// OpenAI-compatible chat completion protocol (LiteLLM proxy, Ollama, vLLM, ...).
type Provider struct {
	Name         string `yaml:"name"`
	Kind         string `yaml:"kind"` // on_device | local_server | private_cloud | external
	Model        string `yaml:"model"`
	URL          string `yaml:"url"`
	APIKeyEnv    string `yaml:"api_key_env"` // name of the env var holding the key
	SupportsJSON bool   `yaml:"supports_json"`
	MaxTokens    int    `yaml:"max_tokens"`
}

// Pipeline holds generation pipeline settings.
type Pipeline struct {
	TargetScore     float64 `yaml:"target_score"`   // 0-100 quality scale
	MaxIterations   int     `yaml:"max_iterations"` // refine passes
	ResearchEnabled bool    `yaml:"research_enabled"`
	PlanEnabled     bool    `yaml:"plan_enabled"`
}

// Clarify holds clarification collector settings.
type Clarify struct {
	CodebaseThreshold float64 `yaml:"codebase_threshold"` // confidence in [0,1]
	MockupThreshold   float64 `yaml:"mockup_threshold"`   // confidence in [0,1]
	MaxQuestions      int     `yaml:"max_questions"`      // per pass; 0 = unlimited
}

// ContextAPI locates the external codebase/mockup indexing service.
// An empty URL leaves the resolver unbound and every question goes to a human.
type ContextAPI struct {
	URL      string        `yaml:"url"`
	TokenEnv string        `yaml:"token_env"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Cache holds context-resolver cache configuration.
type Cache struct {
	Enabled     bool          `yaml:"enabled"`
	L1MaxSizeMB int64         `yaml:"l1_max_size_mb"`
	L2Bucket    string        `yaml:"l2_bucket"` // empty disables the NATS KV tier
	TTL         time.Duration `yaml:"ttl"`
}

// NATS holds NATS connection configuration. An empty URL disables NATS.
type NATS struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Postgres holds the audit database configuration. An empty DSN disables auditing.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// Telemetry holds OpenTelemetry exporter configuration. An empty endpoint disables export.
type Telemetry struct {
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SampleRatio  float64 `yaml:"sample_ratio"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Logging: Logging{
			Level:   "info",
			Service: "prdforge",
		},
		Breaker: Breaker{
			MaxFailures: 3,
			Timeout:     30 * time.Second,
		},
		Router: Router{
			Policy: provider.Policy{
				AllowExternal:    false,
				PreferPrivacy:    true,
				PreferLocalFirst: true,
			},
			CallTimeout:     90 * time.Second,
			RequestDeadline: 10 * time.Minute,
		},
		Providers: []Provider{
			{
				Name:         "ollama",
				Kind:         string(provider.KindLocalServer),
				Model:        "llama3.2",
				URL:          "http://localhost:11434",
				SupportsJSON: true,
				MaxTokens:    4096,
			},
		},
		Pipeline: Pipeline{
			TargetScore:     generation.DefaultTargetScore,
			MaxIterations:   generation.DefaultMaxIterations,
			ResearchEnabled: true,
			PlanEnabled:     true,
		},
		Clarify: Clarify{
			CodebaseThreshold: clarify.CodebaseConfidenceThreshold,
			MockupThreshold:   clarify.MockupConfidenceThreshold,
			MaxQuestions:      5,
		},
		Context: ContextAPI{
			Timeout: 20 * time.Second,
		},
		Cache: Cache{
			Enabled:     true,
			L1MaxSizeMB: 64,
			TTL:         15 * time.Minute,
		},
		NATS: NATS{
			SubjectPrefix: "prdforge.events",
		},
		Postgres: Postgres{
			MaxConns:        5,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		Telemetry: Telemetry{
			Insecure:    true,
			SampleRatio: 1.0,
		},
	}
}
