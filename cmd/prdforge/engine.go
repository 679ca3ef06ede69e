package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/prdforge/internal/adapter/contextapi"
	"github.com/Strob0t/prdforge/internal/adapter/litellm"
	cfnats "github.com/Strob0t/prdforge/internal/adapter/nats"
	"github.com/Strob0t/prdforge/internal/adapter/natskv"
	cfotel "github.com/Strob0t/prdforge/internal/adapter/otel"
	"github.com/Strob0t/prdforge/internal/adapter/postgres"
	"github.com/Strob0t/prdforge/internal/adapter/ristretto"
	"github.com/Strob0t/prdforge/internal/adapter/terminal"
	"github.com/Strob0t/prdforge/internal/adapter/tiered"
	"github.com/Strob0t/prdforge/internal/config"
	"github.com/Strob0t/prdforge/internal/domain/provider"
	"github.com/Strob0t/prdforge/internal/domain/validation"
	"github.com/Strob0t/prdforge/internal/logger"
	"github.com/Strob0t/prdforge/internal/port/broadcast"
	"github.com/Strob0t/prdforge/internal/port/cache"
	"github.com/Strob0t/prdforge/internal/port/contextsource"
	"github.com/Strob0t/prdforge/internal/port/prompter"
	providerport "github.com/Strob0t/prdforge/internal/port/provider"
	"github.com/Strob0t/prdforge/internal/resilience"
	"github.com/Strob0t/prdforge/internal/service"
)

// engine is the fully wired orchestrator plus everything that must be closed.
type engine struct {
	cfg   *config.Holder
	log   *slog.Logger
	orch  *service.OrchestratorService
	bus   *cfnats.Bus
	pool  *pgxpool.Pool
	store *postgres.Store

	closers []func()
}

type engineOptions struct {
	configPath  string
	interactive bool // ask a person when context sources cannot answer
}

func newEngine(ctx context.Context, opts engineOptions) (e *engine, err error) {
	cfg, err := config.LoadFrom(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	e = &engine{cfg: config.NewHolder(cfg, opts.configPath), log: log}
	e.onClose(logCloser.Close)
	defer func() {
		if err != nil {
			e.Close()
		}
	}()

	log.Info("config loaded",
		"providers", len(cfg.Providers),
		"target_score", cfg.Pipeline.TargetScore,
		"max_iterations", cfg.Pipeline.MaxIterations,
		"allow_external", cfg.Router.Policy.AllowExternal,
	)

	// --- Telemetry ---

	shutdown, err := cfotel.Setup(ctx, cfg.Telemetry, cfg.Logging.Service)
	if err != nil {
		return nil, fmt.Errorf("otel: %w", err)
	}
	e.onClose(func() {
		if err := shutdown(context.Background()); err != nil {
			log.Warn("otel shutdown", "error", err)
		}
	})
	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	var hub broadcast.Broadcaster
	if cfg.NATS.URL != "" {
		e.bus, err = cfnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		e.onClose(func() { _ = e.bus.Close() })
		hub = cfnats.NewBroadcaster(e.bus, cfg.NATS.SubjectPrefix, log)
	}

	if cfg.Postgres.DSN != "" {
		e.pool, err = postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		e.onClose(e.pool.Close)
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		e.store = postgres.NewStore(e.pool)
		log.Info("audit store ready")
	}

	resolver, err := e.newResolver(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// --- Services ---

	breakers := resilience.NewSet(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	router := service.NewRouterService(newProviders(cfg), cfg.Router.Policy, cfg.Router.CallTimeout, breakers, log)
	router.SetMetrics(metrics)

	validator := validation.NewValidator()
	pipeline := service.NewPipelineService(router, validator, cfg.Pipeline, log)
	pipeline.SetMetrics(metrics)

	var ask prompter.Prompter
	if opts.interactive {
		stdio := terminal.NewStdio()
		e.onClose(stdio.Close)
		ask = stdio
	}
	clarifier := service.NewClarifyService(resolver, ask, cfg.Clarify, log)
	clarifier.SetMetrics(metrics)

	e.orch = service.NewOrchestratorService(e.cfg, service.NewSessionStore(), router, pipeline, clarifier, validator, log)
	e.orch.SetMetrics(metrics)
	if hub != nil {
		router.SetBroadcaster(hub)
		pipeline.SetBroadcaster(hub)
		clarifier.SetBroadcaster(hub)
		e.orch.SetBroadcaster(hub)
	}
	if e.store != nil {
		e.orch.SetAudit(e.store)
	}
	return e, nil
}

// newProviders builds one OpenAI-compatible client per configured candidate.
// A candidate whose API key variable is unset stays in the list and fails as
// not configured, so the route reports it.
func newProviders(cfg *config.Config) []providerport.Provider {
	out := make([]providerport.Provider, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		kind, _ := provider.ParseKind(p.Kind) // checked by config validation
		var key string
		var configErr error
		if p.APIKeyEnv != "" {
			key = os.Getenv(p.APIKeyEnv)
			if key == "" {
				configErr = fmt.Errorf("environment variable %s is not set", p.APIKeyEnv)
			}
		}
		client := litellm.NewClient(p.URL, key, cfg.Router.CallTimeout)
		out = append(out, litellm.NewProvider(provider.Candidate{
			Name:         p.Name,
			Kind:         kind,
			Model:        p.Model,
			SupportsJSON: p.SupportsJSON,
		}, client, p.MaxTokens, configErr))
	}
	return out
}

// newResolver returns the context API client behind the response cache, or
// nil when no context API is configured.
func (e *engine) newResolver(ctx context.Context, cfg *config.Config) (contextsource.Resolver, error) {
	if cfg.Context.URL == "" {
		return nil, nil
	}
	var token string
	if cfg.Context.TokenEnv != "" {
		token = os.Getenv(cfg.Context.TokenEnv)
	}
	client := contextapi.NewClient(cfg.Context.URL, token, cfg.Context.Timeout)
	if !cfg.Cache.Enabled {
		return client, nil
	}

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB)
	if err != nil {
		return nil, fmt.Errorf("cache l1: %w", err)
	}
	e.onClose(l1.Close)

	var c cache.Cache = l1
	if e.bus != nil && cfg.Cache.L2Bucket != "" {
		kv, err := e.bus.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.TTL)
		if err != nil {
			return nil, fmt.Errorf("cache l2: %w", err)
		}
		c = tiered.New(l1, natskv.New(kv), cfg.Cache.TTL, e.log)
	}
	return service.NewCachedResolver(client, c, cfg.Cache.TTL, e.log), nil
}

// watchReload reloads configuration on SIGHUP until ctx ends.
func (e *engine) watchReload(ctx context.Context) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				if err := e.orch.Reload(); err != nil {
					e.log.Error("config reload failed", "error", err)
				}
			}
		}
	}()
}

func (e *engine) onClose(fn func()) { e.closers = append(e.closers, fn) }

// Close releases resources in reverse order of acquisition.
func (e *engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}
