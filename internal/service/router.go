package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/Strob0t/prdforge/internal/adapter/otel"
	"github.com/Strob0t/prdforge/internal/domain/conversation"
	"github.com/Strob0t/prdforge/internal/domain/provider"
	"github.com/Strob0t/prdforge/internal/port/broadcast"
	providerport "github.com/Strob0t/prdforge/internal/port/provider"
	"github.com/Strob0t/prdforge/internal/resilience"
)

// Completer runs one conversation to completion on some execution target and
// reports which target answered.
type Completer interface {
	Complete(ctx context.Context, conv []conversation.Message, needsJSON bool) (text, providerName string, err error)
}

// RouterService ranks the configured providers by policy and walks the
// resulting route in order until one answers.
type RouterService struct {
	providers   []providerport.Provider
	byName      map[string]providerport.Provider
	policy      provider.Policy
	callTimeout time.Duration
	breakers    *resilience.Set
	hub         broadcast.Broadcaster
	metrics     *cfotel.Metrics
	log         *slog.Logger
}

var _ Completer = (*RouterService)(nil)

// NewRouterService creates a RouterService. Providers keep their configured
// order as the final tie-breaker of the ranking.
func NewRouterService(
	providers []providerport.Provider,
	policy provider.Policy,
	callTimeout time.Duration,
	breakers *resilience.Set,
	log *slog.Logger,
) *RouterService {
	byName := make(map[string]providerport.Provider, len(providers))
	for _, p := range providers {
		name := p.Candidate().Name
		if _, dup := byName[name]; !dup {
			byName[name] = p
		}
	}
	return &RouterService{
		providers:   providers,
		byName:      byName,
		policy:      policy,
		callTimeout: callTimeout,
		breakers:    breakers,
		log:         log,
	}
}

// SetBroadcaster publishes fallback events through hub.
func (s *RouterService) SetBroadcaster(hub broadcast.Broadcaster) { s.hub = hub }

// SetMetrics records provider call counters.
func (s *RouterService) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// Route returns the ranked candidate list for one call.
func (s *RouterService) Route(needsJSON bool) provider.Route {
	candidates := make([]provider.Candidate, len(s.providers))
	for i, p := range s.providers {
		candidates[i] = p.Candidate()
	}
	return provider.Rank(candidates, s.policy, needsJSON)
}

// Complete tries each candidate of the route once, in order. The first
// non-empty answer wins. Every failed candidate is logged at WARN. When the
// route is exhausted a single *provider.ExhaustedError is returned; when the
// caller's context ends the context error is returned instead.
func (s *RouterService) Complete(ctx context.Context, conv []conversation.Message, needsJSON bool) (string, string, error) {
	route := s.Route(needsJSON)
	attempts := make([]provider.Attempt, 0, len(route))

	for i, c := range route {
		if err := ctx.Err(); err != nil {
			return "", "", fmt.Errorf("route: %w", err)
		}

		text, err := s.attempt(ctx, s.byName[c.Name], conv, needsJSON)
		if err == nil {
			return text, c.Name, nil
		}
		if ctx.Err() != nil {
			return "", "", fmt.Errorf("route: %w", ctx.Err())
		}

		pe := provider.Classify(c.Name, err)
		attempts = append(attempts, provider.Attempt{Provider: c.Name, Kind: pe.Kind, Err: pe})

		next := ""
		if i+1 < len(route) {
			next = route[i+1].Name
		}
		s.log.WarnContext(ctx, "provider failed",
			"provider", c.Name, "kind", string(pe.Kind), "next", next, "error", pe.Err)
		if s.metrics != nil {
			s.metrics.ProviderFailures.Add(ctx, 1, metric.WithAttributes(
				attribute.String("provider", c.Name),
				attribute.String("kind", string(pe.Kind)),
			))
		}
		if s.hub != nil {
			s.hub.BroadcastEvent(ctx, broadcast.EventFallback, broadcast.FallbackEvent{
				Provider: c.Name,
				Kind:     string(pe.Kind),
				Next:     next,
			})
		}
	}

	exhausted := &provider.ExhaustedError{Attempts: attempts}
	s.log.ErrorContext(ctx, "all providers failed", "route", route.Names(), "attempts", len(attempts))
	return "", "", exhausted
}

// attempt makes one bounded call through the candidate's breaker.
func (s *RouterService) attempt(ctx context.Context, p providerport.Provider, conv []conversation.Message, needsJSON bool) (string, error) {
	c := p.Candidate()
	ctx, span := cfotel.StartProviderSpan(ctx, c.Name, string(c.Kind))
	defer span.End()

	if s.metrics != nil {
		s.metrics.ProviderCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", c.Name)))
	}

	var text string
	call := func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		defer cancel()

		out, err := p.Generate(callCtx, conversation.Clone(conv), needsJSON)
		if err != nil {
			return err
		}
		if out == "" {
			return provider.NewError(c.Name, provider.ErrKindInvalidResponse, errors.New("empty response"))
		}
		text = out
		return nil
	}

	var err error
	if s.breakers != nil {
		err = s.breakers.For(c.Name).ExecuteContext(ctx, call)
		if errors.Is(err, resilience.ErrCircuitOpen) {
			err = provider.NewError(c.Name, provider.ErrKindUnavailable, err)
		}
	} else {
		err = call(ctx)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider call failed")
		return "", err
	}
	return text, nil
}
