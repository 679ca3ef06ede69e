package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/Strob0t/prdforge/internal/domain/clarify"
	"github.com/Strob0t/prdforge/internal/port/cache"
	"github.com/Strob0t/prdforge/internal/port/contextsource"
)

// CachedResolver caches context source answers. Availability always goes to
// the wrapped resolver so each clarification pass sees newly indexed sources.
// Errors are never cached, and a failing cache degrades to querying the
// wrapped resolver directly.
type CachedResolver struct {
	inner contextsource.Resolver
	cache cache.Cache
	ttl   time.Duration
	log   *slog.Logger
}

var _ contextsource.Resolver = (*CachedResolver)(nil)

// NewCachedResolver wraps inner with c.
func NewCachedResolver(inner contextsource.Resolver, c cache.Cache, ttl time.Duration, log *slog.Logger) *CachedResolver {
	return &CachedResolver{inner: inner, cache: c, ttl: ttl, log: log}
}

func (r *CachedResolver) HasContext(ctx context.Context, requestID string) (clarify.Availability, error) {
	return r.inner.HasContext(ctx, requestID)
}

func (r *CachedResolver) QueryCodebaseContext(ctx context.Context, projectID, question, searchQuery string) (*clarify.Response, error) {
	key := cache.Key("codebase", projectID, digest(question, searchQuery))
	return cached(ctx, r, key, func() (*clarify.Response, error) {
		return r.inner.QueryCodebaseContext(ctx, projectID, question, searchQuery)
	})
}

func (r *CachedResolver) QueryMockupContext(ctx context.Context, requestID, featureQuery string) (*clarify.Response, error) {
	key := cache.Key("mockups", requestID, digest(featureQuery))
	return cached(ctx, r, key, func() (*clarify.Response, error) {
		return r.inner.QueryMockupContext(ctx, requestID, featureQuery)
	})
}

func cached[T any](ctx context.Context, r *CachedResolver, key string, load func() (T, error)) (T, error) {
	var v T
	hit, err := cache.GetJSON(ctx, r.cache, key, &v)
	if err != nil {
		r.log.WarnContext(ctx, "context cache read failed", "key", key, "error", err)
	} else if hit {
		return v, nil
	}

	v, err = load()
	if err != nil {
		return v, err
	}
	if err := cache.SetJSON(ctx, r.cache, key, v, r.ttl); err != nil {
		r.log.WarnContext(ctx, "context cache write failed", "key", key, "error", err)
	}
	return v, nil
}

func digest(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}
