package web_search

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mohammad-safakhou/deepresearch/internal/cache"
	"github.com/mohammad-safakhou/deepresearch/internal/circuitbreaker"
	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
	"github.com/mohammad-safakhou/deepresearch/tools/web_search/models"
)

// Guarded puts a result cache, a rate limiter and a circuit breaker in
// front of a provider. Each is optional.
type Guarded struct {
	provider string
	next     WebSearcher
	limiter  *rate.Limiter
	breaker  *circuitbreaker.Breaker
	cache    *cache.JSON
	ttl      time.Duration
	logger   *zap.Logger
}

// GuardOption configures Guarded.
type GuardOption func(*Guarded)

// WithRateLimit allows rps requests per second.
func WithRateLimit(rps float64) GuardOption {
	return func(g *Guarded) {
		if rps > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithCache serves repeated queries from c for ttl.
func WithCache(c *cache.JSON, ttl time.Duration) GuardOption {
	return func(g *Guarded) {
		if c != nil && ttl > 0 {
			g.cache, g.ttl = c, ttl
		}
	}
}

// NewGuarded wraps next.
func NewGuarded(provider string, next WebSearcher, logger *zap.Logger, opts ...GuardOption) *Guarded {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Guarded{
		provider: provider,
		next:     next,
		breaker:  circuitbreaker.New("search:"+provider, circuitbreaker.DefaultConfig(), logger),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Discover implements WebSearcher.
func (g *Guarded) Discover(ctx context.Context, q string, k int) ([]models.Result, error) {
	var key string
	if g.cache != nil {
		key = g.cache.Key(g.provider, helpers.QueryKey(q), fmt.Sprint(k))
		var cached []models.Result
		hit, err := g.cache.Get(ctx, key, &cached)
		if err != nil {
			g.logger.Warn("search cache read failed", zap.Error(err))
		} else if hit {
			return cached, nil
		}
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("search rate limit: %w", err)
		}
	}
	var out []models.Result
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.next.Discover(ctx, q, k)
		return err
	})
	if err != nil {
		return nil, err
	}
	if g.cache != nil && len(out) > 0 {
		if err := g.cache.Set(ctx, key, out, g.ttl); err != nil {
			g.logger.Warn("search cache write failed", zap.Error(err))
		}
	}
	return out, nil
}
