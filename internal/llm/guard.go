package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/circuitbreaker"
)

// Guarded rate-limits and circuit-breaks another Generator.
type Guarded struct {
	next    Generator
	limiter *rate.Limiter
	breaker *circuitbreaker.Breaker
}

// NewGuarded wraps next. A non-positive rate disables limiting.
func NewGuarded(next Generator, cfg config.LLMConfig, logger *zap.Logger) *Guarded {
	g := &Guarded{next: next}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	g.breaker = circuitbreaker.New("llm", circuitbreaker.Config{
		FailureThreshold: uint32(cfg.Breaker.FailureThreshold),
		SuccessThreshold: uint32(cfg.Breaker.SuccessThreshold),
		Timeout:          cfg.Breaker.Timeout,
	}, logger)
	return g
}

// Generate implements Generator.
func (g *Guarded) Generate(ctx context.Context, req Request) (Response, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return Response{}, fmt.Errorf("llm rate limit: %w", err)
		}
	}
	var resp Response
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		resp, err = g.next.Generate(ctx, req)
		return err
	})
	return resp, err
}
