package generation

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimited wraps a Provider with a token-bucket limiter so concurrent
// workflow instances cannot overrun an upstream model quota.
type RateLimited struct {
	inner   Provider
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewRateLimited creates a rate-limited provider allowing rps requests per
// second with the given burst.
func NewRateLimited(inner Provider, rps float64, burst int, logger *zap.Logger) *RateLimited {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger.With(zap.String("component", "generation_ratelimit")),
	}
}

// Generate waits for limiter capacity, then delegates. A canceled wait is
// returned as-is so the run loop observes the context error.
func (p *RateLimited) Generate(ctx context.Context, persona *Persona, req *Request) (*Result, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.inner.Generate(ctx, persona, req)
}
