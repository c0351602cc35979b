package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimitedProvider throttles Stream calls with a token bucket shared by
// every node of every run that holds the same provider.
type RateLimitedProvider struct {
	inner   Provider
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewRateLimitedProvider wraps p. A non-positive rps disables limiting and
// returns p unchanged.
func NewRateLimitedProvider(p Provider, rps float64, burst int, logger *zap.Logger) Provider {
	if rps <= 0 {
		return p
	}
	if burst <= 0 {
		burst = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimitedProvider{
		inner:   p,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger.With(zap.String("component", "llm_rate_limiter")),
	}
}

func (r *RateLimitedProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		r.logger.Warn("rate limiter wait aborted", zap.String("provider", r.inner.Name()), zap.Error(err))
		return nil, &Error{
			Code:      ErrRateLimited,
			Message:   fmt.Sprintf("rate limit wait: %v", err),
			Retryable: false,
			Provider:  r.inner.Name(),
		}
	}
	return r.inner.Stream(ctx, req)
}

func (r *RateLimitedProvider) Name() string {
	return r.inner.Name()
}
