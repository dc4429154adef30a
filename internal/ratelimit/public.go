package ratelimit

import (
	"context"

	"github.com/smallbiznis/seatledger/internal/config"
)

// PublicLimiter throttles the token-addressed invoice routes per client.
// A nil *PublicLimiter allows everything.
type PublicLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewPublicLimiter(bucket *TokenBucket, cfg config.RateLimitConfig) (*PublicLimiter, error) {
	if bucket == nil {
		return nil, nil
	}
	if cfg.Rate <= 0 || cfg.Burst <= 0 {
		return nil, ErrInvalidBucket
	}
	return &PublicLimiter{bucket: bucket, rate: cfg.Rate, burst: cfg.Burst}, nil
}

// Allow takes one token for client on route.
func (l *PublicLimiter) Allow(ctx context.Context, route, client string) (Decision, error) {
	if l == nil {
		return Decision{Allowed: true}, nil
	}
	if route == "" || client == "" {
		return Decision{}, ErrEmptyKey
	}
	return l.bucket.Take(ctx, "public:invoice:"+route+":"+client, l.rate, l.burst)
}
