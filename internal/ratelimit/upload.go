package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/possync/internal/config"
)

const keyUploadLocation = "possync:upload:location:%s"

// UploadLimiter throttles push uploads per location on the admin node.
type UploadLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewUploadLimiter(client *redis.Client, cfg config.Config) *UploadLimiter {
	if client == nil || cfg.UploadRate <= 0 || cfg.UploadBurst <= 0 {
		return nil
	}
	return &UploadLimiter{
		bucket: NewTokenBucket(client),
		rate:   cfg.UploadRate,
		burst:  cfg.UploadBurst,
	}
}

func (l *UploadLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *UploadLimiter) AllowLocation(ctx context.Context, locationCode string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyUploadLocation, strings.TrimSpace(locationCode)), l.rate, l.burst)
}
