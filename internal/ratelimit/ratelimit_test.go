package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/possync/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledWithoutRedis(t *testing.T) {
	ctx := context.Background()

	locker := NewLocker(nil)
	assert.False(t, locker.Enabled())
	_, ok, err := locker.TryLock(ctx, "possync:ingestion", time.Minute)
	assert.ErrorIs(t, err, ErrLockNotConfigured)
	assert.False(t, ok)
	assert.NoError(t, locker.Release(ctx, "possync:ingestion", "token"))

	limiter := NewUploadLimiter(nil, config.Config{UploadRate: 1, UploadBurst: 1})
	res, err := limiter.AllowLocation(ctx, "001")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestBucketResult(t *testing.T) {
	res := bucketResult([]interface{}{int64(0), "0.5", int64(1700000000000)}, 2, 10)
	assert.False(t, res.Allowed)
	assert.Equal(t, 10, res.Limit)
	assert.Equal(t, 250*time.Millisecond, res.RetryAfter)

	res = bucketResult([]interface{}{int64(1), "3", int64(1700000000000)}, 2, 10)
	assert.True(t, res.Allowed)
	assert.Equal(t, 3, res.Remaining)
	assert.Zero(t, res.RetryAfter)
}

func TestDefaultBucketTTL(t *testing.T) {
	assert.Equal(t, 10*time.Second, defaultBucketTTL(2, 10))
	assert.Equal(t, time.Second, defaultBucketTTL(100, 1))
	assert.Equal(t, time.Second, defaultBucketTTL(0, 0))
}
