package ratelimit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"postroom/internal/config"
	"postroom/internal/domain/notification"

	"github.com/redis/go-redis/v9"
)

var _ notification.RecipientRateLimiter = (*RedisRecipientLimiter)(nil)

// NewRedisClient creates a go-redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// RedisRecipientLimiter enforces per-recipient send limits using Redis sorted sets.
// It uses a sliding window: each send is a member scored by its timestamp.
type RedisRecipientLimiter struct {
	client     redis.Cmdable
	maxPerHour int
	window     time.Duration
	now        func() time.Time
}

// NewRedisRecipientLimiter creates a Redis-based per-recipient rate limiter.
// A maxPerHour of zero or less disables limiting.
func NewRedisRecipientLimiter(client redis.Cmdable, maxPerHour int) *RedisRecipientLimiter {
	return &RedisRecipientLimiter{
		client:     client,
		maxPerHour: maxPerHour,
		window:     time.Hour,
		now:        time.Now,
	}
}

// Key returns the sorted set key for a recipient of an application.
// Addresses compare case-insensitively.
func Key(application, recipient string) string {
	return fmt.Sprintf("postroom:ratelimit:%s:%s", application, strings.ToLower(strings.TrimSpace(recipient)))
}

// Allow checks whether another message may be sent to recipient.
func (r *RedisRecipientLimiter) Allow(ctx context.Context, application, recipient string) (bool, error) {
	if r.maxPerHour <= 0 {
		return true, nil
	}

	key := Key(application, recipient)
	now := r.now()
	windowStart := now.Add(-r.window)

	pipe := r.client.Pipeline()

	// Drop entries outside the sliding window
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("checking recipient rate limit: %w", err)
	}

	if countCmd.Val() >= int64(r.maxPerHour) {
		return false, nil
	}

	// Unique member so concurrent sends at the same instant both count
	randBytes := make([]byte, 4)
	_, _ = rand.Read(randBytes)
	member := redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d:%s", now.UnixNano(), hex.EncodeToString(randBytes)),
	}

	pipe = r.client.Pipeline()
	pipe.ZAdd(ctx, key, member)
	pipe.Expire(ctx, key, r.window+time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("recording rate limit entry: %w", err)
	}

	return true, nil
}
