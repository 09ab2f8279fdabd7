package notification

import (
	"context"
	"errors"
)

// ErrRecipientThrottled is returned by the worker when a recipient is over its
// send window. The task is retried later without counting as a failure.
var ErrRecipientThrottled = errors.New("recipient rate limit exceeded")

// RecipientRateLimiter defines the contract for per-recipient rate limiting.
// Implementations live in infra/ratelimit/.
type RecipientRateLimiter interface {
	// Allow reports whether another message may go to recipient on behalf of
	// application in the current window.
	Allow(ctx context.Context, application, recipient string) (bool, error)
}
