// Package retry provides the bounded retry loop used for outbound channel
// sends: fixed delay with a small random jitter, transient-error
// classification, cooperative cancellation.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Config bounds one retry loop.
type Config struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultConfig matches the notifier's delivery policy.
var DefaultConfig = Config{
	MaxAttempts: 3,
	Delay:       5 * time.Second,
}

// Do runs fn up to MaxAttempts times, sleeping Delay (plus jitter) between
// attempts. Permanent errors abort the loop early; the last error is
// returned wrapped with the attempt count.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig.MaxAttempts
	}
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultConfig.Delay
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("operation canceled: %w", err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !IsTransientError(lastErr) || attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-time.After(withJitter(cfg.Delay)):
		case <-ctx.Done():
			return fmt.Errorf("operation canceled during backoff: %w", ctx.Err())
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// withJitter adds up to 25% random delay to desynchronize retry storms.
func withJitter(delay time.Duration) time.Duration {
	maxJitter := int64(delay / 4)
	if maxJitter <= 0 {
		return delay
	}
	jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
	if err != nil {
		return delay
	}
	return delay + time.Duration(jitterVal.Int64())
}

// IsTransientError classifies errors worth retrying: network hiccups and
// 5xx/429-class provider responses.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"429", // HTTP 429 Too Many Requests
		"500", // HTTP 500 Internal Server Error
		"502", // HTTP 502 Bad Gateway
		"503", // HTTP 503 Service Unavailable
		"504", // HTTP 504 Gateway Timeout
		"network",
		"dns",
		"tcp",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
