// Package retry provides exponential backoff with jitter for establishing
// connections to the storage engine and the remote transport.
//
// Delivery of queued mutations is not retried here: a failed
// delivery is retried by the next drain pass of the sync engine.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
)

// Config holds configuration for retry logic
type Config struct {
	MaxAttempts   uint64
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	JitterPercent uint64
}

// PostgreSQLDefaults returns the defaults used when opening the PostgreSQL store
func PostgreSQLDefaults() *Config {
	return &Config{
		MaxAttempts:   10,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		JitterPercent: 10,
	}
}

// EtcdDefaults returns the defaults used when connecting the etcd transport
func EtcdDefaults() *Config {
	return &Config{
		MaxAttempts:   15, // etcd can take longer to recover
		BaseDelay:     200 * time.Millisecond,
		MaxDelay:      1 * time.Minute,
		JitterPercent: 15,
	}
}

// WithOperation runs operation until it succeeds, the attempts are exhausted
// or ctx is done. Context errors returned by operation stop the loop.
func WithOperation(ctx context.Context, config *Config, operationName string, operation func(ctx context.Context) error) error {
	attempt := 0
	return retry.Do(ctx, config.CreateBackoff(), func(ctx context.Context) error {
		attempt++
		err := operation(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		logrus.WithError(err).
			WithFields(logrus.Fields{"operation": operationName, "attempt": attempt}).
			Warn("Operation failed, retrying...")
		return retry.RetryableError(err)
	})
}

// CreateBackoff creates a reusable backoff strategy from config
func (c *Config) CreateBackoff() retry.Backoff {
	backoff := retry.NewExponential(c.BaseDelay)
	backoff = retry.WithMaxRetries(c.MaxAttempts, backoff)
	backoff = retry.WithCappedDuration(c.MaxDelay, backoff)
	backoff = retry.WithJitterPercent(c.JitterPercent, backoff)
	return backoff
}
