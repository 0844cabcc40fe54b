package ipfs

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/quantumfs/quantumfs/internal/qfserrors"
)

// RetryConfig controls Retryer's exponential backoff, grounded on the
// teacher's pkg/retry.Config shape.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	return c
}

// Retryer retries CodeStoreUnreachable failures with exponential
// backoff and jitter. Every other error returned by fn is surfaced
// immediately: spec.md §7 treats corrupt/invalid-hash/not-found errors
// as permanent, not transient.
type Retryer struct {
	config RetryConfig
}

// New builds a Retryer from cfg, filling in unset fields with defaults.
func New(cfg RetryConfig) *Retryer {
	return &Retryer{config: cfg.withDefaults()}
}

// Do runs fn, retrying on transient object-store errors until it
// succeeds, a non-retryable error is returned, ctx is canceled, or the
// attempt budget is exhausted.
func (r *Retryer) Do(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) || attempt == r.config.MaxAttempts {
			return err
		}

		delay := r.delayFor(attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

func isRetryable(err error) bool {
	var qerr *qfserrors.QuantumFSError
	if !errors.As(err, &qerr) {
		return false
	}
	return qerr.Code == qfserrors.CodeStoreUnreachable
}

func (r *Retryer) delayFor(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}
	jitter := delay * (0.5 + rand.Float64()*0.5)
	return time.Duration(jitter)
}
