// Sawyer's RPG - Cloud Save Gateway
// Copyright 2026 cplax14
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cplax14/sawyers-rpg-game-sub008

// Package retry wraps fallible remote operations with classified
// exponential backoff.
//
// Three presets cover the gateway's operation classes:
//
//   - Critical: atomic multi-document writes. Highest attempt budget;
//     used where partial failure is unacceptable.
//   - Network: reads and queries. Moderate budget.
//   - Light: best-effort side operations such as attachment uploads.
//     Callers catch failures and treat them as warnings.
//
// Fatal errors (anything whose saves.Code is not retryable) propagate
// immediately. The total latency of a wrapped call is bounded by
// MaxAttempts and MaxDelay. Cancelling the context stops the loop before
// the next attempt is scheduled; no timers are left running.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/cplax14/sawyers-rpg-game-sub008/internal/logging"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/metrics"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/saves"
)

// Class names an operation class for logging and metrics.
type Class string

const (
	ClassCritical Class = "critical"
	ClassNetwork  Class = "network"
	ClassLight    Class = "light"
)

// Config governs one wrapped operation.
type Config struct {
	// Class tags log lines and metrics for this operation.
	Class Class

	// MaxAttempts is the total attempt budget, first try included.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration

	// Multiplier grows the delay after every failed attempt.
	Multiplier float64

	// MaxDelay caps a single backoff delay.
	MaxDelay time.Duration

	// Jitter is the random fraction (0..1) added to each delay to
	// decorrelate concurrent retriers.
	Jitter float64

	// Classify reports whether err is worth retrying. Nil means the
	// default classification by saves.Code.
	Classify func(err error) bool

	// OnRetry fires before each backoff sleep.
	OnRetry func(attempt int, err error, delay time.Duration)

	// OnExhausted fires when the attempt budget is spent.
	OnExhausted func(attempts int, err error)
}

// Critical returns the preset for atomic multi-document writes.
func Critical() Config {
	return Config{
		Class:       ClassCritical,
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    15 * time.Second,
		Jitter:      0.2,
	}
}

// Network returns the preset for remote reads and queries.
func Network() Config {
	return Config{
		Class:       ClassNetwork,
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    5 * time.Second,
		Jitter:      0.2,
	}
}

// Light returns the preset for best-effort side operations.
func Light() Config {
	return Config{
		Class:       ClassLight,
		MaxAttempts: 2,
		BaseDelay:   200 * time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    2 * time.Second,
		Jitter:      0.2,
	}
}

// Do executes op under cfg. Retryable failures are re-attempted with
// exponential backoff plus jitter up to MaxAttempts; fatal errors and
// context cancellation return immediately.
func Do[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2.0
	}
	classify := cfg.Classify
	if classify == nil {
		classify = defaultClassify
	}

	var lastErr error
	delay := cfg.BaseDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, contextError(err)
		}

		val, err := op(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err
		metrics.RecordRetryAttempt(string(cfg.Class))

		if !classify(err) {
			// Fatal: propagate without touching the budget.
			return zero, err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		sleep := withJitter(delay, cfg.Jitter)
		if cfg.MaxDelay > 0 && sleep > cfg.MaxDelay {
			sleep = cfg.MaxDelay
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, sleep)
		}
		logging.Ctx(ctx).Debug().
			Str("class", string(cfg.Class)).
			Int("attempt", attempt).
			Dur("backoff", sleep).
			Err(err).
			Msg("operation failed, backing off")

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, contextError(ctx.Err())
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	if cfg.OnExhausted != nil {
		cfg.OnExhausted(cfg.MaxAttempts, lastErr)
	}
	metrics.RecordRetryExhausted(string(cfg.Class))

	code := saves.CodeOf(lastErr)
	if code != saves.CodeOperationTimeout {
		code = saves.CodeOperationFailed
	}
	return zero, saves.Wrap(code, lastErr,
		"operation failed after %d attempts", cfg.MaxAttempts)
}

// defaultClassify retries anything whose saves.Code is marked retryable.
// Unclassified errors map to OPERATION_FAILED, which is retryable.
func defaultClassify(err error) bool {
	return saves.CodeOf(err).Retryable()
}

// contextError converts a context error into the taxonomy: deadline
// expiry is a timeout, cancellation a plain failure.
func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return saves.Wrap(saves.CodeOperationTimeout, err, "operation deadline exceeded")
	}
	return saves.Wrap(saves.CodeOperationFailed, err, "operation cancelled")
}

// withJitter adds a random fraction of delay.
func withJitter(delay time.Duration, jitter float64) time.Duration {
	if jitter <= 0 || delay <= 0 {
		return delay
	}
	//nolint:gosec // math/rand is fine for backoff jitter
	return delay + time.Duration(rand.Float64()*jitter*float64(delay))
}
