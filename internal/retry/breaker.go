// Sawyer's RPG - Cloud Save Gateway
// Copyright 2026 cplax14
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cplax14/sawyers-rpg-game-sub008

package retry

import (
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/cplax14/sawyers-rpg-game-sub008/internal/logging"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/metrics"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/saves"
)

// Breaker fronts the remote document and blob stores with a circuit
// breaker so that a dead backend fails fast instead of burning the whole
// retry budget on every call.
//
// The breaker opens after a 60% failure rate over at least 10 requests,
// stays open for 30 seconds, then allows 3 trial requests in half-open
// state. Timing uses real time; tests exercise the wrapped operation
// directly rather than mocking the breaker.
type Breaker[T any] struct {
	cb   *gobreaker.CircuitBreaker[T]
	name string
}

// NewBreaker creates a named circuit breaker.
func NewBreaker[T any](name string) *Breaker[T] {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},

		// Only transient failures count against the breaker. A lookup of
		// an absent slot or rejected input says nothing about backend
		// health.
		IsSuccessful: func(err error) bool {
			return err == nil || !saves.CodeOf(err).Retryable()
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
			metrics.SetBreakerState(name, breakerStateValue(to))
		},
	}

	return &Breaker[T]{cb: gobreaker.NewCircuitBreaker[T](settings), name: name}
}

// Execute runs fn through the breaker. While the breaker is open,
// gobreaker.ErrOpenState is returned without invoking fn.
func (b *Breaker[T]) Execute(fn func() (T, error)) (T, error) {
	return b.cb.Execute(fn)
}

// breakerStateValue maps gobreaker states to the metric gauge values
// (0=closed, 1=half-open, 2=open).
func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
