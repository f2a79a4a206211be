// Sawyer's RPG - Cloud Save Gateway
// Copyright 2026 cplax14
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cplax14/sawyers-rpg-game-sub008

package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cplax14/sawyers-rpg-game-sub008/internal/saves"
)

// fastConfig keeps test backoffs in the microsecond range.
func fastConfig(maxAttempts int) Config {
	return Config{
		Class:       ClassNetwork,
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Microsecond,
		Multiplier:  2.0,
		MaxDelay:    time.Millisecond,
	}
}

func TestDo_SuccessFirstTry(t *testing.T) {
	var calls int32
	got, err := Do(context.Background(), fastConfig(3), func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != "ok" || calls != 1 {
		t.Errorf("got=%q calls=%d, want ok/1", got, calls)
	}
}

func TestDo_RetriesThenSucceeds(t *testing.T) {
	var calls int32
	got, err := Do(context.Background(), fastConfig(5), func(context.Context) (int, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return 0, errors.New("flaky")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != 42 || calls != 3 {
		t.Errorf("got=%d calls=%d, want 42/3", got, calls)
	}
}

func TestDo_ExactAttemptBudget(t *testing.T) {
	var calls int32
	_, err := Do(context.Background(), fastConfig(4), func(context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, errors.New("always fails")
	})
	if err == nil {
		t.Fatal("expected failure")
	}
	if calls != 4 {
		t.Errorf("calls = %d, want exactly maxAttempts (4)", calls)
	}
	if saves.CodeOf(err) != saves.CodeOperationFailed {
		t.Errorf("code = %s, want OPERATION_FAILED", saves.CodeOf(err))
	}
}

func TestDo_FatalErrorNotRetried(t *testing.T) {
	var calls int32
	_, err := Do(context.Background(), fastConfig(5), func(context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, saves.E(saves.CodeDataInvalid, "bad slot")
	})
	if calls != 1 {
		t.Errorf("fatal error retried: calls = %d", calls)
	}
	if saves.CodeOf(err) != saves.CodeDataInvalid {
		t.Errorf("code = %s, want DATA_INVALID preserved", saves.CodeOf(err))
	}
}

func TestDo_TimeoutCodePreserved(t *testing.T) {
	_, err := Do(context.Background(), fastConfig(2), func(context.Context) (int, error) {
		return 0, saves.E(saves.CodeOperationTimeout, "remote deadline")
	})
	if saves.CodeOf(err) != saves.CodeOperationTimeout {
		t.Errorf("code = %s, want OPERATION_TIMEOUT after exhaustion", saves.CodeOf(err))
	}
}

func TestDo_ContextCancelStopsScheduling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cfg := fastConfig(10)
	cfg.BaseDelay = time.Hour // cancellation must beat the backoff timer

	var calls int32
	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, cfg, func(context.Context) (int, error) {
			atomic.AddInt32(&calls, 1)
			return 0, errors.New("fail")
		})
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error after cancellation")
		}
		if atomic.LoadInt32(&calls) != 1 {
			t.Errorf("calls = %d, want 1 (no attempt after cancel)", calls)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return promptly after context cancellation")
	}
}

func TestDo_DeadlineMapsToTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	cfg := fastConfig(10)
	cfg.BaseDelay = time.Second

	_, err := Do(ctx, cfg, func(context.Context) (int, error) {
		return 0, errors.New("fail")
	})
	if saves.CodeOf(err) != saves.CodeOperationTimeout {
		t.Errorf("code = %s, want OPERATION_TIMEOUT for deadline expiry", saves.CodeOf(err))
	}
}

func TestDo_Hooks(t *testing.T) {
	var retries, exhausted int32

	cfg := fastConfig(3)
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		atomic.AddInt32(&retries, 1)
	}
	cfg.OnExhausted = func(attempts int, err error) {
		atomic.AddInt32(&exhausted, 1)
	}

	_, _ = Do(context.Background(), cfg, func(context.Context) (int, error) {
		return 0, errors.New("fail")
	})

	if retries != 2 {
		t.Errorf("OnRetry fired %d times, want 2 (between 3 attempts)", retries)
	}
	if exhausted != 1 {
		t.Errorf("OnExhausted fired %d times, want 1", exhausted)
	}
}

func TestWithJitter_Bounds(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 100; i++ {
		d := withJitter(base, 0.5)
		if d < base || d > base+base/2 {
			t.Fatalf("jittered delay %v outside [%v, %v]", d, base, base+base/2)
		}
	}
	if withJitter(base, 0) != base {
		t.Error("zero jitter must not change the delay")
	}
}

func TestPresets(t *testing.T) {
	crit, net, light := Critical(), Network(), Light()

	if crit.MaxAttempts <= net.MaxAttempts {
		t.Error("critical preset must carry a higher attempt budget than network")
	}
	if light.MaxAttempts >= net.MaxAttempts {
		t.Error("light preset must carry the smallest attempt budget")
	}
	for _, cfg := range []Config{crit, net, light} {
		if cfg.BaseDelay <= 0 || cfg.MaxDelay <= 0 || cfg.Multiplier < 1 {
			t.Errorf("preset %s has degenerate backoff parameters: %+v", cfg.Class, cfg)
		}
	}
}
