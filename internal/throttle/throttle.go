// Package throttle holds uploads back while the catalog's ingestion queue is full.
package throttle

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Counter reports how many ingestion operations are queued or running.
type Counter interface {
	CountActiveOperations(ctx context.Context) (int, error)
}

// CounterFunc adapts a function to Counter.
type CounterFunc func(ctx context.Context) (int, error)

func (f CounterFunc) CountActiveOperations(ctx context.Context) (int, error) {
	return f(ctx)
}

// Throttle blocks callers until the active-operation count drops below a ceiling.
// It holds no mutable state, so concurrent workers may share one.
type Throttle struct {
	counter  Counter
	ceiling  int
	interval time.Duration

	sleep  func(ctx context.Context, d time.Duration) error
	onWait func(count int)
}

type Option func(*Throttle)

// WithSleep replaces the wait between polls.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(t *Throttle) {
		t.sleep = sleep
	}
}

// WithOnWait registers a callback invoked each time a caller has to wait.
func WithOnWait(fn func(count int)) Option {
	return func(t *Throttle) {
		t.onWait = fn
	}
}

// New creates a throttle. A ceiling of zero or less disables throttling.
func New(counter Counter, ceiling int, interval time.Duration, opts ...Option) *Throttle {
	t := &Throttle{
		counter:  counter,
		ceiling:  ceiling,
		interval: interval,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// WaitForCapacity returns once fewer than ceiling operations are active. There is no
// internal deadline: only ctx ends the wait early.
func (t *Throttle) WaitForCapacity(ctx context.Context) error {
	if t == nil || t.ceiling <= 0 {
		return nil
	}
	for {
		count, err := t.counter.CountActiveOperations(ctx)
		if err != nil {
			return fmt.Errorf("counting active operations: %w", err)
		}
		if count < t.ceiling {
			return nil
		}

		slog.Info("ingestion queue full, waiting", "active", count, "ceiling", t.ceiling, "interval", t.interval)
		if t.onWait != nil {
			t.onWait(count)
		}
		if err := t.sleep(ctx, t.interval); err != nil {
			return err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
