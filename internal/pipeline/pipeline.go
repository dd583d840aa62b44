// Package pipeline composes the per-session call chain: each Stage wraps the
// next Invoker with one capability (pacing, travel, retries, account-health
// detection) and the Builder assembles them in a fixed, visible order.
package pipeline

import (
	"context"
	"errors"
	"time"

	"jordanella.com/pogo-fleet/internal/gameapi"
)

// ErrAPIActionAbandoned is returned when the backoff schedule ran out for an
// action. It is fatal for that action only, not for the worker.
var ErrAPIActionAbandoned = errors.New("api action abandoned")

// Invoker performs one action
type Invoker interface {
	Invoke(ctx context.Context, req gameapi.Request) (*gameapi.Response, error)
}

// InvokerFunc adapts a function to Invoker
type InvokerFunc func(ctx context.Context, req gameapi.Request) (*gameapi.Response, error)

// Invoke implements Invoker
func (f InvokerFunc) Invoke(ctx context.Context, req gameapi.Request) (*gameapi.Response, error) {
	return f(ctx, req)
}

// Stage is one layer of the chain
type Stage interface {
	Name() string
	Wrap(next Invoker) Invoker
}

// Resetter is implemented by stages holding per-account state, cleared when
// the session swaps accounts
type Resetter interface {
	Reset()
}

// Chain wraps terminal with stages. stages[0] is the outermost layer and
// sees every call first.
func Chain(terminal Invoker, stages ...Stage) Invoker {
	inv := terminal
	for i := len(stages) - 1; i >= 0; i-- {
		inv = stages[i].Wrap(inv)
	}
	return inv
}

// Observer receives pipeline measurements
type Observer interface {
	ObserveCall(action gameapi.Action, err error, duration time.Duration)
	ObserveSleep(kind string, d time.Duration)
	ObserveRetry(action gameapi.Action, reason string)
}

// Sleep kinds reported to Observer
const (
	SleepDelay    = "delay"
	SleepTravel   = "travel"
	SleepHashing  = "hashing"
	SleepThrottle = "throttle"
	SleepBackoff  = "backoff"
)

type nopObserver struct{}

func (nopObserver) ObserveCall(gameapi.Action, error, time.Duration) {}
func (nopObserver) ObserveSleep(string, time.Duration)               {}
func (nopObserver) ObserveRetry(gameapi.Action, string)              {}
