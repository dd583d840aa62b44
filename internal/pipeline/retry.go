package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"jordanella.com/pogo-fleet/internal/clock"
	"jordanella.com/pogo-fleet/internal/gameapi"
	"jordanella.com/pogo-fleet/internal/logging"
)

// RetryConfig controls the resilience layer
type RetryConfig struct {
	Schedule        []time.Duration // outer backoff, consumed in order
	HashingAttempts int             // inner attempts on hashing outages
	HashingBase     time.Duration   // inner sleep is attempt x HashingBase
	ThrottleSleep   time.Duration   // pause after a server throttle signal
}

// DefaultRetryConfig returns the standard schedule
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Schedule: []time.Duration{
			12 * time.Second,
			24 * time.Second,
			24 * time.Second,
			24 * time.Second,
			24 * time.Second,
			60 * time.Second,
			60 * time.Second,
			60 * time.Second,
			120 * time.Second,
			240 * time.Second,
			480 * time.Second,
			3600 * time.Second,
		},
		HashingAttempts: 5,
		HashingBase:     10 * time.Second,
		ThrottleSleep:   5 * time.Second,
	}
}

// ScheduleBackOff yields a fixed sequence of durations, then backoff.Stop
type ScheduleBackOff struct {
	schedule []time.Duration
	next     int
}

// NewScheduleBackOff creates a backoff over schedule
func NewScheduleBackOff(schedule []time.Duration) *ScheduleBackOff {
	return &ScheduleBackOff{schedule: schedule}
}

// NextBackOff implements backoff.BackOff
func (b *ScheduleBackOff) NextBackOff() time.Duration {
	if b.next >= len(b.schedule) {
		return backoff.Stop
	}
	d := b.schedule[b.next]
	b.next++
	return d
}

// Reset implements backoff.BackOff
func (b *ScheduleBackOff) Reset() {
	b.next = 0
}

// clockTimer drives backoff waits from a clock.Clock
type clockTimer struct {
	clock clock.Clock
	c     <-chan time.Time
}

func (t *clockTimer) Start(d time.Duration) { t.c = t.clock.After(d) }
func (t *clockTimer) Stop()                 {}
func (t *clockTimer) C() <-chan time.Time   { return t.c }

// Retry classifies failures and retries transient ones
type Retry struct {
	config   RetryConfig
	clock    clock.Clock
	switcher func() gameapi.HashingSwitcher
	observer Observer
	logger   *logging.Logger
	schedule *ScheduleBackOff
}

// NewRetry creates a retry stage. switcher returns the current client's
// hashing failover, or nil when it has none.
func NewRetry(config RetryConfig, clk clock.Clock, switcher func() gameapi.HashingSwitcher) *Retry {
	return &Retry{
		config:   config,
		clock:    clk,
		switcher: switcher,
		observer: nopObserver{},
		logger:   logging.NewLogger("Retry"),
		schedule: NewScheduleBackOff(config.Schedule),
	}
}

// Name implements Stage
func (r *Retry) Name() string { return "retry" }

// Retryable reports whether the outer backoff loop should try again
func Retryable(err error) bool {
	return gameapi.IsHashingFailure(err) ||
		errors.Is(err, gameapi.ErrHashingQuotaExceeded) ||
		errors.Is(err, gameapi.ErrServerThrottled) ||
		gameapi.IsSilentRetryable(err)
}

func retryReason(err error) string {
	switch {
	case errors.Is(err, gameapi.ErrHashingQuotaExceeded):
		return "hashing_quota"
	case gameapi.IsHashingFailure(err):
		return "hashing"
	case errors.Is(err, gameapi.ErrServerThrottled):
		return "throttled"
	default:
		return "transport"
	}
}

// Wrap runs the backoff loop around the inner classification
func (r *Retry) Wrap(next Invoker) Invoker {
	return InvokerFunc(func(ctx context.Context, req gameapi.Request) (*gameapi.Response, error) {
		var resp *gameapi.Response

		operation := func() error {
			var err error
			resp, err = r.attempt(ctx, next, req)
			if err == nil {
				return nil
			}
			if cerr := ctx.Err(); cerr != nil {
				return backoff.Permanent(cerr)
			}
			if !Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}

		notify := func(err error, wait time.Duration) {
			r.observer.ObserveRetry(req.Action, retryReason(err))
			r.observer.ObserveSleep(SleepBackoff, wait)
			if gameapi.IsSilentRetryable(err) {
				return
			}
			r.logger.WarnWithContext("Retrying action", map[string]interface{}{
				"action":  string(req.Action),
				"error":   err.Error(),
				"wait_ms": wait.Milliseconds(),
			})
		}

		b := backoff.WithContext(r.schedule, ctx)
		err := backoff.RetryNotifyWithTimer(operation, b, notify, &clockTimer{clock: r.clock})
		if err == nil {
			r.schedule.Reset()
			return resp, nil
		}
		if Retryable(err) && ctx.Err() == nil {
			r.logger.ErrorWithContext("Giving up on action", err, map[string]interface{}{
				"action": string(req.Action),
			})
			return resp, fmt.Errorf("%w: %s: %w", ErrAPIActionAbandoned, req.Action, err)
		}
		return resp, err
	})
}

// attempt is one pass of the inner classification. Hashing outages are
// retried here with escalating sleeps; quota errors first fail over to an
// alternate endpoint without using an attempt.
func (r *Retry) attempt(ctx context.Context, next Invoker, req gameapi.Request) (*gameapi.Response, error) {
	hashingFailures := 0

	for {
		resp, err := next.Invoke(ctx, req)
		switch {
		case err == nil:
			return resp, nil

		case errors.Is(err, gameapi.ErrHashingQuotaExceeded):
			if sw := r.hashingSwitcher(); sw != nil && sw.SwitchHashingEndpoint() {
				r.logger.InfoWithContext("Switched hashing endpoint", map[string]interface{}{
					"action": string(req.Action),
				})
				r.observer.ObserveRetry(req.Action, "hashing_switch")
				continue
			}

		case gameapi.IsHashingFailure(err):

		case errors.Is(err, gameapi.ErrServerThrottled):
			r.observer.ObserveSleep(SleepThrottle, r.config.ThrottleSleep)
			if serr := r.clock.Sleep(ctx, r.config.ThrottleSleep); serr != nil {
				return resp, serr
			}
			return resp, err

		default:
			return resp, err
		}

		hashingFailures++
		if hashingFailures >= r.config.HashingAttempts {
			return resp, err
		}

		wait := time.Duration(hashingFailures) * r.config.HashingBase
		r.logger.WarnWithContext("Hashing service failure", map[string]interface{}{
			"action":  string(req.Action),
			"attempt": hashingFailures,
			"error":   err.Error(),
		})
		r.observer.ObserveSleep(SleepHashing, wait)
		if serr := r.clock.Sleep(ctx, wait); serr != nil {
			return resp, serr
		}
	}
}

func (r *Retry) hashingSwitcher() gameapi.HashingSwitcher {
	if r.switcher == nil {
		return nil
	}
	return r.switcher()
}
