package pipeline

import (
	"context"
	"time"

	"jordanella.com/pogo-fleet/internal/apitiming"
	"jordanella.com/pogo-fleet/internal/clock"
	"jordanella.com/pogo-fleet/internal/gameapi"
	"jordanella.com/pogo-fleet/internal/logging"
)

// Delay enforces the minimum gap between consecutive actions of one session
type Delay struct {
	table    *apitiming.Table
	clock    clock.Clock
	observer Observer
	logger   *logging.Logger

	previous   gameapi.Action
	previousAt time.Time
	nextScan   time.Time // earliest time the next map scan may go out
}

// NewDelay creates a delay stage backed by table
func NewDelay(table *apitiming.Table, clk clock.Clock) *Delay {
	return &Delay{
		table:    table,
		clock:    clk,
		observer: nopObserver{},
		logger:   logging.NewLogger("Delay"),
	}
}

// Name implements Stage
func (d *Delay) Name() string { return "delay" }

// Previous returns the last recorded action and when it was issued
func (d *Delay) Previous() (gameapi.Action, time.Time) {
	return d.previous, d.previousAt
}

// Required returns how long action must still wait
func (d *Delay) Required(action gameapi.Action) time.Duration {
	now := d.clock.Now()

	var wait time.Duration
	if d.previous != "" {
		gap := d.table.MinDelay(d.previous, action)
		if elapsed := now.Sub(d.previousAt); elapsed < gap {
			wait = gap - elapsed
		}
	}

	if action.IsScan() && now.Before(d.nextScan) {
		if w := d.nextScan.Sub(now); w > wait {
			wait = w
		}
	}
	return wait
}

// Wrap sleeps out the required gap, invokes next and records the action
// whatever the outcome, so failing calls still pace their successors
func (d *Delay) Wrap(next Invoker) Invoker {
	return InvokerFunc(func(ctx context.Context, req gameapi.Request) (*gameapi.Response, error) {
		if wait := d.Required(req.Action); wait > 0 {
			d.logger.DebugWithContext("Delaying action", map[string]interface{}{
				"action":   string(req.Action),
				"previous": string(d.previous),
				"wait_ms":  wait.Milliseconds(),
			})
			d.observer.ObserveSleep(SleepDelay, wait)
			if err := d.clock.Sleep(ctx, wait); err != nil {
				return nil, err
			}
		}

		resp, err := next.Invoke(ctx, req)
		d.record(req.Action)
		return resp, err
	})
}

func (d *Delay) record(action gameapi.Action) {
	now := d.clock.Now()
	d.previous = action
	d.previousAt = now
	if action.IsScan() {
		d.nextScan = now.Add(apitiming.MinGMOInterval)
	}
}

// Reset forgets the previous action
func (d *Delay) Reset() {
	d.previous = ""
	d.previousAt = time.Time{}
	d.nextScan = time.Time{}
}
