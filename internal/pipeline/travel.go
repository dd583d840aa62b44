package pipeline

import (
	"context"
	"math"
	"time"

	"jordanella.com/pogo-fleet/internal/clock"
	"jordanella.com/pogo-fleet/internal/gameapi"
	"jordanella.com/pogo-fleet/internal/geo"
	"jordanella.com/pogo-fleet/internal/logging"
)

// TravelConfig sets the simulated movement speeds
type TravelConfig struct {
	SlowSpeed float64 // meters per second on foot
	FastSpeed float64 // meters per second by vehicle

	// FastCrossover is the slow-speed travel time above which a hop is
	// modelled at FastSpeed
	FastCrossover time.Duration
}

// DefaultTravelConfig returns 9 m/s on foot, 27 m/s for hops over two minutes
func DefaultTravelConfig() TravelConfig {
	return TravelConfig{
		SlowSpeed:     9,
		FastSpeed:     27,
		FastCrossover: 120 * time.Second,
	}
}

// Travel throttles position changes to a plausible speed
type Travel struct {
	config   TravelConfig
	clock    clock.Clock
	observer Observer
	logger   *logging.Logger

	last   *geo.Position
	lastAt time.Time
	fast   bool
}

// NewTravel creates a travel stage with no known position
func NewTravel(config TravelConfig, clk clock.Clock) *Travel {
	return &Travel{
		config:   config,
		clock:    clk,
		observer: nopObserver{},
		logger:   logging.NewLogger("Travel"),
	}
}

// Name implements Stage
func (t *Travel) Name() string { return "travel" }

// SetFast forces FastSpeed for every hop until cleared
func (t *Travel) SetFast(fast bool) {
	t.fast = fast
}

// Fast reports whether fast mode is forced
func (t *Travel) Fast() bool {
	return t.fast
}

// SetPosition records pos as reached at at
func (t *Travel) SetPosition(pos geo.Position, at time.Time) {
	p := pos
	t.last = &p
	t.lastAt = at
}

// Position returns the last known position, nil before the first move
func (t *Travel) Position() *geo.Position {
	if t.last == nil {
		return nil
	}
	p := *t.last
	return &p
}

// speedFor picks the speed for a hop of distance meters
func (t *Travel) speedFor(distance float64) float64 {
	if t.fast {
		return t.config.FastSpeed
	}
	slowTime := time.Duration(distance / t.config.SlowSpeed * float64(time.Second))
	if slowTime > t.config.FastCrossover {
		return t.config.FastSpeed
	}
	return t.config.SlowSpeed
}

// TimeToLocation returns how long to wait before next can be reached. Zero
// when no position is known yet.
func (t *Travel) TimeToLocation(next geo.Position) time.Duration {
	if t.last == nil {
		return 0
	}

	distance := geo.Distance(*t.last, next)
	speed := t.speedFor(distance)
	elapsed := t.clock.Now().Sub(t.lastAt).Seconds()

	remaining := distance/speed - elapsed
	if remaining <= 0 {
		return 0
	}
	return time.Duration(remaining * float64(time.Second))
}

// MetersAvailableRightNow is the distance already paid for by elapsed time
func (t *Travel) MetersAvailableRightNow() float64 {
	if t.last == nil {
		return math.Inf(1)
	}
	speed := t.config.SlowSpeed
	if t.fast {
		speed = t.config.FastSpeed
	}
	elapsed := t.clock.Now().Sub(t.lastAt).Seconds()
	if elapsed < 0 {
		return 0
	}
	return elapsed * speed
}

// SleepForTravel waits until next is reachable, then moves there
func (t *Travel) SleepForTravel(ctx context.Context, next geo.Position) error {
	if wait := t.TimeToLocation(next); wait > 0 {
		t.logger.DebugWithContext("Travelling", map[string]interface{}{
			"to":      next.String(),
			"wait_ms": wait.Milliseconds(),
			"fast":    t.fast,
		})
		t.observer.ObserveSleep(SleepTravel, wait)
		if err := t.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
	t.SetPosition(next, t.clock.Now())
	return nil
}

// Wrap throttles actions issued from a map position
func (t *Travel) Wrap(next Invoker) Invoker {
	return InvokerFunc(func(ctx context.Context, req gameapi.Request) (*gameapi.Response, error) {
		if req.Position != nil && req.Action.MovesPlayer() {
			if err := t.SleepForTravel(ctx, *req.Position); err != nil {
				return nil, err
			}
		}
		return next.Invoke(ctx, req)
	})
}

// Reset forgets the last position; the next move is unconstrained
func (t *Travel) Reset() {
	t.last = nil
	t.lastAt = time.Time{}
}
