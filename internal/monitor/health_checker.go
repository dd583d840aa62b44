package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"jordanella.com/pogo-fleet/internal/clock"
	"jordanella.com/pogo-fleet/internal/worker"
)

// WorkerSource lists worker snapshots for stuck detection
type WorkerSource interface {
	Statuses() []worker.Status
}

// Pinger checks that a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// UnhealthyCallback is called when a check fails
type UnhealthyCallback func(reason string, err error)

// Reasons passed to UnhealthyCallback
const (
	ReasonWorkerStuck         = "worker_stuck"
	ReasonDatabaseUnreachable = "database_unreachable"
)

// HealthChecker watches running workers for stalls and pings the database
type HealthChecker struct {
	workers        WorkerSource
	db             Pinger
	clock          clock.Clock
	stuckThreshold int
	stuckTimeout   time.Duration
	checkInterval  time.Duration
	onUnhealthy    UnhealthyCallback

	mu         sync.Mutex
	stuckCount map[int]int
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewHealthChecker creates a checker over workers. A worker is reported once
// it has shown no activity for stuckTimeout on three consecutive checks.
func NewHealthChecker(workers WorkerSource, stuckTimeout time.Duration) *HealthChecker {
	return &HealthChecker{
		workers:        workers,
		clock:          clock.Real{},
		stuckThreshold: 3,
		stuckTimeout:   stuckTimeout,
		checkInterval:  30 * time.Second,
		stuckCount:     make(map[int]int),
	}
}

// WithUnhealthyCallback sets the callback for failed checks
func (hc *HealthChecker) WithUnhealthyCallback(callback UnhealthyCallback) *HealthChecker {
	hc.onUnhealthy = callback
	return hc
}

// WithCheckInterval sets how often checks run
func (hc *HealthChecker) WithCheckInterval(interval time.Duration) *HealthChecker {
	hc.checkInterval = interval
	return hc
}

// WithDatabase adds a reachability check
func (hc *HealthChecker) WithDatabase(db Pinger) *HealthChecker {
	hc.db = db
	return hc
}

// WithClock replaces the time source
func (hc *HealthChecker) WithClock(c clock.Clock) *HealthChecker {
	hc.clock = c
	return hc
}

// Start begins periodic checks until ctx is cancelled or Stop is called
func (hc *HealthChecker) Start(ctx context.Context) {
	ctx, hc.cancel = context.WithCancel(ctx)
	hc.wg.Add(1)
	go func() {
		defer hc.wg.Done()
		ticker := time.NewTicker(hc.checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				hc.Check(ctx)
			}
		}
	}()
}

// Stop ends monitoring
func (hc *HealthChecker) Stop() {
	if hc.cancel != nil {
		hc.cancel()
	}
	hc.wg.Wait()
}

// Check runs one pass of every check
func (hc *HealthChecker) Check(ctx context.Context) {
	hc.checkWorkers()

	if err := hc.CheckDatabase(ctx); err != nil {
		hc.unhealthy(ReasonDatabaseUnreachable, err)
	}
}

func (hc *HealthChecker) checkWorkers() {
	now := hc.clock.Now()

	hc.mu.Lock()
	var stuck []error
	for _, status := range hc.workers.Statuses() {
		idle := now.Sub(status.Activity)
		if !status.Running || idle <= hc.stuckTimeout {
			delete(hc.stuckCount, status.ID)
			continue
		}

		hc.stuckCount[status.ID]++
		if hc.stuckCount[status.ID] >= hc.stuckThreshold {
			stuck = append(stuck, fmt.Errorf("worker %d on %q: no activity for %v", status.ID, status.Account, idle.Round(time.Second)))
			hc.stuckCount[status.ID] = 0
		}
	}
	hc.mu.Unlock()

	for _, err := range stuck {
		hc.unhealthy(ReasonWorkerStuck, err)
	}
}

// CheckDatabase pings the database with a short timeout
func (hc *HealthChecker) CheckDatabase(ctx context.Context) error {
	if hc.db == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := hc.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

func (hc *HealthChecker) unhealthy(reason string, err error) {
	if hc.onUnhealthy != nil {
		hc.onUnhealthy(reason, err)
	}
}
