package monitor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"jordanella.com/pogo-fleet/internal/clock"
	"jordanella.com/pogo-fleet/internal/worker"
)

type staticWorkers []worker.Status

func (s staticWorkers) Statuses() []worker.Status { return s }

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type recorded struct {
	reason string
	err    error
}

func TestHealthCheckerReportsStuckWorker(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	workers := staticWorkers{
		{ID: 1, Account: "ash", Running: true, Activity: now.Add(-20 * time.Minute)},
		{ID: 2, Account: "misty", Running: true, Activity: now.Add(-time.Minute)},
		{ID: 3, Running: false, Activity: now.Add(-time.Hour)},
	}

	var got []recorded
	hc := NewHealthChecker(workers, 10*time.Minute).
		WithClock(clock.NewFake(now)).
		WithUnhealthyCallback(func(reason string, err error) {
			got = append(got, recorded{reason, err})
		})

	ctx := context.Background()
	hc.Check(ctx)
	hc.Check(ctx)
	if len(got) != 0 {
		t.Fatalf("Expected no report before the threshold, got %v", got)
	}

	hc.Check(ctx)
	if len(got) != 1 {
		t.Fatalf("Expected 1 report, got %d", len(got))
	}
	if got[0].reason != ReasonWorkerStuck {
		t.Errorf("Expected reason %s, got %s", ReasonWorkerStuck, got[0].reason)
	}
	if !strings.Contains(got[0].err.Error(), "ash") {
		t.Errorf("Expected error to name the account, got %v", got[0].err)
	}

	// The count restarts after a report
	hc.Check(ctx)
	if len(got) != 1 {
		t.Errorf("Expected count to reset after reporting, got %d reports", len(got))
	}
}

func TestHealthCheckerDatabase(t *testing.T) {
	down := errors.New("disk I/O error")

	var reasons []string
	hc := NewHealthChecker(staticWorkers{}, time.Minute).
		WithDatabase(pingFunc(func(ctx context.Context) error { return down })).
		WithUnhealthyCallback(func(reason string, err error) {
			if !errors.Is(err, down) {
				t.Errorf("Expected wrapped ping error, got %v", err)
			}
			reasons = append(reasons, reason)
		})

	hc.Check(context.Background())
	if len(reasons) != 1 || reasons[0] != ReasonDatabaseUnreachable {
		t.Errorf("Expected database report, got %v", reasons)
	}
}

func TestHealthCheckerStartStop(t *testing.T) {
	calls := make(chan struct{}, 10)
	hc := NewHealthChecker(staticWorkers{}, time.Minute).
		WithCheckInterval(5 * time.Millisecond).
		WithDatabase(pingFunc(func(ctx context.Context) error {
			select {
			case calls <- struct{}{}:
			default:
			}
			return nil
		}))

	hc.Start(context.Background())
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected a periodic check")
	}
	hc.Stop()
}
