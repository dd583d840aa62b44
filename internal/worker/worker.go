package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"jordanella.com/pogo-fleet/internal/accountpool"
	"jordanella.com/pogo-fleet/internal/events"
	"jordanella.com/pogo-fleet/internal/gameapi"
	"jordanella.com/pogo-fleet/internal/logging"
	"jordanella.com/pogo-fleet/internal/pipeline"
)

// Worker owns at most one allocated account at a time and runs units with it
type Worker struct {
	id        int
	manager   *Manager
	startedAt time.Time

	mu        sync.RWMutex
	account   string
	units     int
	abandoned int
	trouble   int
	running   bool
	lastError string
	activity  time.Time
}

// Status returns a snapshot of the worker
func (w *Worker) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return Status{
		ID:        w.id,
		Account:   w.account,
		Units:     w.units,
		Abandoned: w.abandoned,
		Trouble:   w.trouble,
		StartedAt: w.startedAt,
		Running:   w.running,
		LastError: w.lastError,
		Activity:  w.activity,
	}
}

// outcome tells the run loop what to do after a session ends
type outcome int

const (
	outcomeCheckout outcome = iota // check out a fresh account
	outcomeSwap                    // continue with the replacement in next
	outcomeStop                    // exit the worker
)

func (w *Worker) run(ctx context.Context) {
	m := w.manager
	logger := logging.NewLogger(workerName(w.id))

	w.setRunning(true)
	m.publish(events.NewWorkerEvent(events.EventTypeWorkerStarted, w.id, nil))
	defer func() {
		w.setRunning(false)
		w.setAccount("")
		m.publish(events.NewWorkerEvent(events.EventTypeWorkerStopped, w.id, nil))
	}()

	var acc *accountpool.Account
	for {
		if w.shouldStop(ctx) {
			return
		}

		if acc == nil {
			next, err := w.checkout(ctx)
			if err != nil {
				if errors.Is(err, accountpool.ErrOutOfAccounts) {
					logger.Error("Out of accounts, worker exiting", err)
					m.report(true, logging.ErrorCategoryPool, workerName(w.id), "worker out of accounts", err, nil)
				}
				return
			}
			acc = next
		}

		w.setAccount(acc.Username)
		session := m.builder.Build(acc, m.config.Variant)
		result, next := w.runSession(ctx, session, logger)

		if err := session.Close(); err != nil {
			logger.WarnWithContext("Failed to close client", map[string]interface{}{
				"account": session.Username(),
				"error":   err.Error(),
			})
		}

		switch result {
		case outcomeSwap:
			acc = next
		default:
			w.free(session.Account(), logger)
			acc = nil
		}
		if result == outcomeStop {
			return
		}
	}
}

func (w *Worker) checkout(ctx context.Context) (*accountpool.Account, error) {
	m := w.manager
	if m.config.Behaviour != "" {
		return m.accounts.GetWithBehaviour(ctx, m.config.Behaviour)
	}
	return m.accounts.GetAccount(ctx, m.config.AllowReallocation)
}

// free returns acc unless a transition already released it
func (w *Worker) free(acc *accountpool.Account, logger *logging.Logger) {
	if err := w.manager.accounts.FreeAccount(acc); err != nil && !errors.Is(err, accountpool.ErrNotAllocated) {
		logger.Error("Failed to free account", err)
	}
}

// runSession repeats units with session until the account has to be given up
func (w *Worker) runSession(ctx context.Context, session *pipeline.Session, logger *logging.Logger) (outcome, *accountpool.Account) {
	m := w.manager

	for {
		if w.shouldStop(ctx) {
			return outcomeStop, nil
		}

		unit := w.nextUnit(session.Username())
		started := time.Now()
		err := m.job.Run(ctx, unit, session)
		if err == nil {
			w.completed()
			m.publish(events.NewWorkerEvent(events.EventTypeUnitCompleted, w.id, map[string]interface{}{
				"unit":     unit.ID,
				"account":  session.Username(),
				"duration": time.Since(started).String(),
			}))
			if !w.pause(ctx) {
				return outcomeStop, nil
			}
			continue
		}

		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return outcomeStop, nil
		}

		w.abandon(unit, session.Username(), err)
		fields := map[string]interface{}{
			"unit":    unit.ID,
			"account": session.Username(),
		}

		var accErr *gameapi.AccountError
		switch {
		case errors.Is(err, accountpool.ErrOutOfAccounts):
			m.report(true, logging.ErrorCategoryPool, workerName(w.id), "worker out of accounts", err, fields)
			return outcomeStop, nil

		case errors.Is(err, accountpool.ErrGaveUp):
			logger.WarnWithContext("No replacement account, abandoning unit", fields)
			m.report(false, logging.ErrorCategoryPool, workerName(w.id), "unit abandoned without replacement", err, fields)
			return outcomeCheckout, nil

		case errors.As(err, &accErr):
			// The detector already recorded the transition and released the record
			logger.WarnWithContext("Account unusable, checking out another", map[string]interface{}{
				"unit":    unit.ID,
				"account": accErr.Username,
				"error":   accErr.Err.Error(),
			})
			return outcomeCheckout, nil

		case errors.Is(err, pipeline.ErrAPIActionAbandoned):
			m.report(false, errorCategory(err), workerName(w.id), "action abandoned", err, fields)
			if w.addTrouble() < m.config.TroubleLimit {
				continue
			}
			w.resetTrouble()
			return w.tooMuchTrouble(ctx, session, logger)

		default:
			logger.ErrorWithContext("Unit failed", err, fields)
			m.report(false, errorCategory(err), workerName(w.id), "unit failed", err, fields)
			if !w.pause(ctx) {
				return outcomeStop, nil
			}
		}
	}
}

func (w *Worker) tooMuchTrouble(ctx context.Context, session *pipeline.Session, logger *logging.Logger) (outcome, *accountpool.Account) {
	next, err := w.manager.accounts.TooMuchTrouble(ctx, session.Account())
	if err != nil {
		if errors.Is(err, accountpool.ErrGaveUp) {
			logger.Error("No account to replace a troubled one", err)
			return outcomeCheckout, nil
		}
		if ctx.Err() != nil {
			return outcomeStop, nil
		}
		logger.Error("Failed to rest troubled account", err)
		return outcomeCheckout, nil
	}

	logger.InfoWithContext("Rested troubled account", map[string]interface{}{
		"account":     session.Username(),
		"replacement": next.Username,
	})
	return outcomeSwap, next
}

func (w *Worker) shouldStop(ctx context.Context) bool {
	if ctx.Err() != nil || w.manager.ForcedUpdate() {
		return true
	}
	if limit := w.manager.config.MaxUnits; limit > 0 {
		status := w.Status()
		return status.Units+status.Abandoned >= limit
	}
	return false
}

func (w *Worker) pause(ctx context.Context) bool {
	d := w.manager.config.UnitPause
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (w *Worker) nextUnit(account string) Unit {
	w.mu.RLock()
	seq := w.units + w.abandoned + 1
	w.mu.RUnlock()
	return Unit{ID: newUnitID(), WorkerID: w.id, Seq: seq, Account: account}
}

func (w *Worker) completed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.units++
	w.trouble = 0
	w.lastError = ""
	w.activity = time.Now()
}

func (w *Worker) abandon(unit Unit, account string, err error) {
	w.mu.Lock()
	w.abandoned++
	w.lastError = err.Error()
	w.activity = time.Now()
	w.mu.Unlock()

	w.manager.publish(events.NewWorkerEvent(events.EventTypeUnitAbandoned, w.id, map[string]interface{}{
		"unit":    unit.ID,
		"account": account,
		"error":   err.Error(),
	}))
}

func (w *Worker) addTrouble() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.trouble++
	return w.trouble
}

func (w *Worker) resetTrouble() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.trouble = 0
}

func (w *Worker) setAccount(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.account = name
}

func (w *Worker) setRunning(running bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = running
	if running {
		w.activity = time.Now()
	}
}
