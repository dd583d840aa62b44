package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"jordanella.com/pogo-fleet/internal/accountpool"
	"jordanella.com/pogo-fleet/internal/events"
	"jordanella.com/pogo-fleet/internal/gameapi"
	"jordanella.com/pogo-fleet/internal/logging"
	"jordanella.com/pogo-fleet/internal/pipeline"
)

// ErrAlreadyRunning is returned by Start on a running manager
var ErrAlreadyRunning = errors.New("worker manager already running")

// Accounts is the part of the pool a worker needs
type Accounts interface {
	GetAccount(ctx context.Context, allowReallocation bool) (*accountpool.Account, error)
	GetWithBehaviour(ctx context.Context, behaviour string) (*accountpool.Account, error)
	FreeAccount(acc *accountpool.Account) error
	TooMuchTrouble(ctx context.Context, acc *accountpool.Account) (*accountpool.Account, error)
}

// SessionBuilder wraps an account in a pipeline session
type SessionBuilder interface {
	Build(acc *accountpool.Account, variant pipeline.Variant) *pipeline.Session
}

// Config controls how many workers run and how they treat failures
type Config struct {
	Workers           int
	Variant           pipeline.Variant
	Behaviour         string        // check out only records with this behaviour when set
	AllowReallocation bool          // let a worker resume a record still inside its window
	TroubleLimit      int           // consecutive abandoned units before the record is rested
	MaxUnits          int           // units per worker, 0 for no limit
	UnitPause         time.Duration // pause between units
}

// DefaultConfig returns a single full-replacement worker
func DefaultConfig() Config {
	return Config{
		Workers:           1,
		Variant:           pipeline.FullReplacement,
		AllowReallocation: true,
		TroubleLimit:      3,
	}
}

// Status is a snapshot of one worker
type Status struct {
	ID        int       `json:"id"`
	Account   string    `json:"account,omitempty"`
	Units     int       `json:"units"`
	Abandoned int       `json:"abandoned"`
	Trouble   int       `json:"trouble"`
	StartedAt time.Time `json:"started_at"`
	Running   bool      `json:"running"`
	LastError string    `json:"last_error,omitempty"`
	Activity  time.Time `json:"last_activity"` // last start or unit outcome
}

// Manager runs a fixed set of workers over a shared account pool
type Manager struct {
	mu       sync.RWMutex
	config   Config
	accounts Accounts
	builder  SessionBuilder
	job      Job
	eventBus events.EventBus
	reporter *logging.ErrorReporter
	logger   *logging.Logger

	forced  atomic.Bool
	running bool
	workers map[int]*Worker
	wg      sync.WaitGroup
}

// NewManager creates a manager; call Start to launch the workers
func NewManager(accounts Accounts, builder SessionBuilder, job Job, config Config) *Manager {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.TroubleLimit < 1 {
		config.TroubleLimit = 1
	}
	return &Manager{
		config:   config,
		accounts: accounts,
		builder:  builder,
		job:      job,
		logger:   logging.NewLogger("WorkerManager"),
		workers:  make(map[int]*Worker),
	}
}

// SetEventBus sets the bus worker events are published on
func (m *Manager) SetEventBus(bus events.EventBus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventBus = bus
}

// SetErrorReporter sets where abandoned units and worker exits are reported
func (m *Manager) SetErrorReporter(reporter *logging.ErrorReporter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reporter = reporter
}

// ForceUpdate asks every worker to stop at its next safe point
func (m *Manager) ForceUpdate() {
	if !m.forced.Swap(true) {
		m.logger.Warn("Forced update requested, workers will stop after their current unit")
	}
}

// ForcedUpdate reports whether ForceUpdate was called
func (m *Manager) ForcedUpdate() bool {
	return m.forced.Load()
}

// Start launches the workers. They run until ctx ends, ForceUpdate is
// called or the pool runs out of accounts.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return ErrAlreadyRunning
	}
	m.running = true

	for id := 1; id <= m.config.Workers; id++ {
		w := &Worker{id: id, manager: m, startedAt: time.Now()}
		m.workers[id] = w
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			w.run(ctx)
		}()
	}

	m.logger.InfoWithContext("Workers started", map[string]interface{}{
		"workers": m.config.Workers,
		"variant": m.config.Variant.Name,
	})
	return nil
}

// Wait blocks until every worker has exited
func (m *Manager) Wait() {
	m.wg.Wait()

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

// Run starts the workers and waits for them
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}
	m.Wait()
	return nil
}

// GetActiveCount returns the number of workers still running
func (m *Manager) GetActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, w := range m.workers {
		if w.Status().Running {
			count++
		}
	}
	return count
}

// Statuses returns a snapshot of every worker ordered by ID
func (m *Manager) Statuses() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Status, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, w.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) publish(event events.Event) {
	m.mu.RLock()
	bus := m.eventBus
	m.mu.RUnlock()
	if bus != nil {
		bus.Publish(event)
	}
}

func (m *Manager) report(critical bool, category logging.ErrorCategory, component, message string, err error, fields map[string]interface{}) {
	m.mu.RLock()
	reporter := m.reporter
	m.mu.RUnlock()
	if reporter == nil {
		return
	}
	if critical {
		reporter.ReportCriticalError(category, component, message, err, fields)
		return
	}
	reporter.ReportErrorWithContext(category, logging.ErrorSeverityMedium, component, message, err, fields)
}

// errorCategory picks the report category for a unit failure
func errorCategory(err error) logging.ErrorCategory {
	switch {
	case errors.Is(err, accountpool.ErrGaveUp), errors.Is(err, accountpool.ErrOutOfAccounts):
		return logging.ErrorCategoryPool
	case gameapi.IsHashingFailure(err), errors.Is(err, gameapi.ErrHashingQuotaExceeded):
		return logging.ErrorCategoryHashing
	case errors.Is(err, pipeline.ErrAPIActionAbandoned):
		return logging.ErrorCategoryPipeline
	default:
		return logging.ErrorCategoryWorker
	}
}

func workerName(id int) string {
	return fmt.Sprintf("worker-%d", id)
}
