package accountpool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"jordanella.com/pogo-fleet/internal/clock"
	"jordanella.com/pogo-fleet/internal/events"
	"jordanella.com/pogo-fleet/internal/gameapi"
	"jordanella.com/pogo-fleet/internal/geo"
	"jordanella.com/pogo-fleet/internal/logging"
)

// Pool hands out account records to workers. One mutex guards the
// scan-and-mark sequence; persistence and waiting happen outside it.
type Pool struct {
	mu       sync.Mutex
	accounts []*Account
	byName   map[string]*Account
	freed    chan struct{} // closed and replaced on every release
	waiters  int

	store       Store
	config      PoolConfig
	clock       clock.Clock
	eventBus    events.EventBus
	logger      *logging.Logger
	lastRefresh time.Time
	nextProxy   int
}

// NewPool creates an empty pool backed by store
func NewPool(store Store, config PoolConfig) *Pool {
	return &Pool{
		byName: make(map[string]*Account),
		freed:  make(chan struct{}),
		store:  store,
		config: config,
		clock:  clock.New(),
		logger: logging.NewLogger("AccountPool"),
	}
}

// SetClock replaces the clock used for timestamps and waits
func (p *Pool) SetClock(c clock.Clock) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clock = c
}

// SetEventBus publishes lifecycle events on bus
func (p *Pool) SetEventBus(bus events.EventBus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.eventBus = bus
}

// Config returns the pool configuration
func (p *Pool) Config() PoolConfig {
	return p.config
}

// Load reads the owner's records from the store. Records whose last
// allocation is still inside the window become reallocation candidates.
func (p *Pool) Load(ctx context.Context) error {
	loaded, err := p.store.LoadAccounts(ctx, p.config.Owner)
	if err != nil {
		return fmt.Errorf("failed to load accounts: %w", err)
	}

	p.mu.Lock()
	now := p.clock.Now()
	p.accounts = p.accounts[:0]
	p.byName = make(map[string]*Account, len(loaded))
	for _, acc := range loaded {
		p.adoptLocked(acc, now)
	}
	p.sortLocked()
	p.lastRefresh = now
	total, available := len(p.accounts), p.availableLocked(now)
	p.mu.Unlock()

	p.logger.InfoWithContext("Loaded accounts", map[string]interface{}{
		"owner":     p.config.Owner,
		"total":     total,
		"available": available,
	})
	p.publish(events.NewPoolRefreshedEvent(p.config.Owner, total, available))
	return nil
}

// Refresh merges the store's records into the pool. Records already held in
// memory keep their runtime allocation and session state.
func (p *Pool) Refresh(ctx context.Context) error {
	loaded, err := p.store.LoadAccounts(ctx, p.config.Owner)
	if err != nil {
		return fmt.Errorf("failed to refresh accounts: %w", err)
	}

	p.mu.Lock()
	now := p.clock.Now()
	added := 0
	for _, acc := range loaded {
		existing, ok := p.byName[acc.Username]
		if !ok {
			p.adoptLocked(acc, now)
			added++
			continue
		}
		existing.Password = acc.Password
		existing.AuthProvider = acc.AuthProvider
		if existing.Allocated {
			continue
		}
		existing.TempBannedAt = acc.TempBannedAt
		existing.PermBanned = acc.PermBanned
		existing.BlindedAt = acc.BlindedAt
		existing.WarnedAt = acc.WarnedAt
		existing.RestUntil = acc.RestUntil
		existing.Behaviour = acc.Behaviour
		if acc.Level > existing.Level {
			existing.Level = acc.Level
		}
	}
	p.sortLocked()
	p.lastRefresh = now
	total, available := len(p.accounts), p.availableLocked(now)
	p.mu.Unlock()

	p.logger.InfoWithContext("Refreshed accounts", map[string]interface{}{
		"owner":     p.config.Owner,
		"added":     added,
		"total":     total,
		"available": available,
	})
	p.publish(events.NewPoolRefreshedEvent(p.config.Owner, total, available))
	if added > 0 {
		p.wakeWaiters()
	}
	return nil
}

func (p *Pool) adoptLocked(acc *Account, now time.Time) {
	if acc.Owner == "" {
		acc.Owner = p.config.Owner
	}
	acc.Allocated = false
	acc.returned = false
	acc.AllocationEnd = nil
	if acc.AllocatedAt != nil {
		end := acc.AllocatedAt.Add(p.config.AllocationWindow)
		if now.Before(end) {
			acc.AllocationEnd = &end
		}
	}
	if acc.Proxy == "" && len(p.config.Proxies) > 0 {
		acc.Proxy = p.config.Proxies[p.nextProxy%len(p.config.Proxies)]
		p.nextProxy++
	}
	p.accounts = append(p.accounts, acc)
	p.byName[acc.Username] = acc
}

// sortLocked orders records least recently allocated first. Never-allocated
// records come first and keep their load order.
func (p *Pool) sortLocked() {
	sort.SliceStable(p.accounts, func(i, j int) bool {
		a, b := p.accounts[i].AllocatedAt, p.accounts[j].AllocatedAt
		if a == nil {
			return b != nil
		}
		if b == nil {
			return false
		}
		return a.Before(*b)
	})
}

// GetAccount hands out a record. Reallocation candidates are tried first
// when allowed; otherwise a fresh record is marked allocated and its
// allocation time persisted. Blocks up to PollAttempts x PollInterval,
// waking early when a record is freed, then fails with ErrOutOfAccounts.
func (p *Pool) GetAccount(ctx context.Context, allowReallocation bool) (*Account, error) {
	return p.acquire(ctx, allowReallocation, nil)
}

// GetWithBehaviour hands out a record tagged with behaviour. Untagged
// records are used as a fallback and branded with the tag.
func (p *Pool) GetWithBehaviour(ctx context.Context, behaviour string) (*Account, error) {
	tagged := func(a *Account) bool { return a.Behaviour == behaviour }
	untagged := func(a *Account) bool { return a.Behaviour == "" }

	acc, err := p.acquire(ctx, true, []func(*Account) bool{tagged, untagged})
	if err != nil {
		return nil, err
	}

	if acc.Behaviour == "" {
		p.mu.Lock()
		acc.Behaviour = behaviour
		p.mu.Unlock()
		p.persist(ctx, acc.Username, "behaviour", func() error {
			return p.store.SetBehaviour(ctx, acc.Username, behaviour)
		})
	}
	return acc, nil
}

// acquire runs the allocation loop. filters are tried in order; a nil list
// accepts any record.
func (p *Pool) acquire(ctx context.Context, allowReallocation bool, filters []func(*Account) bool) (*Account, error) {
	if len(filters) == 0 {
		filters = []func(*Account) bool{nil}
	}

	deadline := p.clock.Now().Add(time.Duration(p.config.PollAttempts) * p.config.PollInterval)
	attempts := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// captured before scanning so a release during the scan still wakes us
		p.mu.Lock()
		freed := p.freed
		p.mu.Unlock()

		for _, filter := range filters {
			acc, fresh := p.tryAllocate(allowReallocation, filter)
			if acc != nil {
				p.afterAllocate(ctx, acc, fresh)
				return acc, nil
			}
		}

		now := p.clock.Now()
		if !now.Before(deadline) {
			break
		}

		wait := p.config.PollInterval
		if remaining := deadline.Sub(now); remaining < wait {
			wait = remaining
		}
		attempts++

		p.mu.Lock()
		p.waiters++
		p.mu.Unlock()

		select {
		case <-freed:
		case <-p.clock.After(wait):
		case <-ctx.Done():
			p.mu.Lock()
			p.waiters--
			p.mu.Unlock()
			return nil, ctx.Err()
		}

		p.mu.Lock()
		p.waiters--
		p.mu.Unlock()
	}

	p.logger.WarnWithContext("No account available", map[string]interface{}{
		"owner":    p.config.Owner,
		"attempts": attempts,
	})
	p.publish(events.NewPoolExhaustedEvent(p.config.Owner, attempts))
	return nil, ErrOutOfAccounts
}

// tryAllocate is the scan-and-mark critical section
func (p *Pool) tryAllocate(allowReallocation bool, filter func(*Account) bool) (*Account, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	criteria := p.config.Criteria()

	if allowReallocation {
		for _, acc := range p.accounts {
			if filter != nil && !filter(acc) {
				continue
			}
			if acc.Reallocatable(p.config.Owner, now, criteria) {
				acc.Allocated = true
				acc.returned = false
				return acc, false
			}
		}
	}

	for _, acc := range p.accounts {
		if filter != nil && !filter(acc) {
			continue
		}
		if acc.Allocatable(now, criteria) {
			end := now.Add(p.config.AllocationWindow)
			allocatedAt := now
			acc.Allocated = true
			acc.returned = false
			acc.AllocatedAt = &allocatedAt
			acc.AllocationEnd = &end
			return acc, true
		}
	}

	return nil, false
}

func (p *Pool) afterAllocate(ctx context.Context, acc *Account, fresh bool) {
	if !fresh {
		p.logger.DebugWithContext("Reallocated account", map[string]interface{}{"account": acc.Username})
		p.publish(events.NewAccountEvent(events.EventTypeAccountReallocated, acc.Username, nil))
		return
	}

	p.mu.Lock()
	at := copyTime(acc.AllocatedAt)
	p.mu.Unlock()

	p.persist(ctx, acc.Username, "allocated_time", func() error {
		return p.store.SetAllocatedTime(ctx, acc.Username, at)
	})
	p.logger.DebugWithContext("Allocated account", map[string]interface{}{"account": acc.Username})
	p.publish(events.NewAccountEvent(events.EventTypeAccountAllocated, acc.Username, nil))
}

// FreeAccount releases a record and re-sorts the pool so the least
// recently allocated records surface first
func (p *Pool) FreeAccount(acc *Account) error {
	p.mu.Lock()
	current, ok := p.byName[acc.Username]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAccountNotFound, acc.Username)
	}
	if !current.Allocated {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotAllocated, acc.Username)
	}
	current.Allocated = false
	current.returned = true
	p.sortLocked()
	p.mu.Unlock()

	p.wakeWaiters()
	p.publish(events.NewAccountEvent(events.EventTypeAccountFreed, acc.Username, nil))
	return nil
}

// releaseLocked drops the allocation flag without waking waiters, used by
// transitions that make the record ineligible anyway
func (p *Pool) releaseLocked(acc *Account) {
	acc.Allocated = false
	acc.returned = true
}

func (p *Pool) wakeWaiters() {
	p.mu.Lock()
	close(p.freed)
	p.freed = make(chan struct{})
	p.mu.Unlock()
}

// RecordLevel stores a new player level for the held record
func (p *Pool) RecordLevel(ctx context.Context, acc *Account, level int) {
	p.mu.Lock()
	if level <= 0 || level == acc.Level {
		p.mu.Unlock()
		return
	}
	acc.Level = level
	p.mu.Unlock()

	p.persist(ctx, acc.Username, "level", func() error {
		return p.store.SetLevel(ctx, acc.Username, level)
	})
}

// RecordLogin stamps the most recent login of the held record
func (p *Pool) RecordLogin(ctx context.Context, acc *Account) {
	p.mu.Lock()
	now := p.clock.Now()
	acc.LastLoginAt = &now
	p.mu.Unlock()

	p.persist(ctx, acc.Username, "last_login", func() error {
		return p.store.SetLastLogin(ctx, acc.Username, now)
	})
}

// RecordSession updates the in-memory position and inventory of the held
// record. Nil arguments leave the field unchanged. Session state is not
// persisted.
func (p *Pool) RecordSession(acc *Account, pos *geo.Position, inv *gameapi.Inventory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pos != nil {
		acc.Position = copyPosition(pos)
	}
	if inv != nil {
		acc.Inventory = inv.Clone()
	}
}

// Get returns a snapshot of a record by username
func (p *Pool) Get(username string) (*Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	acc, ok := p.byName[username]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, username)
	}
	return acc.Clone(), nil
}

// ListAccounts returns snapshots of every record in pool order
func (p *Pool) ListAccounts() []*Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Account, len(p.accounts))
	for i, acc := range p.accounts {
		out[i] = acc.Clone()
	}
	return out
}

// Stats returns current pool statistics
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	c := p.config.Criteria()
	stats := PoolStats{
		Owner:       p.config.Owner,
		Total:       len(p.accounts),
		Waiters:     p.waiters,
		LastRefresh: p.lastRefresh,
	}
	for _, acc := range p.accounts {
		switch {
		case acc.Allocated:
			stats.Allocated++
		case acc.Allocatable(now, c) || acc.Reallocatable(p.config.Owner, now, c):
			stats.Available++
		}
		if acc.IsResting(now) {
			stats.Resting++
		}
		if acc.PermBanned {
			stats.PermBanned++
		}
		if active(acc.TempBannedAt, c.TempBanExpiry, now) {
			stats.TempBanned++
		}
		if active(acc.BlindedAt, c.BlindExpiry, now) {
			stats.Blinded++
		}
		if active(acc.WarnedAt, c.WarnExpiry, now) {
			stats.Warned++
		}
	}
	return stats
}

func (p *Pool) availableLocked(now time.Time) int {
	c := p.config.Criteria()
	n := 0
	for _, acc := range p.accounts {
		if acc.Allocatable(now, c) || acc.Reallocatable(p.config.Owner, now, c) {
			n++
		}
	}
	return n
}

// persist runs a store write. Failures are logged and never reach the
// caller; every write is an idempotent overwrite.
func (p *Pool) persist(ctx context.Context, username, field string, write func() error) {
	if err := write(); err != nil {
		p.logger.ErrorWithContext("Failed to persist account field", err, map[string]interface{}{
			"account": username,
			"field":   field,
		})
	}
}

func (p *Pool) publish(event events.Event) {
	p.mu.Lock()
	bus := p.eventBus
	p.mu.Unlock()
	if bus != nil {
		bus.Publish(event)
	}
}
