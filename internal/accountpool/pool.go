package accountpool

import (
	"context"
	"errors"
	"time"

	"jordanella.com/pogo-fleet/internal/gameapi"
	"jordanella.com/pogo-fleet/internal/geo"
)

var (
	// ErrOutOfAccounts is returned when no record became available within the
	// polling budget. The caller should stop the worker.
	ErrOutOfAccounts = errors.New("out of accounts")

	// ErrGaveUp is returned when a replacement was needed mid-task and none
	// could be found. The caller should abandon the unit of work.
	ErrGaveUp = errors.New("gave up finding a replacement account")

	// ErrAccountNotFound is returned when a username is not in the pool
	ErrAccountNotFound = errors.New("account not found")

	// ErrNotAllocated is returned when releasing a record nobody holds
	ErrNotAllocated = errors.New("account is not allocated")
)

// Account is the mutable state of one game login. Health fields are only
// written through the pool; session fields (position, inventory, level,
// last login) belong to the worker holding the allocation.
type Account struct {
	Username     string
	Password     string
	AuthProvider string
	Owner        string
	Proxy        string

	// Session state
	Position    *geo.Position
	Inventory   *gameapi.Inventory
	Level       int
	LastLoginAt *time.Time
	Behaviour   string

	// Allocation state
	Allocated     bool
	AllocatedAt   *time.Time
	AllocationEnd *time.Time

	// Health state
	TempBannedAt *time.Time
	PermBanned   bool
	BlindedAt    *time.Time
	WarnedAt     *time.Time
	RestUntil    *time.Time

	// returned is set when this process released the record, making it
	// eligible for fresh allocation even inside its window
	returned bool
}

// Credentials returns what a client needs to log this account in
func (a *Account) Credentials() gameapi.Credentials {
	return gameapi.Credentials{
		Username: a.Username,
		Password: a.Password,
		Provider: a.AuthProvider,
		Proxy:    a.Proxy,
	}
}

// Clone creates a deep copy of the account
func (a *Account) Clone() *Account {
	clone := *a

	clone.Position = copyPosition(a.Position)
	clone.Inventory = a.Inventory.Clone()
	clone.LastLoginAt = copyTime(a.LastLoginAt)
	clone.AllocatedAt = copyTime(a.AllocatedAt)
	clone.AllocationEnd = copyTime(a.AllocationEnd)
	clone.TempBannedAt = copyTime(a.TempBannedAt)
	clone.BlindedAt = copyTime(a.BlindedAt)
	clone.WarnedAt = copyTime(a.WarnedAt)
	clone.RestUntil = copyTime(a.RestUntil)

	return &clone
}

// IsResting reports whether the record is cooling off at now
func (a *Account) IsResting(now time.Time) bool {
	return a.RestUntil != nil && now.Before(*a.RestUntil)
}

// InWindow reports whether the allocation window is still open at now
func (a *Account) InWindow(now time.Time) bool {
	return a.AllocationEnd != nil && now.Before(*a.AllocationEnd)
}

// Healthy reports whether no ban, warning or shadowban is active at now
func (a *Account) Healthy(now time.Time, c Criteria) bool {
	if a.PermBanned {
		return false
	}
	if active(a.TempBannedAt, c.TempBanExpiry, now) {
		return false
	}
	if active(a.WarnedAt, c.WarnExpiry, now) {
		return false
	}
	if active(a.BlindedAt, c.BlindExpiry, now) {
		return false
	}
	return true
}

// Allocatable reports whether a fresh allocation may hand out this record
func (a *Account) Allocatable(now time.Time, c Criteria) bool {
	if a.Allocated || a.IsResting(now) || !a.Healthy(now, c) {
		return false
	}
	return a.returned || !a.InWindow(now)
}

// Reallocatable reports whether the record may be resumed by owner without a
// fresh allocation cycle
func (a *Account) Reallocatable(owner string, now time.Time, c Criteria) bool {
	if a.Allocated || a.Owner != owner || a.IsResting(now) || !a.Healthy(now, c) {
		return false
	}
	return a.InWindow(now)
}

func active(since *time.Time, expiry time.Duration, now time.Time) bool {
	if since == nil {
		return false
	}
	return now.Before(since.Add(expiry))
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copyPosition(p *geo.Position) *geo.Position {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// Criteria are the expiry rules deciding whether a record can be handed out
type Criteria struct {
	TempBanExpiry    time.Duration
	WarnExpiry       time.Duration
	BlindExpiry      time.Duration
	AllocationWindow time.Duration
}

// Store persists account records. Setters are single unconditional updates
// keyed by username.
type Store interface {
	LoadAccounts(ctx context.Context, owner string) ([]*Account, error)
	UpsertAccount(ctx context.Context, username, password, provider, owner string) error

	SetTempBanned(ctx context.Context, username string, at *time.Time) error
	SetPermBanned(ctx context.Context, username string, banned bool) error
	SetBlinded(ctx context.Context, username string, at *time.Time) error
	SetWarned(ctx context.Context, username string, at *time.Time) error
	SetRestUntil(ctx context.Context, username string, until *time.Time) error
	SetBehaviour(ctx context.Context, username, behaviour string) error
	SetLevel(ctx context.Context, username string, level int) error
	SetAllocatedTime(ctx context.Context, username string, at *time.Time) error
	SetLastLogin(ctx context.Context, username string, at time.Time) error

	// ListAllocatable selects records with no active ban, warning or
	// shadowban that are outside any allocation window and not resting,
	// oldest allocation first
	ListAllocatable(ctx context.Context, owner string, now time.Time, criteria Criteria) ([]*Account, error)
}

// PoolConfig configures how the account pool behaves
type PoolConfig struct {
	Owner string // logical owner, records of other owners are never loaded

	AllocationWindow time.Duration // how long an allocation may be resumed
	PollAttempts     int           // waits before ErrOutOfAccounts
	PollInterval     time.Duration // length of each wait

	RestDuration  time.Duration // cool-off for trouble and login failures
	TempBanExpiry time.Duration
	WarnExpiry    time.Duration
	BlindExpiry   time.Duration

	Proxies []string // assigned round-robin to records without one
}

// DefaultPoolConfig returns sensible defaults for pool configuration
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Owner:            "default",
		AllocationWindow: time.Hour,
		PollAttempts:     10,
		PollInterval:     10 * time.Second,
		RestDuration:     2 * time.Hour,
		TempBanExpiry:    72 * time.Hour,
		WarnExpiry:       30 * 24 * time.Hour,
		BlindExpiry:      30 * 24 * time.Hour,
	}
}

// Criteria returns the eligibility rules for this config
func (c PoolConfig) Criteria() Criteria {
	return Criteria{
		TempBanExpiry:    c.TempBanExpiry,
		WarnExpiry:       c.WarnExpiry,
		BlindExpiry:      c.BlindExpiry,
		AllocationWindow: c.AllocationWindow,
	}
}

// PoolStats provides statistics about the account pool
type PoolStats struct {
	Owner       string    `json:"owner"`
	Total       int       `json:"total"`
	Allocated   int       `json:"allocated"`
	Available   int       `json:"available"`
	Resting     int       `json:"resting"`
	TempBanned  int       `json:"temp_banned"`
	PermBanned  int       `json:"perm_banned"`
	Blinded     int       `json:"blinded"`
	Warned      int       `json:"warned"`
	Waiters     int       `json:"waiters"`
	LastRefresh time.Time `json:"last_refresh"`
}
