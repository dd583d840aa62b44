package accountpool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store, used when no database is configured
// and in tests
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
	order    []string
	writes   int

	// FailWrites makes every setter return this error when set
	FailWrites error
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]*Account)}
}

// Add inserts a fully populated record
func (s *MemoryStore) Add(acc *Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[acc.Username]; !ok {
		s.order = append(s.order, acc.Username)
	}
	s.accounts[acc.Username] = acc.Clone()
}

// Snapshot returns the stored copy of a record
func (s *MemoryStore) Snapshot(username string) (*Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[username]
	if !ok {
		return nil, false
	}
	return acc.Clone(), true
}

// Writes counts setter calls
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *MemoryStore) LoadAccounts(ctx context.Context, owner string) ([]*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Account
	for _, name := range s.order {
		acc := s.accounts[name]
		if acc.Owner == owner {
			out = append(out, acc.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) UpsertAccount(ctx context.Context, username, password, provider, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if acc, ok := s.accounts[username]; ok {
		acc.Password = password
		acc.AuthProvider = provider
		return nil
	}
	s.accounts[username] = &Account{
		Username:     username,
		Password:     password,
		AuthProvider: provider,
		Owner:        owner,
	}
	s.order = append(s.order, username)
	return nil
}

func (s *MemoryStore) update(username string, apply func(acc *Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writes++
	if s.FailWrites != nil {
		return s.FailWrites
	}
	acc, ok := s.accounts[username]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, username)
	}
	apply(acc)
	return nil
}

func (s *MemoryStore) SetTempBanned(ctx context.Context, username string, at *time.Time) error {
	return s.update(username, func(acc *Account) { acc.TempBannedAt = copyTime(at) })
}

func (s *MemoryStore) SetPermBanned(ctx context.Context, username string, banned bool) error {
	return s.update(username, func(acc *Account) { acc.PermBanned = banned })
}

func (s *MemoryStore) SetBlinded(ctx context.Context, username string, at *time.Time) error {
	return s.update(username, func(acc *Account) { acc.BlindedAt = copyTime(at) })
}

func (s *MemoryStore) SetWarned(ctx context.Context, username string, at *time.Time) error {
	return s.update(username, func(acc *Account) { acc.WarnedAt = copyTime(at) })
}

func (s *MemoryStore) SetRestUntil(ctx context.Context, username string, until *time.Time) error {
	return s.update(username, func(acc *Account) { acc.RestUntil = copyTime(until) })
}

func (s *MemoryStore) SetBehaviour(ctx context.Context, username, behaviour string) error {
	return s.update(username, func(acc *Account) { acc.Behaviour = behaviour })
}

func (s *MemoryStore) SetLevel(ctx context.Context, username string, level int) error {
	return s.update(username, func(acc *Account) { acc.Level = level })
}

func (s *MemoryStore) SetAllocatedTime(ctx context.Context, username string, at *time.Time) error {
	return s.update(username, func(acc *Account) { acc.AllocatedAt = copyTime(at) })
}

func (s *MemoryStore) SetLastLogin(ctx context.Context, username string, at time.Time) error {
	return s.update(username, func(acc *Account) { acc.LastLoginAt = &at })
}

// ListAllocatable implements AccountStore
func (s *MemoryStore) ListAllocatable(ctx context.Context, owner string, now time.Time, criteria Criteria) ([]*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Account
	for _, name := range s.order {
		acc := s.accounts[name]
		if acc.Owner != owner || acc.IsResting(now) || !acc.Healthy(now, criteria) {
			continue
		}
		if acc.AllocatedAt != nil && now.Before(acc.AllocatedAt.Add(criteria.AllocationWindow)) {
			continue
		}
		out = append(out, acc.Clone())
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].AllocatedAt, out[j].AllocatedAt
		if a == nil {
			return b != nil
		}
		if b == nil {
			return false
		}
		return a.Before(*b)
	})
	return out, nil
}
