package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"jordanella.com/pogo-fleet/internal/accountpool"
)

// AccountStore persists pool records in the accounts table
type AccountStore struct {
	db *DB
}

// NewAccountStore creates a store backed by db. Migrations must have run.
func NewAccountStore(db *DB) *AccountStore {
	return &AccountStore{db: db}
}

const accountColumns = `
	username, password, auth_provider, owner, level, COALESCE(behaviour, ''),
	allocated_at, temp_banned_at, perm_banned, blinded_at, warned_at,
	rest_until, last_login_at
`

// LoadAccounts returns every record belonging to owner in insertion order
func (s *AccountStore) LoadAccounts(ctx context.Context, owner string) ([]*accountpool.Account, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE owner = ?
		ORDER BY id
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	defer rows.Close()

	return scanAccounts(rows)
}

// UpsertAccount inserts a record or updates the credentials of an existing one
func (s *AccountStore) UpsertAccount(ctx context.Context, username, password, provider, owner string) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO accounts (username, password, auth_provider, owner, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			password = excluded.password,
			auth_provider = excluded.auth_provider
	`, username, password, provider, owner, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert account %s: %w", username, err)
	}
	return nil
}

// SetTempBanned stores the temporary ban time, nil clears it
func (s *AccountStore) SetTempBanned(ctx context.Context, username string, at *time.Time) error {
	return s.update(ctx, username, "temp_banned_at", toMillis(at))
}

// SetPermBanned flags or clears a permanent ban
func (s *AccountStore) SetPermBanned(ctx context.Context, username string, banned bool) error {
	return s.update(ctx, username, "perm_banned", banned)
}

// SetBlinded stores the shadowban time, nil clears it
func (s *AccountStore) SetBlinded(ctx context.Context, username string, at *time.Time) error {
	return s.update(ctx, username, "blinded_at", toMillis(at))
}

// SetWarned stores the warning time, nil clears it
func (s *AccountStore) SetWarned(ctx context.Context, username string, at *time.Time) error {
	return s.update(ctx, username, "warned_at", toMillis(at))
}

// SetRestUntil stores the end of the rest period, nil clears it
func (s *AccountStore) SetRestUntil(ctx context.Context, username string, until *time.Time) error {
	return s.update(ctx, username, "rest_until", toMillis(until))
}

// SetBehaviour stores the behaviour label, empty stores NULL
func (s *AccountStore) SetBehaviour(ctx context.Context, username, behaviour string) error {
	var value sql.NullString
	if behaviour != "" {
		value = sql.NullString{String: behaviour, Valid: true}
	}
	return s.update(ctx, username, "behaviour", value)
}

// SetLevel stores the trainer level
func (s *AccountStore) SetLevel(ctx context.Context, username string, level int) error {
	return s.update(ctx, username, "level", level)
}

// SetAllocatedTime stores when the record was last handed out
func (s *AccountStore) SetAllocatedTime(ctx context.Context, username string, at *time.Time) error {
	return s.update(ctx, username, "allocated_at", toMillis(at))
}

// SetLastLogin stores the last successful login time
func (s *AccountStore) SetLastLogin(ctx context.Context, username string, at time.Time) error {
	return s.update(ctx, username, "last_login_at", at.UnixMilli())
}

// ListAllocatable selects healthy records outside their allocation window
// and rest period, never-allocated first, then oldest allocation first
func (s *AccountStore) ListAllocatable(ctx context.Context, owner string, now time.Time, criteria accountpool.Criteria) ([]*accountpool.Account, error) {
	nowMs := now.UnixMilli()
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE owner = ?
			AND perm_banned = 0
			AND (temp_banned_at IS NULL OR temp_banned_at <= ?)
			AND (warned_at IS NULL OR warned_at <= ?)
			AND (blinded_at IS NULL OR blinded_at <= ?)
			AND (allocated_at IS NULL OR allocated_at <= ?)
			AND (rest_until IS NULL OR rest_until <= ?)
		ORDER BY allocated_at IS NOT NULL, allocated_at, id
	`, owner,
		nowMs-criteria.TempBanExpiry.Milliseconds(),
		nowMs-criteria.WarnExpiry.Milliseconds(),
		nowMs-criteria.BlindExpiry.Milliseconds(),
		nowMs-criteria.AllocationWindow.Milliseconds(),
		nowMs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocatable accounts: %w", err)
	}
	defer rows.Close()

	return scanAccounts(rows)
}

// update writes one column of one record
func (s *AccountStore) update(ctx context.Context, username, column string, value interface{}) error {
	result, err := s.db.conn.ExecContext(ctx,
		fmt.Sprintf(`UPDATE accounts SET %s = ? WHERE username = ?`, column),
		value, username)
	if err != nil {
		return fmt.Errorf("failed to update %s for %s: %w", column, username, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", accountpool.ErrAccountNotFound, username)
	}
	return nil
}

func scanAccounts(rows *sql.Rows) ([]*accountpool.Account, error) {
	var accounts []*accountpool.Account
	for rows.Next() {
		acc := &accountpool.Account{}
		var allocatedAt, tempBannedAt, blindedAt, warnedAt, restUntil, lastLoginAt sql.NullInt64

		err := rows.Scan(
			&acc.Username, &acc.Password, &acc.AuthProvider, &acc.Owner,
			&acc.Level, &acc.Behaviour,
			&allocatedAt, &tempBannedAt, &acc.PermBanned, &blindedAt, &warnedAt,
			&restUntil, &lastLoginAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}

		acc.AllocatedAt = fromMillis(allocatedAt)
		acc.TempBannedAt = fromMillis(tempBannedAt)
		acc.BlindedAt = fromMillis(blindedAt)
		acc.WarnedAt = fromMillis(warnedAt)
		acc.RestUntil = fromMillis(restUntil)
		acc.LastLoginAt = fromMillis(lastLoginAt)

		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

func toMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}
