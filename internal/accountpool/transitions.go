package accountpool

import (
	"context"
	"errors"
	"fmt"

	"jordanella.com/pogo-fleet/internal/events"
)

// Transition is a health change recorded against a record
type Transition string

const (
	TransitionTempBanned  Transition = "temp_banned"
	TransitionPermBanned  Transition = "perm_banned"
	TransitionLoginFailed Transition = "login_failed"
	TransitionWarned      Transition = "warned"
	TransitionBlinded     Transition = "blinded"
	TransitionIPBanned    Transition = "ip_banned"
	TransitionTrouble     Transition = "too_much_trouble"
)

var transitionEvents = map[Transition]events.EventType{
	TransitionTempBanned:  events.EventTypeAccountBanned,
	TransitionPermBanned:  events.EventTypeAccountPermBanned,
	TransitionLoginFailed: events.EventTypeAccountLoginFailed,
	TransitionWarned:      events.EventTypeAccountWarned,
	TransitionBlinded:     events.EventTypeAccountBlinded,
	TransitionIPBanned:    events.EventTypeAccountIPBanned,
	TransitionTrouble:     events.EventTypeAccountRested,
}

// Mark records a transition on acc, persists it and releases the
// allocation. The record stays in the pool and becomes eligible again once
// the relevant expiry passes.
func (p *Pool) Mark(ctx context.Context, acc *Account, t Transition) error {
	eventType, ok := transitionEvents[t]
	if !ok {
		return fmt.Errorf("unknown transition %q", t)
	}

	p.mu.Lock()
	current, ok := p.byName[acc.Username]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAccountNotFound, acc.Username)
	}

	now := p.clock.Now()
	var write func() error
	switch t {
	case TransitionTempBanned:
		current.TempBannedAt = &now
		write = func() error { return p.store.SetTempBanned(ctx, current.Username, &now) }
	case TransitionPermBanned:
		current.PermBanned = true
		write = func() error { return p.store.SetPermBanned(ctx, current.Username, true) }
	case TransitionWarned:
		current.WarnedAt = &now
		write = func() error { return p.store.SetWarned(ctx, current.Username, &now) }
	case TransitionBlinded:
		current.BlindedAt = &now
		write = func() error { return p.store.SetBlinded(ctx, current.Username, &now) }
	case TransitionLoginFailed, TransitionIPBanned, TransitionTrouble:
		until := now.Add(p.config.RestDuration)
		current.RestUntil = &until
		write = func() error { return p.store.SetRestUntil(ctx, current.Username, &until) }
	}
	p.releaseLocked(current)
	p.mu.Unlock()

	p.persist(ctx, current.Username, string(t), write)

	p.logger.WarnWithContext("Account transition", map[string]interface{}{
		"account":    current.Username,
		"transition": string(t),
	})
	p.publish(events.NewAccountEvent(eventType, current.Username, map[string]interface{}{
		"transition": string(t),
	}))
	return nil
}

// replace marks acc and blocks until another record is allocated
func (p *Pool) replace(ctx context.Context, acc *Account, t Transition, filters ...func(*Account) bool) (*Account, error) {
	if err := p.Mark(ctx, acc, t); err != nil {
		return nil, err
	}

	next, err := p.acquire(ctx, true, filters)
	if err != nil {
		if errors.Is(err, ErrOutOfAccounts) {
			p.logger.ErrorWithContext("No replacement account", err, map[string]interface{}{
				"account":    acc.Username,
				"transition": string(t),
			})
			return nil, fmt.Errorf("%w: replacing %s after %s", ErrGaveUp, acc.Username, t)
		}
		return nil, err
	}

	p.logger.InfoWithContext("Replaced account", map[string]interface{}{
		"account":     acc.Username,
		"replacement": next.Username,
		"transition":  string(t),
	})
	p.publish(events.NewAccountReplacedEvent(acc.Username, next.Username, string(t)))
	return next, nil
}

// IPBanned rests acc, whose proxy was refused, and returns a replacement
func (p *Pool) IPBanned(ctx context.Context, acc *Account) (*Account, error) {
	return p.replace(ctx, acc, TransitionIPBanned)
}

// ReplaceBanned records a temporary ban and returns a replacement
func (p *Pool) ReplaceBanned(ctx context.Context, acc *Account) (*Account, error) {
	return p.replace(ctx, acc, TransitionTempBanned)
}

// ReplacePermBanned records a permanent ban and returns a replacement
func (p *Pool) ReplacePermBanned(ctx context.Context, acc *Account) (*Account, error) {
	return p.replace(ctx, acc, TransitionPermBanned)
}

// TooMuchTrouble rests acc for RestDuration and returns a replacement
func (p *Pool) TooMuchTrouble(ctx context.Context, acc *Account) (*Account, error) {
	return p.replace(ctx, acc, TransitionTrouble)
}

// Blinded records a shadowban and returns a replacement
func (p *Pool) Blinded(ctx context.Context, acc *Account) (*Account, error) {
	return p.replace(ctx, acc, TransitionBlinded)
}

// ReplaceUnableToLogin rests acc after a failed login sequence and returns a
// replacement
func (p *Pool) ReplaceUnableToLogin(ctx context.Context, acc *Account) (*Account, error) {
	return p.replace(ctx, acc, TransitionLoginFailed)
}

// HandleWarned records a warning and returns a replacement, preferring
// records that have never been warned
func (p *Pool) HandleWarned(ctx context.Context, acc *Account) (*Account, error) {
	neverWarned := func(a *Account) bool { return a.WarnedAt == nil }
	anyRecord := func(a *Account) bool { return true }
	return p.replace(ctx, acc, TransitionWarned, neverWarned, anyRecord)
}

// Unrest clears a cool-off early, e.g. after an operator check
func (p *Pool) Unrest(ctx context.Context, username string) error {
	p.mu.Lock()
	acc, ok := p.byName[username]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAccountNotFound, username)
	}
	acc.RestUntil = nil
	p.mu.Unlock()

	p.persist(ctx, username, "rest_until", func() error {
		return p.store.SetRestUntil(ctx, username, nil)
	})
	p.wakeWaiters()
	return nil
}
