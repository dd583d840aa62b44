package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"jordanella.com/pogo-fleet/internal/accountpool"
	"jordanella.com/pogo-fleet/internal/events"
	"jordanella.com/pogo-fleet/internal/gameapi"
	"jordanella.com/pogo-fleet/internal/geo"
	"jordanella.com/pogo-fleet/internal/logging"
)

// AccountSource is the part of the account pool a session talks to
type AccountSource interface {
	Mark(ctx context.Context, acc *accountpool.Account, t accountpool.Transition) error
	ReplaceBanned(ctx context.Context, acc *accountpool.Account) (*accountpool.Account, error)
	ReplacePermBanned(ctx context.Context, acc *accountpool.Account) (*accountpool.Account, error)
	ReplaceUnableToLogin(ctx context.Context, acc *accountpool.Account) (*accountpool.Account, error)
	HandleWarned(ctx context.Context, acc *accountpool.Account) (*accountpool.Account, error)
	IPBanned(ctx context.Context, acc *accountpool.Account) (*accountpool.Account, error)
	Blinded(ctx context.Context, acc *accountpool.Account) (*accountpool.Account, error)
	RecordLevel(ctx context.Context, acc *accountpool.Account, level int)
	RecordLogin(ctx context.Context, acc *accountpool.Account)
	RecordSession(acc *accountpool.Account, pos *geo.Position, inv *gameapi.Inventory)
}

// Session is one worker's handle on the game: the currently held account,
// its client, and the chain every call goes through. A session is owned by
// one goroutine; the mutex only protects readers such as status reporting.
type Session struct {
	mu       sync.Mutex
	account  *accountpool.Account
	client   gameapi.Client
	loggedIn bool

	accounts AccountSource
	factory  gameapi.ClientFactory
	eventBus events.EventBus
	observer Observer
	logger   *logging.Logger

	stages []Stage
	chain  Invoker
}

func newSession(acc *accountpool.Account, accounts AccountSource, factory gameapi.ClientFactory) *Session {
	return &Session{
		account:  acc,
		accounts: accounts,
		factory:  factory,
		observer: nopObserver{},
		logger:   logging.NewLogger("Session"),
	}
}

// Account returns the held account
func (s *Session) Account() *accountpool.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

// Username returns the held account's username
func (s *Session) Username() string {
	return s.Account().Username
}

// Stages lists the stage names, outermost first
func (s *Session) Stages() []string {
	names := make([]string, len(s.stages))
	for i, stage := range s.stages {
		names[i] = stage.Name()
	}
	return names
}

// Travel returns the travel stage, nil if the chain has none
func (s *Session) Travel() *Travel {
	for _, stage := range s.stages {
		if t, ok := stage.(*Travel); ok {
			return t
		}
	}
	return nil
}

// Invoke sends req through the chain
func (s *Session) Invoke(ctx context.Context, req gameapi.Request) (*gameapi.Response, error) {
	resp, err := s.chain.Invoke(ctx, req)
	if errors.Is(err, ErrAPIActionAbandoned) && s.eventBus != nil {
		s.eventBus.Publish(events.NewActionAbandonedEvent(s.Username(), string(req.Action), err))
	}
	return resp, err
}

// Login logs the held account in through the chain
func (s *Session) Login(ctx context.Context) error {
	req := gameapi.Request{Action: gameapi.ActionLogin, Position: s.Account().Position}
	_, err := s.Invoke(ctx, req)
	return err
}

// Close closes the client of the held account
func (s *Session) Close() error {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.loggedIn = false
	s.mu.Unlock()

	if client != nil {
		return client.Close()
	}
	return nil
}

// call is the innermost invoker: it talks to the client of whichever
// account is held at the time of the call
func (s *Session) call(ctx context.Context, req gameapi.Request) (*gameapi.Response, error) {
	client, err := s.ensureClient(ctx)
	if err != nil {
		return nil, err
	}

	acc := s.Account()
	start := time.Now()
	resp, err := client.Invoke(ctx, req)
	if err == nil {
		err = gameapi.CheckResponse(resp)
	}
	s.observer.ObserveCall(req.Action, err, time.Since(start))
	if err != nil {
		return resp, err
	}

	if req.Action == gameapi.ActionLogin {
		s.setLoggedIn()
		s.accounts.RecordLogin(ctx, acc)
	}
	s.apply(ctx, acc, req, resp)
	return resp, nil
}

// apply copies response side effects onto the held record
func (s *Session) apply(ctx context.Context, acc *accountpool.Account, req gameapi.Request, resp *gameapi.Response) {
	if resp == nil {
		return
	}
	var pos *geo.Position
	if req.Position != nil && req.Action.MovesPlayer() {
		pos = req.Position
	}
	if pos != nil || resp.Inventory != nil {
		s.accounts.RecordSession(acc, pos, resp.Inventory)
	}
	if resp.Level > 0 {
		s.accounts.RecordLevel(ctx, acc, resp.Level)
	}
}

func (s *Session) ensureClient(ctx context.Context) (gameapi.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}
	client, err := s.factory.NewClient(ctx, s.account.Credentials())
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", s.account.Username, err)
	}
	s.client = client
	return client, nil
}

func (s *Session) isLoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

func (s *Session) setLoggedIn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedIn = true
}

// hashingSwitcher exposes the current client's endpoint failover
func (s *Session) hashingSwitcher() gameapi.HashingSwitcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sw, ok := s.client.(gameapi.HashingSwitcher); ok {
		return sw
	}
	return nil
}

// mark records t against the held account without replacing it. The pool
// releases the allocation.
func (s *Session) mark(ctx context.Context, t accountpool.Transition) {
	acc := s.Account()
	if err := s.accounts.Mark(ctx, acc, t); err != nil {
		s.logger.ErrorWithContext("Failed to record transition", err, map[string]interface{}{
			"account":    acc.Username,
			"transition": string(t),
		})
	}
}

// replace records t against the held account and blocks until the pool
// hands out another one, which becomes the held account
func (s *Session) replace(ctx context.Context, t accountpool.Transition) (*accountpool.Account, error) {
	current := s.Account()

	var next *accountpool.Account
	var err error
	switch t {
	case accountpool.TransitionTempBanned:
		next, err = s.accounts.ReplaceBanned(ctx, current)
	case accountpool.TransitionPermBanned:
		next, err = s.accounts.ReplacePermBanned(ctx, current)
	case accountpool.TransitionLoginFailed:
		next, err = s.accounts.ReplaceUnableToLogin(ctx, current)
	case accountpool.TransitionWarned:
		next, err = s.accounts.HandleWarned(ctx, current)
	case accountpool.TransitionIPBanned:
		next, err = s.accounts.IPBanned(ctx, current)
	case accountpool.TransitionBlinded:
		next, err = s.accounts.Blinded(ctx, current)
	default:
		return nil, fmt.Errorf("no replacement for transition %q", t)
	}
	if err != nil {
		return nil, err
	}

	s.swap(next)
	return next, nil
}

// swap makes acc the held account with a fresh client and clean stage state
func (s *Session) swap(acc *accountpool.Account) {
	if err := s.Close(); err != nil {
		s.logger.Error("Failed to close client", err)
	}

	s.mu.Lock()
	s.account = acc
	s.mu.Unlock()

	for _, stage := range s.stages {
		if r, ok := stage.(Resetter); ok {
			r.Reset()
		}
	}
	if travel := s.Travel(); travel != nil && acc.Position != nil {
		travel.SetPosition(*acc.Position, time.Time{})
	}
}
