package pipeline

import (
	"context"
	"testing"
	"time"

	"jordanella.com/pogo-fleet/internal/accountpool"
	"jordanella.com/pogo-fleet/internal/apitiming"
	"jordanella.com/pogo-fleet/internal/clock"
	"jordanella.com/pogo-fleet/internal/gameapi"
	"jordanella.com/pogo-fleet/internal/gameapi/mock"
	"jordanella.com/pogo-fleet/internal/geo"
)

var testStart = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// scripted is a terminal invoker failing with errs in order, then succeeding
type scripted struct {
	errs  []error
	calls []gameapi.Request
	clock clock.Clock
	times []time.Time
}

func (s *scripted) Invoke(ctx context.Context, req gameapi.Request) (*gameapi.Response, error) {
	s.calls = append(s.calls, req)
	if s.clock != nil {
		s.times = append(s.times, s.clock.Now())
	}
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &gameapi.Response{Status: gameapi.StatusOK}, nil
}

func repeat(err error, n int) []error {
	out := make([]error, n)
	for i := range out {
		out[i] = err
	}
	return out
}

type testEnv struct {
	pool    *accountpool.Pool
	store   *accountpool.MemoryStore
	clock   *clock.Fake
	factory *mock.Factory
	builder *Builder
}

func newTestEnv(t *testing.T, usernames ...string) *testEnv {
	t.Helper()

	store := accountpool.NewMemoryStore()
	for _, name := range usernames {
		store.Add(&accountpool.Account{Username: name, Password: "pw", AuthProvider: "ptc", Owner: "default"})
	}

	fake := clock.NewFake(testStart)
	pool := accountpool.NewPool(store, accountpool.DefaultPoolConfig())
	pool.SetClock(fake)
	if err := pool.Load(context.Background()); err != nil {
		t.Fatalf("Failed to load pool: %v", err)
	}

	factory := mock.NewFactory()
	builder := NewBuilder(factory, pool, apitiming.NewTable(), DefaultConfig()).SetClock(fake)

	return &testEnv{
		pool:    pool,
		store:   store,
		clock:   fake,
		factory: factory,
		builder: builder,
	}
}

func (e *testEnv) session(t *testing.T, variant Variant) *Session {
	t.Helper()

	acc, err := e.pool.GetAccount(context.Background(), false)
	if err != nil {
		t.Fatalf("Failed to get account: %v", err)
	}
	return e.builder.Build(acc, variant)
}

func scan(pos *geo.Position) gameapi.Request {
	return gameapi.Request{Action: gameapi.ActionGetMapObjects, Position: pos}
}
