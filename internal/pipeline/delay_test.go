package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"jordanella.com/pogo-fleet/internal/apitiming"
	"jordanella.com/pogo-fleet/internal/clock"
	"jordanella.com/pogo-fleet/internal/gameapi"
	"jordanella.com/pogo-fleet/internal/gameapi/mock"
	"jordanella.com/pogo-fleet/internal/geo"
)

func newTestDelay() (*Delay, *scripted, Invoker, *clock.Fake) {
	fake := clock.NewFake(testStart)
	delay := NewDelay(apitiming.NewTable(), fake)
	terminal := &scripted{clock: fake}
	return delay, terminal, delay.Wrap(terminal), fake
}

func TestDelayFirstCallUnconstrained(t *testing.T) {
	delay, _, inv, fake := newTestDelay()

	if wait := delay.Required(gameapi.ActionEncounter); wait != 0 {
		t.Errorf("Expected no wait before the first call, got %v", wait)
	}
	if _, err := inv.Invoke(context.Background(), gameapi.Request{Action: gameapi.ActionEncounter}); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if len(fake.Sleeps()) != 0 {
		t.Errorf("Expected no sleeps, got %v", fake.Sleeps())
	}
}

func TestDelayScanThenEncounter(t *testing.T) {
	_, _, inv, fake := newTestDelay()
	ctx := context.Background()

	inv.Invoke(ctx, gameapi.Request{Action: gameapi.ActionGetMapObjects})
	inv.Invoke(ctx, gameapi.Request{Action: gameapi.ActionEncounter})

	sleeps := fake.Sleeps()
	if len(sleeps) != 1 || sleeps[0] != 20*time.Millisecond {
		t.Errorf("Expected a single 20ms sleep, got %v", sleeps)
	}
}

func TestDelayCountsElapsedTime(t *testing.T) {
	_, _, inv, fake := newTestDelay()
	ctx := context.Background()

	inv.Invoke(ctx, gameapi.Request{Action: gameapi.ActionGetMapObjects})
	fake.Advance(5 * time.Millisecond)
	inv.Invoke(ctx, gameapi.Request{Action: gameapi.ActionEncounter})

	sleeps := fake.Sleeps()
	if len(sleeps) != 1 || sleeps[0] != 15*time.Millisecond {
		t.Errorf("Expected a 15ms sleep, got %v", sleeps)
	}

	fake.Advance(time.Hour)
	fake.Reset()
	inv.Invoke(ctx, gameapi.Request{Action: gameapi.ActionCatchPokemon})
	if len(fake.Sleeps()) != 0 {
		t.Errorf("Expected no sleep once the gap has passed, got %v", fake.Sleeps())
	}
}

func TestDelayHonoursTableForEveryPair(t *testing.T) {
	table := apitiming.NewTable()
	pairs := [][2]gameapi.Action{
		{gameapi.ActionLogin, gameapi.ActionGetPlayer},
		{gameapi.ActionGetMapObjects, gameapi.ActionFortSearch},
		{gameapi.ActionEncounter, gameapi.ActionCatchPokemon},
		{gameapi.ActionCatchPokemon, gameapi.ActionEncounter},
		{gameapi.ActionGetMapObjects, gameapi.ActionGetMapObjects},
	}

	for _, p := range pairs {
		delay, terminal, inv, _ := newTestDelay()
		ctx := context.Background()

		inv.Invoke(ctx, gameapi.Request{Action: p[0]})
		inv.Invoke(ctx, gameapi.Request{Action: p[1]})

		gap := terminal.times[1].Sub(terminal.times[0])
		if want := table.MinDelay(p[0], p[1]); gap < want {
			t.Errorf("%s -> %s: expected gap >= %v, got %v", p[0], p[1], want, gap)
		}
		if prev, _ := delay.Previous(); prev != p[1] {
			t.Errorf("Expected previous action %s, got %s", p[1], prev)
		}
	}
}

func TestDelayPacesAfterFailure(t *testing.T) {
	delay, terminal, inv, fake := newTestDelay()
	terminal.errs = []error{gameapi.ErrServerThrottled}
	ctx := context.Background()

	_, err := inv.Invoke(ctx, gameapi.Request{Action: gameapi.ActionGetMapObjects})
	if !errors.Is(err, gameapi.ErrServerThrottled) {
		t.Fatalf("Expected throttle error to propagate, got %v", err)
	}
	if prev, _ := delay.Previous(); prev != gameapi.ActionGetMapObjects {
		t.Errorf("Expected failed call to be recorded, got %q", prev)
	}

	inv.Invoke(ctx, gameapi.Request{Action: gameapi.ActionGetMapObjects})
	sleeps := fake.Sleeps()
	if len(sleeps) != 1 || sleeps[0] != apitiming.MinGMOInterval {
		t.Errorf("Expected %v scan gap, got %v", apitiming.MinGMOInterval, sleeps)
	}
}

func TestDelayScanIntervalSpansOtherActions(t *testing.T) {
	_, terminal, inv, _ := newTestDelay()
	ctx := context.Background()

	inv.Invoke(ctx, gameapi.Request{Action: gameapi.ActionGetMapObjects})
	inv.Invoke(ctx, gameapi.Request{Action: gameapi.ActionEncounter})
	inv.Invoke(ctx, gameapi.Request{Action: gameapi.ActionGetMapObjects})

	if gap := terminal.times[2].Sub(terminal.times[0]); gap < apitiming.MinGMOInterval {
		t.Errorf("Expected scans at least %v apart, got %v", apitiming.MinGMOInterval, gap)
	}
}

func TestDelayUndefinedPairIsZero(t *testing.T) {
	delay, _, inv, _ := newTestDelay()
	inv.Invoke(context.Background(), gameapi.Request{Action: gameapi.ActionGetHatchedEggs})

	if wait := delay.Required(gameapi.ActionCheckAwardedBadge); wait != 0 {
		t.Errorf("Expected zero wait for an undefined pair, got %v", wait)
	}

	delay.Reset()
	if prev, _ := delay.Previous(); prev != "" {
		t.Errorf("Expected reset to clear previous action, got %q", prev)
	}
}

type timedCall struct {
	username string
	action   gameapi.Action
	at       time.Time
}

// recordTimes stamps every default-answered call with the fake clock
func recordTimes(env *testEnv) *[]timedCall {
	var calls []timedCall
	env.factory.Setup = func(c *mock.Client) {
		name := c.Username()
		c.Default = func(req gameapi.Request) (*gameapi.Response, error) {
			calls = append(calls, timedCall{username: name, action: req.Action, at: env.clock.Now()})
			return &gameapi.Response{Status: gameapi.StatusOK}, nil
		}
	}
	return &calls
}

func TestDelayPacesImplicitLogin(t *testing.T) {
	env := newTestEnv(t, "a")
	calls := recordTimes(env)
	session := env.session(t, ReadOnly)

	pos := geo.Position{Lat: 40.7812, Lng: -73.9665}
	if _, err := session.Invoke(context.Background(), scan(&pos)); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	got := *calls
	if len(got) != 2 || got[0].action != gameapi.ActionLogin || got[1].action != gameapi.ActionGetMapObjects {
		t.Fatalf("Expected login then get_map_objects, got %+v", got)
	}
	want := apitiming.NewTable().MinDelay(gameapi.ActionLogin, gameapi.ActionGetMapObjects)
	if gap := got[1].at.Sub(got[0].at); gap < want {
		t.Errorf("Expected login -> get_map_objects gap >= %v, got %v", want, gap)
	}
	if len(env.clock.Sleeps()) == 0 {
		t.Error("Expected the first action after login to sleep")
	}
}

func TestDelayPacesLoginAfterReplacement(t *testing.T) {
	env := newTestEnv(t, "a", "b")
	calls := recordTimes(env)
	env.factory.Client("a").Enqueue(gameapi.ActionGetMapObjects, nil, gameapi.ErrAccountBanned)
	session := env.session(t, FullReplacement)

	if _, err := session.Invoke(context.Background(), scan(nil)); err != nil {
		t.Fatalf("Expected the ban to be papered over, got %v", err)
	}

	var login, gmo *timedCall
	for i := range *calls {
		c := &(*calls)[i]
		if c.username != "b" {
			continue
		}
		switch c.action {
		case gameapi.ActionLogin:
			login = c
		case gameapi.ActionGetMapObjects:
			gmo = c
		}
	}
	if login == nil || gmo == nil {
		t.Fatalf("Expected b to log in and scan, got %+v", *calls)
	}
	want := apitiming.NewTable().MinDelay(gameapi.ActionLogin, gameapi.ActionGetMapObjects)
	if gap := gmo.at.Sub(login.at); gap < want {
		t.Errorf("Expected replacement login -> get_map_objects gap >= %v, got %v", want, gap)
	}
}
