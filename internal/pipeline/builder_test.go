package pipeline

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"jordanella.com/pogo-fleet/internal/events"
	"jordanella.com/pogo-fleet/internal/gameapi"
	"jordanella.com/pogo-fleet/internal/geo"
)

func TestVariantStageOrder(t *testing.T) {
	env := newTestEnv(t, "a", "b", "c")

	tests := []struct {
		variant Variant
		want    []string
	}{
		{FullReplacement, []string{"ban_check", "captcha", "blind_check", "login", "travel", "retry", "delay"}},
		{ReadOnly, []string{"ban_check", "captcha", "login", "travel", "retry", "delay"}},
		{ScanOnly, []string{"ban_check", "captcha", "blind_check", "login", "travel", "retry", "delay"}},
	}

	for _, tt := range tests {
		session := env.session(t, tt.variant)
		if got := session.Stages(); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.variant.Name, tt.want, got)
		}
	}
}

func TestParseVariant(t *testing.T) {
	for _, name := range []string{"full", "read_only", "scan_only"} {
		v, err := ParseVariant(name)
		if err != nil || v.Name != name {
			t.Errorf("Expected variant %s, got %+v (%v)", name, v, err)
		}
	}
	if _, err := ParseVariant("bogus"); err == nil {
		t.Error("Expected error for unknown variant")
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	stage := func(name string) Stage {
		return stageFunc{name: name, wrap: func(next Invoker) Invoker {
			return InvokerFunc(func(ctx context.Context, req gameapi.Request) (*gameapi.Response, error) {
				order = append(order, name)
				return next.Invoke(ctx, req)
			})
		}}
	}

	inv := Chain(&scripted{}, stage("outer"), stage("middle"), stage("inner"))
	inv.Invoke(context.Background(), gameapi.Request{Action: gameapi.ActionGetPlayer})

	if !reflect.DeepEqual(order, []string{"outer", "middle", "inner"}) {
		t.Errorf("Expected outer, middle, inner, got %v", order)
	}
}

type stageFunc struct {
	name string
	wrap func(Invoker) Invoker
}

func (s stageFunc) Name() string              { return s.name }
func (s stageFunc) Wrap(next Invoker) Invoker { return s.wrap(next) }

func TestSessionAppliesSideEffects(t *testing.T) {
	env := newTestEnv(t, "a")
	client := env.factory.Client("a")
	inventory := gameapi.NewInventory()
	inventory.Items[1] = 20
	client.Enqueue(gameapi.ActionGetInventory, &gameapi.Response{Status: gameapi.StatusOK, Level: 12, Inventory: inventory}, nil)

	session := env.session(t, ReadOnly)
	ctx := context.Background()

	if err := session.Login(ctx); err != nil {
		t.Fatalf("Failed to log in: %v", err)
	}
	pos := geo.NewPosition(40.7580, -73.9855)
	if _, err := session.Invoke(ctx, scan(&pos)); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if _, err := session.Invoke(ctx, gameapi.Request{Action: gameapi.ActionGetInventory}); err != nil {
		t.Fatalf("Inventory failed: %v", err)
	}

	acc, _ := env.pool.Get("a")
	if acc.Position == nil || acc.Position.Lat != pos.Lat {
		t.Errorf("Expected position %v, got %v", pos, acc.Position)
	}
	if acc.Inventory == nil || acc.Inventory.Items[1] != 20 {
		t.Errorf("Expected inventory snapshot, got %+v", acc.Inventory)
	}
	if acc.Level != 12 {
		t.Errorf("Expected level 12, got %d", acc.Level)
	}

	stored, _ := env.store.Snapshot("a")
	if stored.Level != 12 || stored.LastLoginAt == nil {
		t.Errorf("Expected level and login persisted, got %+v", stored)
	}
	if client.CallCount(gameapi.ActionLogin) != 1 {
		t.Errorf("Expected a single login, got %d", client.CallCount(gameapi.ActionLogin))
	}
}

func TestSessionLogsInImplicitly(t *testing.T) {
	env := newTestEnv(t, "a")
	session := env.session(t, ReadOnly)

	if _, err := session.Invoke(context.Background(), gameapi.Request{Action: gameapi.ActionGetPlayer}); err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	calls := env.factory.Client("a").Calls()
	if len(calls) != 2 || calls[0].Action != gameapi.ActionLogin || calls[1].Action != gameapi.ActionGetPlayer {
		t.Errorf("Expected login then get_player, got %v", calls)
	}
}

func TestSessionPublishesAbandonedAction(t *testing.T) {
	env := newTestEnv(t, "a")
	env.factory.Client("a").EnqueueError(gameapi.ActionFortSearch, gameapi.ErrTransport, 20)

	bus := events.NewEventBus(8)
	var mu sync.Mutex
	var abandoned []events.Event
	bus.Subscribe(events.EventTypeActionAbandoned, func(e events.Event) {
		mu.Lock()
		abandoned = append(abandoned, e)
		mu.Unlock()
	})
	env.builder.SetEventBus(bus)
	session := env.session(t, FullReplacement)

	_, err := session.Invoke(context.Background(), gameapi.Request{Action: gameapi.ActionFortSearch})
	if !errors.Is(err, ErrAPIActionAbandoned) {
		t.Fatalf("Expected ErrAPIActionAbandoned, got %v", err)
	}
	bus.Stop()

	if len(abandoned) != 1 || abandoned[0].Username() != "a" || abandoned[0].Data["action"] != "fort_search" {
		t.Errorf("Unexpected abandoned events: %+v", abandoned)
	}
}

func TestSessionThrottlesTravel(t *testing.T) {
	env := newTestEnv(t, "a")
	session := env.session(t, ReadOnly)
	ctx := context.Background()

	start := geo.NewPosition(35.6595, 139.7005)
	next := geo.Offset(start, 450, 0)
	session.Invoke(ctx, scan(&start))
	before := env.clock.Now()
	session.Invoke(ctx, scan(&next))

	// 50s on foot dominates the 10s scan interval
	want := time.Duration(geo.Distance(start, next) / 9 * float64(time.Second))
	if elapsed := env.clock.Now().Sub(before); elapsed < want-time.Millisecond {
		t.Errorf("Expected at least %v between scans, got %v", want, elapsed)
	}
	if session.Travel() == nil {
		t.Error("Expected a travel stage")
	}
}

type recordingObserver struct {
	calls   []gameapi.Action
	sleeps  map[string]int
	retries []string
}

func (o *recordingObserver) ObserveCall(action gameapi.Action, err error, d time.Duration) {
	o.calls = append(o.calls, action)
}

func (o *recordingObserver) ObserveSleep(kind string, d time.Duration) {
	o.sleeps[kind]++
}

func (o *recordingObserver) ObserveRetry(action gameapi.Action, reason string) {
	o.retries = append(o.retries, reason)
}

func TestBuilderReportsToObserver(t *testing.T) {
	env := newTestEnv(t, "a")
	env.factory.Client("a").Enqueue(gameapi.ActionGetMapObjects, nil, gameapi.ErrServerThrottled)
	observer := &recordingObserver{sleeps: make(map[string]int)}
	env.builder.SetObserver(observer)
	session := env.session(t, ReadOnly)

	if _, err := session.Invoke(context.Background(), scan(nil)); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if len(observer.calls) != 3 {
		t.Errorf("Expected login and two scans observed, got %v", observer.calls)
	}
	if observer.sleeps[SleepThrottle] != 1 || observer.sleeps[SleepBackoff] != 1 {
		t.Errorf("Unexpected sleeps: %v", observer.sleeps)
	}
	if !reflect.DeepEqual(observer.retries, []string{"throttled"}) {
		t.Errorf("Expected one throttled retry, got %v", observer.retries)
	}
}
