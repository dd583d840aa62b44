package accountpool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"jordanella.com/pogo-fleet/internal/clock"
	"jordanella.com/pogo-fleet/internal/events"
)

var testStart = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestPool(t *testing.T, usernames ...string) (*Pool, *MemoryStore, *clock.Fake) {
	t.Helper()

	store := NewMemoryStore()
	for _, name := range usernames {
		store.Add(&Account{Username: name, Password: "pw", AuthProvider: "ptc", Owner: "default"})
	}

	fake := clock.NewFake(testStart)
	pool := NewPool(store, DefaultPoolConfig())
	pool.SetClock(fake)
	if err := pool.Load(context.Background()); err != nil {
		t.Fatalf("Failed to load pool: %v", err)
	}
	return pool, store, fake
}

func TestGetAccountReturnsDistinctRecords(t *testing.T) {
	pool, _, _ := newTestPool(t, "a", "b", "c")
	ctx := context.Background()

	seen := make(map[string]bool)
	var order []string
	for i := 0; i < 3; i++ {
		acc, err := pool.GetAccount(ctx, true)
		if err != nil {
			t.Fatalf("GetAccount %d failed: %v", i, err)
		}
		if seen[acc.Username] {
			t.Fatalf("Record %s returned twice", acc.Username)
		}
		seen[acc.Username] = true
		order = append(order, acc.Username)
	}

	if strings.Join(order, ",") != "a,b,c" {
		t.Errorf("Expected load order a,b,c, got %v", order)
	}
}

func TestGetAccountPersistsAllocation(t *testing.T) {
	pool, store, fake := newTestPool(t, "a")

	acc, err := pool.GetAccount(context.Background(), true)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}

	stored, _ := store.Snapshot("a")
	if stored.AllocatedAt == nil || !stored.AllocatedAt.Equal(fake.Now()) {
		t.Errorf("Expected allocation time persisted, got %v", stored.AllocatedAt)
	}
	if acc.AllocationEnd == nil || !acc.AllocationEnd.Equal(fake.Now().Add(time.Hour)) {
		t.Errorf("Expected allocation end one hour out, got %v", acc.AllocationEnd)
	}
	if !acc.Allocated {
		t.Error("Expected record marked allocated")
	}
}

func TestGetAccountExhaustedPollsThenFails(t *testing.T) {
	pool, _, fake := newTestPool(t, "a", "b", "c")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := pool.GetAccount(ctx, true); err != nil {
			t.Fatalf("GetAccount %d failed: %v", i, err)
		}
	}

	start := fake.Now()
	_, err := pool.GetAccount(ctx, true)
	if !errors.Is(err, ErrOutOfAccounts) {
		t.Fatalf("Expected ErrOutOfAccounts, got %v", err)
	}

	waits := fake.Waits()
	if len(waits) != 10 {
		t.Fatalf("Expected 10 polls, got %d", len(waits))
	}
	for i, w := range waits {
		if w != 10*time.Second {
			t.Errorf("Poll %d: expected 10s, got %v", i, w)
		}
	}
	if elapsed := fake.Now().Sub(start); elapsed != 100*time.Second {
		t.Errorf("Expected 100s total wait, got %v", elapsed)
	}
}

func TestGetAccountContextCancelled(t *testing.T) {
	pool, _, _ := newTestPool(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := pool.GetAccount(ctx, true); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestRestingRecordNeverReturned(t *testing.T) {
	store := NewMemoryStore()
	until := testStart.Add(time.Hour)
	store.Add(&Account{Username: "resting", Owner: "default", RestUntil: &until})
	store.Add(&Account{Username: "fresh", Owner: "default"})

	pool := NewPool(store, DefaultPoolConfig())
	fake := clock.NewFake(testStart)
	pool.SetClock(fake)
	pool.Load(context.Background())

	acc, err := pool.GetAccount(context.Background(), true)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if acc.Username != "fresh" {
		t.Errorf("Expected fresh, got %s", acc.Username)
	}

	cfg := DefaultPoolConfig()
	cfg.PollAttempts = 2
	short := NewPool(store, cfg)
	short.SetClock(clock.NewFake(testStart))
	short.Load(context.Background())
	short.GetAccount(context.Background(), true)

	if _, err := short.GetAccount(context.Background(), true); !errors.Is(err, ErrOutOfAccounts) {
		t.Errorf("Expected resting record to be skipped, got %v", err)
	}
}

func TestPermBannedNeverReturned(t *testing.T) {
	store := NewMemoryStore()
	store.Add(&Account{Username: "banned", Owner: "default", PermBanned: true})

	cfg := DefaultPoolConfig()
	cfg.PollAttempts = 1
	pool := NewPool(store, cfg)
	pool.SetClock(clock.NewFake(testStart))
	pool.Load(context.Background())

	if _, err := pool.GetAccount(context.Background(), true); !errors.Is(err, ErrOutOfAccounts) {
		t.Errorf("Expected ErrOutOfAccounts, got %v", err)
	}
}

func TestFreeAccountMakesRecordEligible(t *testing.T) {
	pool, _, _ := newTestPool(t, "a")
	ctx := context.Background()

	acc, _ := pool.GetAccount(ctx, false)
	if err := pool.FreeAccount(acc); err != nil {
		t.Fatalf("FreeAccount failed: %v", err)
	}

	again, err := pool.GetAccount(ctx, false)
	if err != nil {
		t.Fatalf("Expected immediate re-allocation, got %v", err)
	}
	if again.Username != "a" {
		t.Errorf("Expected a, got %s", again.Username)
	}
}

func TestFreeAccountErrors(t *testing.T) {
	pool, _, _ := newTestPool(t, "a")

	if err := pool.FreeAccount(&Account{Username: "ghost"}); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("Expected ErrAccountNotFound, got %v", err)
	}
	if err := pool.FreeAccount(&Account{Username: "a"}); !errors.Is(err, ErrNotAllocated) {
		t.Errorf("Expected ErrNotAllocated, got %v", err)
	}
}

func TestFreeAccountSortsOldestFirst(t *testing.T) {
	pool, _, fake := newTestPool(t, "a", "b")
	ctx := context.Background()

	a, _ := pool.GetAccount(ctx, false)
	fake.Advance(time.Minute)
	b, _ := pool.GetAccount(ctx, false)

	pool.FreeAccount(b)
	pool.FreeAccount(a)

	next, err := pool.GetAccount(ctx, false)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if next.Username != "a" {
		t.Errorf("Expected least recently allocated a, got %s", next.Username)
	}
}

func TestReallocationWithinWindow(t *testing.T) {
	store := NewMemoryStore()
	recent := testStart.Add(-10 * time.Minute)
	store.Add(&Account{Username: "resume", Owner: "default", AllocatedAt: &recent})

	cfg := DefaultPoolConfig()
	cfg.PollAttempts = 1
	pool := NewPool(store, cfg)
	pool.SetClock(clock.NewFake(testStart))
	pool.Load(context.Background())

	if _, err := pool.GetAccount(context.Background(), false); !errors.Is(err, ErrOutOfAccounts) {
		t.Fatalf("Expected record inside window to be skipped without reallocation, got %v", err)
	}

	writes := store.Writes()
	acc, err := pool.GetAccount(context.Background(), true)
	if err != nil {
		t.Fatalf("Expected reallocation, got %v", err)
	}
	if acc.Username != "resume" {
		t.Errorf("Expected resume, got %s", acc.Username)
	}
	if store.Writes() != writes {
		t.Error("Reallocation must not persist allocation time")
	}
	if !acc.AllocatedAt.Equal(recent) {
		t.Errorf("Expected original allocation time kept, got %v", acc.AllocatedAt)
	}
}

func TestReallocationWindowExpired(t *testing.T) {
	store := NewMemoryStore()
	old := testStart.Add(-2 * time.Hour)
	store.Add(&Account{Username: "stale", Owner: "default", AllocatedAt: &old})

	pool := NewPool(store, DefaultPoolConfig())
	pool.SetClock(clock.NewFake(testStart))
	pool.Load(context.Background())

	acc, err := pool.GetAccount(context.Background(), false)
	if err != nil {
		t.Fatalf("Expected fresh allocation after window, got %v", err)
	}
	if !acc.AllocatedAt.Equal(testStart) {
		t.Errorf("Expected new allocation time, got %v", acc.AllocatedAt)
	}
}

func TestOtherOwnersNotLoaded(t *testing.T) {
	store := NewMemoryStore()
	store.Add(&Account{Username: "mine", Owner: "default"})
	store.Add(&Account{Username: "theirs", Owner: "other"})

	pool := NewPool(store, DefaultPoolConfig())
	pool.Load(context.Background())

	if stats := pool.Stats(); stats.Total != 1 {
		t.Errorf("Expected 1 record, got %d", stats.Total)
	}
}

func TestConcurrentAllocationMutualExclusion(t *testing.T) {
	store := NewMemoryStore()
	for i := 0; i < 4; i++ {
		store.Add(&Account{Username: fmt.Sprintf("acc%d", i), Owner: "default"})
	}

	cfg := DefaultPoolConfig()
	cfg.PollAttempts = 1000000
	cfg.PollInterval = time.Millisecond
	pool := NewPool(store, cfg)
	pool.SetClock(clock.NewFake(testStart))
	pool.Load(context.Background())

	var mu sync.Mutex
	holders := make(map[string]int)
	var wg sync.WaitGroup

	for worker := 0; worker < 12; worker++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				acc, err := pool.GetAccount(context.Background(), i%2 == 0)
				if err != nil {
					t.Errorf("Worker %d: %v", id, err)
					return
				}

				mu.Lock()
				if holder, held := holders[acc.Username]; held {
					t.Errorf("Record %s held by %d and %d", acc.Username, holder, id)
				}
				holders[acc.Username] = id
				mu.Unlock()

				runtime.Gosched()

				mu.Lock()
				delete(holders, acc.Username)
				mu.Unlock()

				if err := pool.FreeAccount(acc); err != nil {
					t.Errorf("Worker %d free: %v", id, err)
				}
			}
		}(worker)
	}
	wg.Wait()
}

func TestWaiterWokenByFree(t *testing.T) {
	store := NewMemoryStore()
	store.Add(&Account{Username: "only", Owner: "default"})

	pool := NewPool(store, DefaultPoolConfig())
	pool.Load(context.Background())

	held, err := pool.GetAccount(context.Background(), true)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}

	result := make(chan *Account, 1)
	go func() {
		acc, err := pool.GetAccount(context.Background(), true)
		if err != nil {
			t.Errorf("Waiter failed: %v", err)
		}
		result <- acc
	}()

	time.Sleep(50 * time.Millisecond)
	pool.FreeAccount(held)

	select {
	case acc := <-result:
		if acc == nil || acc.Username != "only" {
			t.Errorf("Expected waiter to receive only, got %v", acc)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Waiter was not woken by FreeAccount")
	}
}

func TestReplaceBanned(t *testing.T) {
	pool, store, fake := newTestPool(t, "a", "b")
	ctx := context.Background()

	acc, _ := pool.GetAccount(ctx, true)
	next, err := pool.ReplaceBanned(ctx, acc)
	if err != nil {
		t.Fatalf("ReplaceBanned failed: %v", err)
	}
	if next.Username != "b" {
		t.Errorf("Expected replacement b, got %s", next.Username)
	}

	stored, _ := store.Snapshot("a")
	if stored.TempBannedAt == nil || !stored.TempBannedAt.Equal(fake.Now()) {
		t.Errorf("Expected temp ban persisted, got %v", stored.TempBannedAt)
	}

	current, _ := pool.Get("a")
	if current.Allocated {
		t.Error("Banned record should be released")
	}
}

func TestReplaceWithoutCandidateGivesUp(t *testing.T) {
	pool, _, _ := newTestPool(t, "a")
	ctx := context.Background()

	acc, _ := pool.GetAccount(ctx, true)
	_, err := pool.ReplacePermBanned(ctx, acc)
	if !errors.Is(err, ErrGaveUp) {
		t.Fatalf("Expected ErrGaveUp, got %v", err)
	}
	if errors.Is(err, ErrOutOfAccounts) {
		t.Error("ErrGaveUp must be distinct from ErrOutOfAccounts")
	}

	current, _ := pool.Get("a")
	if !current.PermBanned {
		t.Error("Expected record marked perm banned")
	}
}

func TestTooMuchTroubleRests(t *testing.T) {
	pool, store, fake := newTestPool(t, "a", "b")
	ctx := context.Background()

	acc, _ := pool.GetAccount(ctx, true)
	if _, err := pool.TooMuchTrouble(ctx, acc); err != nil {
		t.Fatalf("TooMuchTrouble failed: %v", err)
	}

	stored, _ := store.Snapshot("a")
	want := fake.Now().Add(2 * time.Hour)
	if stored.RestUntil == nil || !stored.RestUntil.Equal(want) {
		t.Errorf("Expected rest until %v, got %v", want, stored.RestUntil)
	}

	if stats := pool.Stats(); stats.Resting != 1 {
		t.Errorf("Expected 1 resting record, got %d", stats.Resting)
	}
}

func TestBlindedAndUnableToLogin(t *testing.T) {
	pool, store, _ := newTestPool(t, "a", "b", "c")
	ctx := context.Background()

	acc, _ := pool.GetAccount(ctx, true)
	next, err := pool.Blinded(ctx, acc)
	if err != nil {
		t.Fatalf("Blinded failed: %v", err)
	}
	if stored, _ := store.Snapshot("a"); stored.BlindedAt == nil {
		t.Error("Expected blinded timestamp persisted")
	}

	if _, err := pool.ReplaceUnableToLogin(ctx, next); err != nil {
		t.Fatalf("ReplaceUnableToLogin failed: %v", err)
	}
	if stored, _ := store.Snapshot(next.Username); stored.RestUntil == nil {
		t.Error("Expected login failure to rest the record")
	}
}

func TestIPBannedRestsRecord(t *testing.T) {
	pool, store, _ := newTestPool(t, "a", "b")
	ctx := context.Background()

	acc, _ := pool.GetAccount(ctx, true)
	if _, err := pool.IPBanned(ctx, acc); err != nil {
		t.Fatalf("IPBanned failed: %v", err)
	}
	if stored, _ := store.Snapshot("a"); stored.RestUntil == nil {
		t.Error("Expected ip ban to rest the record")
	}
}

func TestHandleWarnedPrefersNeverWarned(t *testing.T) {
	store := NewMemoryStore()
	longAgo := testStart.Add(-60 * 24 * time.Hour)
	store.Add(&Account{Username: "current", Owner: "default"})
	store.Add(&Account{Username: "oncewarned", Owner: "default", WarnedAt: &longAgo})
	store.Add(&Account{Username: "clean", Owner: "default"})

	pool := NewPool(store, DefaultPoolConfig())
	pool.SetClock(clock.NewFake(testStart))
	pool.Load(context.Background())

	acc, _ := pool.GetAccount(context.Background(), true)
	if acc.Username != "current" {
		t.Fatalf("Expected current, got %s", acc.Username)
	}

	next, err := pool.HandleWarned(context.Background(), acc)
	if err != nil {
		t.Fatalf("HandleWarned failed: %v", err)
	}
	if next.Username != "clean" {
		t.Errorf("Expected never-warned clean, got %s", next.Username)
	}
	if stored, _ := store.Snapshot("current"); stored.WarnedAt == nil {
		t.Error("Expected warning persisted")
	}
}

func TestGetWithBehaviour(t *testing.T) {
	store := NewMemoryStore()
	store.Add(&Account{Username: "catcher", Owner: "default", Behaviour: "catch"})
	store.Add(&Account{Username: "blank", Owner: "default"})
	store.Add(&Account{Username: "feeder", Owner: "default", Behaviour: "feed"})

	pool := NewPool(store, DefaultPoolConfig())
	pool.SetClock(clock.NewFake(testStart))
	pool.Load(context.Background())
	ctx := context.Background()

	acc, err := pool.GetWithBehaviour(ctx, "feed")
	if err != nil || acc.Username != "feeder" {
		t.Fatalf("Expected feeder, got %v %v", acc, err)
	}

	acc, err = pool.GetWithBehaviour(ctx, "feed")
	if err != nil {
		t.Fatalf("Expected untagged fallback, got %v", err)
	}
	if acc.Username != "blank" {
		t.Errorf("Expected blank, got %s", acc.Username)
	}
	if acc.Behaviour != "feed" {
		t.Errorf("Expected record branded feed, got %q", acc.Behaviour)
	}
	if stored, _ := store.Snapshot("blank"); stored.Behaviour != "feed" {
		t.Errorf("Expected branding persisted, got %q", stored.Behaviour)
	}
}

func TestPersistenceFailureDoesNotFailCaller(t *testing.T) {
	pool, store, _ := newTestPool(t, "a", "b")
	store.FailWrites = errors.New("database is locked")
	ctx := context.Background()

	acc, err := pool.GetAccount(ctx, true)
	if err != nil {
		t.Fatalf("Expected allocation despite store failure, got %v", err)
	}
	if _, err := pool.ReplaceBanned(ctx, acc); err != nil {
		t.Fatalf("Expected replacement despite store failure, got %v", err)
	}
}

func TestRecordLevelAndLogin(t *testing.T) {
	pool, store, fake := newTestPool(t, "a")
	ctx := context.Background()

	acc, _ := pool.GetAccount(ctx, true)
	pool.RecordLevel(ctx, acc, 12)
	pool.RecordLogin(ctx, acc)

	stored, _ := store.Snapshot("a")
	if stored.Level != 12 {
		t.Errorf("Expected level 12, got %d", stored.Level)
	}
	if stored.LastLoginAt == nil || !stored.LastLoginAt.Equal(fake.Now()) {
		t.Errorf("Expected last login persisted, got %v", stored.LastLoginAt)
	}
}

func TestRefreshKeepsRuntimeState(t *testing.T) {
	pool, store, _ := newTestPool(t, "a")
	ctx := context.Background()

	acc, _ := pool.GetAccount(ctx, true)
	store.UpsertAccount(ctx, "b", "pw", "ptc", "default")

	if err := pool.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	current, _ := pool.Get(acc.Username)
	if !current.Allocated {
		t.Error("Refresh must keep allocation of held records")
	}
	if stats := pool.Stats(); stats.Total != 2 || stats.Available != 1 {
		t.Errorf("Expected 2 total and 1 available, got %+v", stats)
	}
}

func TestProxiesAssignedRoundRobin(t *testing.T) {
	store := NewMemoryStore()
	for _, name := range []string{"a", "b", "c"} {
		store.Add(&Account{Username: name, Owner: "default"})
	}

	cfg := DefaultPoolConfig()
	cfg.Proxies = []string{"http://p1:8080", "http://p2:8080"}
	pool := NewPool(store, cfg)
	pool.Load(context.Background())

	accounts := pool.ListAccounts()
	want := []string{"http://p1:8080", "http://p2:8080", "http://p1:8080"}
	for i, acc := range accounts {
		if acc.Proxy != want[i] {
			t.Errorf("Account %s: expected proxy %s, got %s", acc.Username, want[i], acc.Proxy)
		}
	}
	if accounts[0].Credentials().Proxy != want[0] {
		t.Error("Expected credentials to carry proxy")
	}
}

func TestTransitionsPublishEvents(t *testing.T) {
	pool, _, _ := newTestPool(t, "a", "b")
	bus := events.NewEventBus(16)
	defer bus.Stop()
	pool.SetEventBus(bus)

	banned := make(chan events.Event, 1)
	replaced := make(chan events.Event, 1)
	bus.Subscribe(events.EventTypeAccountBanned, func(e events.Event) { banned <- e })
	bus.Subscribe(events.EventTypeAccountReplaced, func(e events.Event) { replaced <- e })

	ctx := context.Background()
	acc, _ := pool.GetAccount(ctx, true)
	pool.ReplaceBanned(ctx, acc)

	for _, ch := range []chan events.Event{banned, replaced} {
		select {
		case e := <-ch:
			if e.Username() != "a" {
				t.Errorf("Expected event for a, got %s", e.Username())
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Timed out waiting for event")
		}
	}
}

func TestImportCSV(t *testing.T) {
	pool, store, _ := newTestPool(t)
	csv := "username,password,provider\nash,pikachu,ptc\nmisty,starmie,GOOGLE\nbrock,onix\n"

	result, err := pool.ImportCSV(context.Background(), strings.NewReader(csv))
	if err != nil {
		t.Fatalf("ImportCSV failed: %v", err)
	}
	if result.Imported != 3 || result.Failed != 0 {
		t.Errorf("Expected 3 imported, got %+v", result)
	}

	misty, ok := store.Snapshot("misty")
	if !ok || misty.AuthProvider != "google" {
		t.Errorf("Expected misty with google provider, got %+v", misty)
	}
	brock, _ := store.Snapshot("brock")
	if brock.AuthProvider != "ptc" {
		t.Errorf("Expected default provider ptc, got %s", brock.AuthProvider)
	}
	if stats := pool.Stats(); stats.Total != 3 {
		t.Errorf("Expected pool refreshed to 3, got %d", stats.Total)
	}
}

func TestParseCSVRejectsShortRows(t *testing.T) {
	if _, err := ParseCSV(strings.NewReader("ash\n")); err == nil {
		t.Error("Expected error for row without password")
	}
}

func TestMemoryStoreListAllocatable(t *testing.T) {
	store := NewMemoryStore()
	recent := testStart.Add(-time.Minute)
	older := testStart.Add(-3 * time.Hour)
	oldest := testStart.Add(-5 * time.Hour)
	tempBan := testStart.Add(-time.Hour)
	store.Add(&Account{Username: "inwindow", Owner: "default", AllocatedAt: &recent})
	store.Add(&Account{Username: "older", Owner: "default", AllocatedAt: &older})
	store.Add(&Account{Username: "oldest", Owner: "default", AllocatedAt: &oldest})
	store.Add(&Account{Username: "never", Owner: "default"})
	store.Add(&Account{Username: "banned", Owner: "default", TempBannedAt: &tempBan})

	list, err := store.ListAllocatable(context.Background(), "default", testStart, DefaultPoolConfig().Criteria())
	if err != nil {
		t.Fatalf("ListAllocatable failed: %v", err)
	}

	var names []string
	for _, acc := range list {
		names = append(names, acc.Username)
	}
	if strings.Join(names, ",") != "never,oldest,older" {
		t.Errorf("Expected never,oldest,older, got %v", names)
	}
}

func TestMemoryStoreListAllocatableSkipsResting(t *testing.T) {
	store := NewMemoryStore()
	resting := testStart.Add(time.Hour)
	rested := testStart.Add(-time.Minute)
	store.Add(&Account{Username: "resting", Owner: "default", RestUntil: &resting})
	store.Add(&Account{Username: "rested", Owner: "default", RestUntil: &rested})

	list, err := store.ListAllocatable(context.Background(), "default", testStart, DefaultPoolConfig().Criteria())
	if err != nil {
		t.Fatalf("ListAllocatable failed: %v", err)
	}
	if len(list) != 1 || list[0].Username != "rested" {
		t.Errorf("Expected only rested, got %v", list)
	}
}
