package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"jordanella.com/pogo-fleet/internal/database"
	"jordanella.com/pogo-fleet/internal/events"
)

func main() {
	dbPath := flag.String("db", "data/fleet.db", "Path to database file")
	owner := flag.String("owner", "default", "Owner of the seeded accounts")
	numAccounts := flag.Int("accounts", 10, "Number of test accounts to create")
	numActivities := flag.Int("activities", 10, "Number of activities per account")
	flag.Parse()

	log.Printf("Seeding database at: %s", *dbPath)

	db, err := database.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Database migrations complete")

	ctx := context.Background()
	store := database.NewAccountStore(db)

	for i := 0; i < *numAccounts; i++ {
		log.Printf("Creating account %d/%d", i+1, *numAccounts)
		seedAccount(ctx, db, store, *owner, i, *numActivities)
	}

	stats, err := db.GetStats()
	if err != nil {
		log.Fatalf("Failed to read stats: %v", err)
	}
	log.Printf("Database seeding complete: %v", stats)
}

func seedAccount(ctx context.Context, db *database.DB, store *database.AccountStore, owner string, index, numActivities int) {
	username := fmt.Sprintf("trainer_%03d", index+1)
	password := fmt.Sprintf("password%d", index+1)
	provider := "ptc"
	if index%4 == 3 {
		provider = "google"
	}

	if err := store.UpsertAccount(ctx, username, password, provider, owner); err != nil {
		log.Printf("Failed to create account: %v", err)
		return
	}

	level := rand.Intn(30) + 1
	if err := store.SetLevel(ctx, username, level); err != nil {
		log.Printf("Failed to set level: %v", err)
	}

	// A few accounts start out unhealthy so the pool has something to skip
	now := time.Now()
	state := "healthy"
	switch index % 7 {
	case 2:
		at := now.Add(-time.Duration(rand.Intn(48)) * time.Hour)
		if err := store.SetTempBanned(ctx, username, &at); err == nil {
			state = "temp_banned"
		}
	case 4:
		at := now.Add(-time.Duration(rand.Intn(200)) * time.Hour)
		if err := store.SetWarned(ctx, username, &at); err == nil {
			state = "warned"
		}
	case 5:
		until := now.Add(time.Duration(rand.Intn(120)+1) * time.Minute)
		if err := store.SetRestUntil(ctx, username, &until); err == nil {
			state = "resting"
		}
	case 6:
		if index%2 == 0 {
			if err := store.SetPermBanned(ctx, username, true); err == nil {
				state = "perm_banned"
			}
		}
	}

	seedActivities(ctx, db, username, numActivities)

	log.Printf("  Account %s created (level %d, %s)", username, level, state)
}

func seedActivities(ctx context.Context, db *database.DB, username string, count int) {
	types := []events.EventType{
		events.EventTypeAccountAllocated,
		events.EventTypeAccountAllocated,
		events.EventTypeAccountFreed,
		events.EventTypeAccountFreed,
		events.EventTypeAccountReallocated,
		events.EventTypeAccountLoginFailed,
		events.EventTypeAccountRested,
	}

	for i := 0; i < count; i++ {
		eventType := types[rand.Intn(len(types))]
		at := time.Now().Add(-time.Duration(rand.Intn(72*60)) * time.Minute)
		detail := ""
		if eventType == events.EventTypeAccountLoginFailed {
			detail = "bad credentials"
		}

		if err := db.RecordActivity(ctx, username, string(eventType), detail, at); err != nil {
			log.Printf("Failed to record activity: %v", err)
		}
	}
}
