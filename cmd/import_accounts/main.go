package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"jordanella.com/pogo-fleet/internal/accountpool"
	"jordanella.com/pogo-fleet/internal/database"
)

func main() {
	csvPath := flag.String("csv", "", "CSV file of username,password[,provider] rows to import")
	yamlPath := flag.String("yaml", "", "YAML account definition to import")
	dbPath := flag.String("db", "data/fleet.db", "Path to database file")
	owner := flag.String("owner", "default", "Owner to import CSV accounts under and to list")
	list := flag.Bool("list", false, "List accounts the owner could be handed right now")
	backup := flag.String("backup", "", "Write a database backup to this path before importing")
	flag.Parse()

	if *csvPath == "" && *yamlPath == "" && !*list {
		fmt.Println("Usage:")
		fmt.Println("  Import: import_accounts -csv <file> [-owner <owner>] [-db <database>]")
		fmt.Println("  Import: import_accounts -yaml <file> [-db <database>]")
		fmt.Println("  List:   import_accounts -list [-owner <owner>] [-db <database>]")
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  import_accounts -csv ./accounts.csv -owner north")
		fmt.Println("  import_accounts -yaml ./north.yaml -backup ./fleet.db.bak")
		os.Exit(1)
	}

	db, err := database.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	if *backup != "" {
		if err := db.Backup(*backup); err != nil {
			log.Fatalf("Failed to back up database: %v", err)
		}
		fmt.Printf("Backed up database to %s\n\n", *backup)
	}

	ctx := context.Background()
	store := database.NewAccountStore(db)

	if *csvPath != "" {
		performCSVImport(ctx, store, *csvPath, *owner)
	}
	if *yamlPath != "" {
		performYAMLImport(ctx, store, *yamlPath)
	}
	if *list {
		performList(ctx, store, *owner)
	}
}

func performCSVImport(ctx context.Context, store accountpool.Store, path, owner string) {
	fmt.Printf("=== Importing Accounts from %s ===\n\n", filepath.Base(path))

	file, err := os.Open(path)
	if err != nil {
		log.Fatalf("Failed to open CSV: %v", err)
	}
	defer file.Close()

	seeds, err := accountpool.ParseCSV(file)
	if err != nil {
		log.Fatalf("Import failed: %v", err)
	}

	printResult(accountpool.ImportSeeds(ctx, store, owner, seeds), owner)
}

func performYAMLImport(ctx context.Context, store accountpool.Store, path string) {
	fmt.Printf("=== Importing Definition %s ===\n\n", filepath.Base(path))

	def, err := accountpool.LoadDefinition(path)
	if err != nil {
		log.Fatalf("Import failed: %v", err)
	}

	printResult(accountpool.ImportSeeds(ctx, store, def.Owner, def.Accounts), def.Owner)
}

func printResult(result *accountpool.ImportResult, owner string) {
	fmt.Printf("Import Summary (owner %s):\n", owner)
	fmt.Printf("  Total rows:      %d\n", result.Total)
	fmt.Printf("  Imported:        %d\n", result.Imported)
	fmt.Printf("  Failed:          %d\n", result.Failed)
	fmt.Println()

	if len(result.Errors) > 0 {
		fmt.Println("Errors:")
		for _, errMsg := range result.Errors {
			fmt.Printf("  - %s\n", errMsg)
		}
		fmt.Println()
	}
}

func performList(ctx context.Context, store accountpool.Store, owner string) {
	criteria := accountpool.DefaultPoolConfig().Criteria()
	accounts, err := store.ListAllocatable(ctx, owner, time.Now(), criteria)
	if err != nil {
		log.Fatalf("Failed to list accounts: %v", err)
	}

	fmt.Printf("=== %d allocatable accounts for %s ===\n\n", len(accounts), owner)
	for _, acc := range accounts {
		last := "never"
		if acc.AllocatedAt != nil {
			last = acc.AllocatedAt.Format(time.RFC3339)
		}
		fmt.Printf("  %-24s %-7s level %-3d last allocated %s\n", acc.Username, acc.AuthProvider, acc.Level, last)
	}
}
