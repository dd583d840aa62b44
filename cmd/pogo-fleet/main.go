package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"jordanella.com/pogo-fleet/internal/accountpool"
	"jordanella.com/pogo-fleet/internal/apitiming"
	"jordanella.com/pogo-fleet/internal/captcha"
	"jordanella.com/pogo-fleet/internal/config"
	"jordanella.com/pogo-fleet/internal/database"
	"jordanella.com/pogo-fleet/internal/events"
	"jordanella.com/pogo-fleet/internal/gameapi"
	"jordanella.com/pogo-fleet/internal/logging"
	"jordanella.com/pogo-fleet/internal/metrics"
	"jordanella.com/pogo-fleet/internal/monitor"
	"jordanella.com/pogo-fleet/internal/pipeline"
	"jordanella.com/pogo-fleet/internal/server"
	"jordanella.com/pogo-fleet/internal/worker"
)

func main() {
	iniPath := flag.String("config", "", "INI settings file (environment is used when empty)")
	envFile := flag.String("env", "", "Extra .env file to load before reading the environment")
	initPath := flag.String("init-config", "", "Write a default INI settings file and exit")
	flag.Parse()

	if *initPath != "" {
		if err := config.SaveToINI(config.NewDefaultConfig(), *initPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write settings: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote default settings to %s\n", *initPath)
		return
	}

	cfg, err := loadConfig(*iniPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logging.Init(cfg.LogLevel, cfg.LogPretty)
	logger := logging.NewLogger("Main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Fleet stopped with an error", err)
	}
	logger.Info("Fleet stopped")
}

func loadConfig(iniPath, envFile string) (*config.Config, error) {
	if iniPath != "" {
		return config.LoadFromINI(iniPath)
	}
	if envFile != "" {
		return config.Load(envFile)
	}
	return config.Load()
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	bus := events.NewEventBus(1024)
	defer bus.Stop()

	if cfg.JournalDir != "" {
		journal, err := events.NewJournal(bus, cfg.JournalDir)
		if err != nil {
			return err
		}
		defer journal.Close()
		logger.InfoWithContext("Event journal enabled", map[string]interface{}{"path": journal.Path()})
	}

	recorder := database.NewActivityRecorder(db, bus)
	defer recorder.Close()

	reporter := logging.NewErrorReporter(1000)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)
	m.Subscribe(bus)

	store := database.NewAccountStore(db)
	pool := accountpool.NewPool(store, cfg.ToPoolConfig())
	pool.SetEventBus(bus)
	if err := pool.Load(ctx); err != nil {
		return fmt.Errorf("failed to load account pool: %w", err)
	}
	if cfg.AccountsFile != "" {
		if err := importAccounts(ctx, pool, store, cfg.AccountsFile, logger); err != nil {
			return err
		}
	}
	go m.WatchPool(ctx, pool, 15*time.Second)

	timings := apitiming.NewTable()
	if cfg.TimingsFile != "" {
		if err := timings.LoadOverrides(cfg.TimingsFile); err != nil {
			return err
		}
	}

	builder := pipeline.NewBuilder(gameapi.BridgeFactory{Config: cfg.ToBridgeConfig()}, pool, timings, cfg.ToPipelineConfig()).
		SetEventBus(bus).
		SetObserver(m)

	var solver *captcha.RedisSolver
	if cfg.CaptchaEnabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Captcha.RedisAddr,
			Password: cfg.Captcha.RedisPassword,
			DB:       cfg.Captcha.RedisDB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to reach captcha queue: %w", err)
		}
		solver = captcha.NewRedisSolver(client, cfg.Captcha.Timeout)
		builder.SetSolver(solver)
	}

	workerConfig, err := cfg.ToWorkerConfig()
	if err != nil {
		return err
	}
	route, err := cfg.ToRoute()
	if err != nil {
		return err
	}
	manager := worker.NewManager(pool, builder, worker.NewScanJob(route), workerConfig)
	manager.SetEventBus(bus)
	manager.SetErrorReporter(reporter)

	deps := server.Deps{
		Pool:     pool,
		Workers:  manager,
		DB:       db,
		Activity: db,
		Errors:   reporter,
		Gatherer: registry,
	}
	if solver != nil {
		deps.Captcha = solver
	}
	router := server.NewRouter(deps)
	server.LogRoutes(router, logger)

	status := server.New(cfg.StatusAddr, router)
	status.Start()

	if err := manager.Start(ctx); err != nil {
		return err
	}

	health := monitor.NewHealthChecker(manager, cfg.Workers.StuckTimeout).
		WithDatabase(db).
		WithUnhealthyCallback(func(reason string, err error) {
			reporter.ReportError(logging.ErrorCategoryWorker, logging.ErrorSeverityHigh, "HealthChecker", reason, err)
		})
	health.Start(ctx)
	defer health.Stop()
	logger.InfoWithContext("Fleet started", map[string]interface{}{
		"owner":   cfg.Pool.Owner,
		"workers": workerConfig.Workers,
		"variant": workerConfig.Variant.Name,
		"stops":   len(route),
	})

	<-ctx.Done()
	logger.Info("Shutting down")
	manager.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return status.Shutdown(shutdownCtx)
}

// importAccounts loads a CSV or YAML account file into the store
func importAccounts(ctx context.Context, pool *accountpool.Pool, store accountpool.Store, path string, logger *logging.Logger) error {
	var result *accountpool.ImportResult

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		def, err := accountpool.LoadDefinition(path)
		if err != nil {
			return err
		}
		result = accountpool.ImportSeeds(ctx, store, def.Owner, def.Accounts)
		if err := pool.Refresh(ctx); err != nil {
			return fmt.Errorf("failed to refresh pool: %w", err)
		}
	default:
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open accounts file: %w", err)
		}
		defer file.Close()
		if result, err = pool.ImportCSV(ctx, file); err != nil {
			return fmt.Errorf("failed to import accounts: %w", err)
		}
	}

	logger.InfoWithContext("Imported accounts", map[string]interface{}{
		"file":     path,
		"total":    result.Total,
		"imported": result.Imported,
		"failed":   result.Failed,
	})
	for _, msg := range result.Errors {
		logger.Warn(msg)
	}
	return nil
}
