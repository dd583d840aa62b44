package config

import (
	"time"

	"jordanella.com/pogo-fleet/internal/accountpool"
	"jordanella.com/pogo-fleet/internal/gameapi"
	"jordanella.com/pogo-fleet/internal/geo"
	"jordanella.com/pogo-fleet/internal/pipeline"
	"jordanella.com/pogo-fleet/internal/worker"
)

// Config holds every setting of a fleet process
type Config struct {
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty    bool   `env:"LOG_PRETTY" envDefault:"false"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:"data/fleet.db"`
	StatusAddr   string `env:"STATUS_ADDR" envDefault:":8080"`
	AccountsFile string `env:"ACCOUNTS_FILE"`    // CSV or YAML imported at startup
	TimingsFile  string `env:"API_TIMINGS_FILE"` // YAML overrides for the delay table
	JournalDir   string `env:"JOURNAL_DIR"`      // event journal, disabled when empty

	Pool     PoolSettings     `envPrefix:"POOL_"`
	Pipeline PipelineSettings `envPrefix:"PIPELINE_"`
	Bridge   BridgeSettings   `envPrefix:"BRIDGE_"`
	Captcha  CaptchaSettings  `envPrefix:"CAPTCHA_"`
	Workers  WorkerSettings   `envPrefix:"WORKER_"`
}

// PoolSettings configures allocation and health expiry
type PoolSettings struct {
	Owner            string        `env:"OWNER" envDefault:"default"`
	AllocationWindow time.Duration `env:"ALLOCATION_WINDOW" envDefault:"1h"`
	PollAttempts     int           `env:"POLL_ATTEMPTS" envDefault:"10"`
	PollInterval     time.Duration `env:"POLL_INTERVAL" envDefault:"10s"`
	RestDuration     time.Duration `env:"REST_DURATION" envDefault:"2h"`
	TempBanExpiry    time.Duration `env:"TEMP_BAN_EXPIRY" envDefault:"72h"`
	WarnExpiry       time.Duration `env:"WARN_EXPIRY" envDefault:"720h"`
	BlindExpiry      time.Duration `env:"BLIND_EXPIRY" envDefault:"720h"`
	Proxies          []string      `env:"PROXIES"`
}

// PipelineSettings configures the call chain
type PipelineSettings struct {
	Variant         string          `env:"VARIANT" envDefault:"full"`
	SlowSpeed       float64         `env:"SLOW_SPEED" envDefault:"9"`
	FastSpeed       float64         `env:"FAST_SPEED" envDefault:"27"`
	FastCrossover   time.Duration   `env:"FAST_CROSSOVER" envDefault:"120s"`
	BackoffSchedule []time.Duration `env:"BACKOFF_SCHEDULE" envDefault:"12s,24s,24s,24s,24s,60s,60s,60s,120s,240s,480s,3600s"`
	HashingAttempts int             `env:"HASHING_ATTEMPTS" envDefault:"5"`
	HashingBase     time.Duration   `env:"HASHING_BASE" envDefault:"10s"`
	ThrottleSleep   time.Duration   `env:"THROTTLE_SLEEP" envDefault:"5s"`
	BlindThreshold  int             `env:"BLIND_THRESHOLD" envDefault:"120"`
}

// BridgeSettings configures the HTTP game bridge
type BridgeSettings struct {
	URL            string        `env:"URL"`
	HashEndpoints  []string      `env:"HASH_ENDPOINTS"`
	HashKey        string        `env:"HASH_KEY"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
}

// CaptchaSettings configures the Redis-backed solver queue. An empty
// RedisAddr disables solving.
type CaptchaSettings struct {
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"5m"`
}

// WorkerSettings configures the worker manager
type WorkerSettings struct {
	Count             int           `env:"COUNT" envDefault:"1"`
	Behaviour         string        `env:"BEHAVIOUR"`
	AllowReallocation bool          `env:"ALLOW_REALLOCATION" envDefault:"true"`
	TroubleLimit      int           `env:"TROUBLE_LIMIT" envDefault:"3"`
	MaxUnits          int           `env:"MAX_UNITS" envDefault:"0"`
	UnitPause         time.Duration `env:"UNIT_PAUSE" envDefault:"0s"`
	Route             string        `env:"ROUTE"` // "lat,lng;lat,lng"
	StuckTimeout      time.Duration `env:"STUCK_TIMEOUT" envDefault:"10m"`
}

// NewDefaultConfig returns the built-in defaults, matching the envDefault tags
func NewDefaultConfig() *Config {
	pool := accountpool.DefaultPoolConfig()
	pipe := pipeline.DefaultConfig()
	workers := worker.DefaultConfig()

	return &Config{
		LogLevel:     "info",
		DatabasePath: "data/fleet.db",
		StatusAddr:   ":8080",
		Pool: PoolSettings{
			Owner:            pool.Owner,
			AllocationWindow: pool.AllocationWindow,
			PollAttempts:     pool.PollAttempts,
			PollInterval:     pool.PollInterval,
			RestDuration:     pool.RestDuration,
			TempBanExpiry:    pool.TempBanExpiry,
			WarnExpiry:       pool.WarnExpiry,
			BlindExpiry:      pool.BlindExpiry,
		},
		Pipeline: PipelineSettings{
			Variant:         pipeline.FullReplacement.Name,
			SlowSpeed:       pipe.Travel.SlowSpeed,
			FastSpeed:       pipe.Travel.FastSpeed,
			FastCrossover:   pipe.Travel.FastCrossover,
			BackoffSchedule: pipe.Retry.Schedule,
			HashingAttempts: pipe.Retry.HashingAttempts,
			HashingBase:     pipe.Retry.HashingBase,
			ThrottleSleep:   pipe.Retry.ThrottleSleep,
			BlindThreshold:  pipe.Blind.Threshold,
		},
		Bridge: BridgeSettings{
			RequestTimeout: 30 * time.Second,
		},
		Captcha: CaptchaSettings{
			Timeout: 5 * time.Minute,
		},
		Workers: WorkerSettings{
			Count:             workers.Workers,
			AllowReallocation: workers.AllowReallocation,
			TroubleLimit:      workers.TroubleLimit,
			StuckTimeout:      10 * time.Minute,
		},
	}
}

// ToPoolConfig converts the pool settings
func (c *Config) ToPoolConfig() accountpool.PoolConfig {
	return accountpool.PoolConfig{
		Owner:            c.Pool.Owner,
		AllocationWindow: c.Pool.AllocationWindow,
		PollAttempts:     c.Pool.PollAttempts,
		PollInterval:     c.Pool.PollInterval,
		RestDuration:     c.Pool.RestDuration,
		TempBanExpiry:    c.Pool.TempBanExpiry,
		WarnExpiry:       c.Pool.WarnExpiry,
		BlindExpiry:      c.Pool.BlindExpiry,
		Proxies:          append([]string(nil), c.Pool.Proxies...),
	}
}

// ToTravelConfig converts the travel settings
func (c *Config) ToTravelConfig() pipeline.TravelConfig {
	return pipeline.TravelConfig{
		SlowSpeed:     c.Pipeline.SlowSpeed,
		FastSpeed:     c.Pipeline.FastSpeed,
		FastCrossover: c.Pipeline.FastCrossover,
	}
}

// ToRetryConfig converts the retry settings
func (c *Config) ToRetryConfig() pipeline.RetryConfig {
	return pipeline.RetryConfig{
		Schedule:        append([]time.Duration(nil), c.Pipeline.BackoffSchedule...),
		HashingAttempts: c.Pipeline.HashingAttempts,
		HashingBase:     c.Pipeline.HashingBase,
		ThrottleSleep:   c.Pipeline.ThrottleSleep,
	}
}

// ToBlindConfig converts the shadowban settings, keeping the default
// reference species
func (c *Config) ToBlindConfig() pipeline.BlindConfig {
	blind := pipeline.DefaultBlindConfig()
	blind.Threshold = c.Pipeline.BlindThreshold
	return blind
}

// ToPipelineConfig bundles the stage settings for pipeline.NewBuilder
func (c *Config) ToPipelineConfig() pipeline.Config {
	return pipeline.Config{
		Travel: c.ToTravelConfig(),
		Retry:  c.ToRetryConfig(),
		Blind:  c.ToBlindConfig(),
	}
}

// ToBridgeConfig converts the bridge settings
func (c *Config) ToBridgeConfig() gameapi.BridgeConfig {
	return gameapi.BridgeConfig{
		BaseURL:        c.Bridge.URL,
		HashEndpoints:  append([]string(nil), c.Bridge.HashEndpoints...),
		HashKey:        c.Bridge.HashKey,
		RequestTimeout: c.Bridge.RequestTimeout,
	}
}

// ToWorkerConfig converts the worker settings. The variant must already be
// valid; Validate checks it.
func (c *Config) ToWorkerConfig() (worker.Config, error) {
	variant, err := pipeline.ParseVariant(c.Pipeline.Variant)
	if err != nil {
		return worker.Config{}, err
	}
	return worker.Config{
		Workers:           c.Workers.Count,
		Variant:           variant,
		Behaviour:         c.Workers.Behaviour,
		AllowReallocation: c.Workers.AllowReallocation,
		TroubleLimit:      c.Workers.TroubleLimit,
		MaxUnits:          c.Workers.MaxUnits,
		UnitPause:         c.Workers.UnitPause,
	}, nil
}

// ToRoute parses the scan route. An empty route yields nil.
func (c *Config) ToRoute() ([]geo.Position, error) {
	return geo.ParseRoute(c.Workers.Route)
}

// CaptchaEnabled reports whether a solver queue is configured
func (c *Config) CaptchaEnabled() bool {
	return c.Captcha.RedisAddr != ""
}
