package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"
)

// Load reads configuration from the environment after loading envFiles into
// it. With no files given an optional .env in the working directory is used.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	} else if err := godotenv.Load(envFiles...); err != nil {
		return nil, fmt.Errorf("failed to load env files: %w", err)
	}

	return parse(env.Options{})
}

// LoadFromMap parses configuration from an explicit variable set instead of
// the process environment
func LoadFromMap(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}

// LoadFromINI reads configuration from a Settings.ini style file. Missing
// keys keep their defaults.
func LoadFromINI(path string) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	config := NewDefaultConfig()

	general := file.Section("General")
	config.LogLevel = general.Key("logLevel").MustString(config.LogLevel)
	config.LogPretty = general.Key("logPretty").MustBool(config.LogPretty)
	config.DatabasePath = general.Key("databasePath").MustString(config.DatabasePath)
	config.StatusAddr = general.Key("statusAddr").MustString(config.StatusAddr)
	config.AccountsFile = general.Key("accountsFile").MustString(config.AccountsFile)
	config.TimingsFile = general.Key("timingsFile").MustString(config.TimingsFile)
	config.JournalDir = general.Key("journalDir").MustString(config.JournalDir)

	pool := file.Section("Pool")
	config.Pool.Owner = pool.Key("owner").MustString(config.Pool.Owner)
	config.Pool.AllocationWindow = pool.Key("allocationWindow").MustDuration(config.Pool.AllocationWindow)
	config.Pool.PollAttempts = pool.Key("pollAttempts").MustInt(config.Pool.PollAttempts)
	config.Pool.PollInterval = pool.Key("pollInterval").MustDuration(config.Pool.PollInterval)
	config.Pool.RestDuration = pool.Key("restDuration").MustDuration(config.Pool.RestDuration)
	config.Pool.TempBanExpiry = pool.Key("tempBanExpiry").MustDuration(config.Pool.TempBanExpiry)
	config.Pool.WarnExpiry = pool.Key("warnExpiry").MustDuration(config.Pool.WarnExpiry)
	config.Pool.BlindExpiry = pool.Key("blindExpiry").MustDuration(config.Pool.BlindExpiry)
	if pool.HasKey("proxies") {
		config.Pool.Proxies = splitList(pool.Key("proxies").String())
	}

	pipe := file.Section("Pipeline")
	config.Pipeline.Variant = pipe.Key("variant").MustString(config.Pipeline.Variant)
	config.Pipeline.SlowSpeed = pipe.Key("slowSpeed").MustFloat64(config.Pipeline.SlowSpeed)
	config.Pipeline.FastSpeed = pipe.Key("fastSpeed").MustFloat64(config.Pipeline.FastSpeed)
	config.Pipeline.FastCrossover = pipe.Key("fastCrossover").MustDuration(config.Pipeline.FastCrossover)
	config.Pipeline.HashingAttempts = pipe.Key("hashingAttempts").MustInt(config.Pipeline.HashingAttempts)
	config.Pipeline.HashingBase = pipe.Key("hashingBase").MustDuration(config.Pipeline.HashingBase)
	config.Pipeline.ThrottleSleep = pipe.Key("throttleSleep").MustDuration(config.Pipeline.ThrottleSleep)
	config.Pipeline.BlindThreshold = pipe.Key("blindThreshold").MustInt(config.Pipeline.BlindThreshold)
	if pipe.HasKey("backoffSchedule") {
		schedule, err := parseDurations(pipe.Key("backoffSchedule").String())
		if err != nil {
			return nil, fmt.Errorf("invalid backoffSchedule: %w", err)
		}
		config.Pipeline.BackoffSchedule = schedule
	}

	bridge := file.Section("Bridge")
	config.Bridge.URL = bridge.Key("url").MustString(config.Bridge.URL)
	config.Bridge.HashKey = bridge.Key("hashKey").MustString(config.Bridge.HashKey)
	config.Bridge.RequestTimeout = bridge.Key("requestTimeout").MustDuration(config.Bridge.RequestTimeout)
	if bridge.HasKey("hashEndpoints") {
		config.Bridge.HashEndpoints = splitList(bridge.Key("hashEndpoints").String())
	}

	solver := file.Section("Captcha")
	config.Captcha.RedisAddr = solver.Key("redisAddr").MustString(config.Captcha.RedisAddr)
	config.Captcha.RedisPassword = solver.Key("redisPassword").MustString(config.Captcha.RedisPassword)
	config.Captcha.RedisDB = solver.Key("redisDB").MustInt(config.Captcha.RedisDB)
	config.Captcha.Timeout = solver.Key("timeout").MustDuration(config.Captcha.Timeout)

	workers := file.Section("Workers")
	config.Workers.Count = workers.Key("count").MustInt(config.Workers.Count)
	config.Workers.Behaviour = workers.Key("behaviour").MustString(config.Workers.Behaviour)
	config.Workers.AllowReallocation = workers.Key("allowReallocation").MustBool(config.Workers.AllowReallocation)
	config.Workers.TroubleLimit = workers.Key("troubleLimit").MustInt(config.Workers.TroubleLimit)
	config.Workers.MaxUnits = workers.Key("maxUnits").MustInt(config.Workers.MaxUnits)
	config.Workers.UnitPause = workers.Key("unitPause").MustDuration(config.Workers.UnitPause)
	config.Workers.Route = workers.Key("route").MustString(config.Workers.Route)
	config.Workers.StuckTimeout = workers.Key("stuckTimeout").MustDuration(config.Workers.StuckTimeout)

	return config, nil
}

// SaveToINI writes config in the layout LoadFromINI reads
func SaveToINI(config *Config, path string) error {
	file := ini.Empty()

	general := file.Section("General")
	general.Key("logLevel").SetValue(config.LogLevel)
	general.Key("logPretty").SetValue(strconv.FormatBool(config.LogPretty))
	general.Key("databasePath").SetValue(config.DatabasePath)
	general.Key("statusAddr").SetValue(config.StatusAddr)
	general.Key("accountsFile").SetValue(config.AccountsFile)
	general.Key("timingsFile").SetValue(config.TimingsFile)
	general.Key("journalDir").SetValue(config.JournalDir)

	pool := file.Section("Pool")
	pool.Key("owner").SetValue(config.Pool.Owner)
	pool.Key("allocationWindow").SetValue(config.Pool.AllocationWindow.String())
	pool.Key("pollAttempts").SetValue(strconv.Itoa(config.Pool.PollAttempts))
	pool.Key("pollInterval").SetValue(config.Pool.PollInterval.String())
	pool.Key("restDuration").SetValue(config.Pool.RestDuration.String())
	pool.Key("tempBanExpiry").SetValue(config.Pool.TempBanExpiry.String())
	pool.Key("warnExpiry").SetValue(config.Pool.WarnExpiry.String())
	pool.Key("blindExpiry").SetValue(config.Pool.BlindExpiry.String())
	pool.Key("proxies").SetValue(strings.Join(config.Pool.Proxies, ","))

	pipe := file.Section("Pipeline")
	pipe.Key("variant").SetValue(config.Pipeline.Variant)
	pipe.Key("slowSpeed").SetValue(strconv.FormatFloat(config.Pipeline.SlowSpeed, 'f', -1, 64))
	pipe.Key("fastSpeed").SetValue(strconv.FormatFloat(config.Pipeline.FastSpeed, 'f', -1, 64))
	pipe.Key("fastCrossover").SetValue(config.Pipeline.FastCrossover.String())
	pipe.Key("backoffSchedule").SetValue(formatDurations(config.Pipeline.BackoffSchedule))
	pipe.Key("hashingAttempts").SetValue(strconv.Itoa(config.Pipeline.HashingAttempts))
	pipe.Key("hashingBase").SetValue(config.Pipeline.HashingBase.String())
	pipe.Key("throttleSleep").SetValue(config.Pipeline.ThrottleSleep.String())
	pipe.Key("blindThreshold").SetValue(strconv.Itoa(config.Pipeline.BlindThreshold))

	bridge := file.Section("Bridge")
	bridge.Key("url").SetValue(config.Bridge.URL)
	bridge.Key("hashEndpoints").SetValue(strings.Join(config.Bridge.HashEndpoints, ","))
	bridge.Key("hashKey").SetValue(config.Bridge.HashKey)
	bridge.Key("requestTimeout").SetValue(config.Bridge.RequestTimeout.String())

	solver := file.Section("Captcha")
	solver.Key("redisAddr").SetValue(config.Captcha.RedisAddr)
	solver.Key("redisPassword").SetValue(config.Captcha.RedisPassword)
	solver.Key("redisDB").SetValue(strconv.Itoa(config.Captcha.RedisDB))
	solver.Key("timeout").SetValue(config.Captcha.Timeout.String())

	workers := file.Section("Workers")
	workers.Key("count").SetValue(strconv.Itoa(config.Workers.Count))
	workers.Key("behaviour").SetValue(config.Workers.Behaviour)
	workers.Key("allowReallocation").SetValue(strconv.FormatBool(config.Workers.AllowReallocation))
	workers.Key("troubleLimit").SetValue(strconv.Itoa(config.Workers.TroubleLimit))
	workers.Key("maxUnits").SetValue(strconv.Itoa(config.Workers.MaxUnits))
	workers.Key("unitPause").SetValue(config.Workers.UnitPause.String())
	workers.Key("route").SetValue(config.Workers.Route)
	workers.Key("stuckTimeout").SetValue(config.Workers.StuckTimeout.String())

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := file.SaveTo(path); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseDurations(value string) ([]time.Duration, error) {
	var out []time.Duration
	for _, item := range splitList(value) {
		d, err := time.ParseDuration(item)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func formatDurations(ds []time.Duration) string {
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = d.String()
	}
	return strings.Join(parts, ",")
}
