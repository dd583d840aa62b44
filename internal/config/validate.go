package config

import (
	"fmt"
	"net/url"
	"strings"

	"jordanella.com/pogo-fleet/internal/accountpool"
	"jordanella.com/pogo-fleet/internal/pipeline"
)

// Validate checks that the settings can run a fleet
func (c *Config) Validate() error {
	result := accountpool.ValidatePoolConfig(c.ToPoolConfig())

	if _, err := pipeline.ParseVariant(c.Pipeline.Variant); err != nil {
		result.AddError("Pipeline.Variant", err.Error())
	}
	if c.Pipeline.SlowSpeed <= 0 || c.Pipeline.FastSpeed <= 0 {
		result.AddError("Pipeline.Speed", "travel speeds must be positive")
	}
	if c.Pipeline.FastSpeed < c.Pipeline.SlowSpeed {
		result.AddError("Pipeline.FastSpeed", "fast speed cannot be below slow speed")
	}
	if len(c.Pipeline.BackoffSchedule) == 0 {
		result.AddError("Pipeline.BackoffSchedule", "at least one backoff step is required")
	}
	for i, d := range c.Pipeline.BackoffSchedule {
		if d <= 0 {
			result.AddError(fmt.Sprintf("Pipeline.BackoffSchedule[%d]", i), "backoff steps must be positive")
		}
	}
	if c.Pipeline.HashingAttempts < 1 {
		result.AddError("Pipeline.HashingAttempts", "at least one hashing attempt is required")
	}
	if c.Pipeline.BlindThreshold < 1 {
		result.AddError("Pipeline.BlindThreshold", "blind threshold must be positive")
	}

	if c.Bridge.URL != "" {
		if u, err := url.Parse(c.Bridge.URL); err != nil || u.Scheme == "" || u.Host == "" {
			result.AddError("Bridge.URL", fmt.Sprintf("invalid URL '%s'", c.Bridge.URL))
		}
	}

	if c.Workers.Count < 0 {
		result.AddError("Workers.Count", "worker count cannot be negative")
	}
	if c.Workers.TroubleLimit < 1 {
		result.AddError("Workers.TroubleLimit", "trouble limit must be positive")
	}
	if c.Workers.StuckTimeout <= 0 {
		result.AddError("Workers.StuckTimeout", "stuck timeout must be positive")
	}
	if _, err := c.ToRoute(); err != nil {
		result.AddError("Workers.Route", err.Error())
	}
	if c.Workers.Count > 0 && c.Bridge.URL == "" {
		result.AddError("Bridge.URL", "a bridge URL is required to run workers")
	}

	if c.Captcha.RedisAddr != "" && c.Captcha.Timeout <= 0 {
		result.AddError("Captcha.Timeout", "captcha timeout must be positive")
	}

	if !result.Valid {
		return fmt.Errorf("invalid configuration: %s", strings.TrimSpace(result.FormatErrors()))
	}
	return nil
}
