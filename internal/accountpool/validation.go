package accountpool

import (
	"fmt"
)

// ValidationResult contains the results of a validation check
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

// ValidationError represents a single validation error
type ValidationError struct {
	Field   string
	Message string
}

// AddError adds a validation error
func (vr *ValidationResult) AddError(field, message string) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, ValidationError{
		Field:   field,
		Message: message,
	})
}

// FormatErrors returns a formatted string of all validation errors
func (vr *ValidationResult) FormatErrors() string {
	if vr.Valid {
		return ""
	}

	result := "Validation failed:\n"
	for _, err := range vr.Errors {
		result += fmt.Sprintf("  - %s: %s\n", err.Field, err.Message)
	}
	return result
}

// ValidatePoolConfig checks that the pool can make progress with config
func ValidatePoolConfig(config PoolConfig) *ValidationResult {
	result := &ValidationResult{Valid: true}

	if config.Owner == "" {
		result.AddError("Owner", "owner is required")
	}
	if config.PollAttempts < 1 {
		result.AddError("PollAttempts", "at least one poll attempt is required")
	}
	if config.PollInterval <= 0 {
		result.AddError("PollInterval", "poll interval must be positive")
	}
	if config.AllocationWindow < 0 {
		result.AddError("AllocationWindow", "allocation window cannot be negative")
	}
	if config.RestDuration < 0 {
		result.AddError("RestDuration", "rest duration cannot be negative")
	}
	if config.TempBanExpiry < 0 || config.WarnExpiry < 0 || config.BlindExpiry < 0 {
		result.AddError("Expiry", "expiry durations cannot be negative")
	}
	for i, proxy := range config.Proxies {
		if proxy == "" {
			result.AddError(fmt.Sprintf("Proxies[%d]", i), "proxy URL is empty")
		}
	}

	return result
}

// validProviders lists the auth providers the game accepts
var validProviders = map[string]bool{
	"ptc":    true,
	"google": true,
}

// ValidateDefinition validates an account definition file
func ValidateDefinition(def *Definition) *ValidationResult {
	result := &ValidationResult{Valid: true}

	if def.Owner == "" {
		result.AddError("Owner", "owner is required")
	}
	if len(def.Accounts) == 0 {
		result.AddError("Accounts", "at least one account must be defined")
	}

	seen := make(map[string]bool)
	for i, seed := range def.Accounts {
		if seed.Username == "" {
			result.AddError(fmt.Sprintf("Accounts[%d].Username", i), "username is required")
			continue
		}
		if seen[seed.Username] {
			result.AddError(fmt.Sprintf("Accounts[%d].Username", i),
				fmt.Sprintf("duplicate username '%s'", seed.Username))
		}
		seen[seed.Username] = true

		if seed.Password == "" {
			result.AddError(fmt.Sprintf("Accounts[%d].Password", i), "password is required")
		}
		if seed.Provider != "" && !validProviders[seed.Provider] {
			result.AddError(fmt.Sprintf("Accounts[%d].Provider", i),
				fmt.Sprintf("invalid provider '%s'", seed.Provider))
		}
	}

	return result
}
