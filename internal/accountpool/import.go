package accountpool

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Seed is one account to insert into the store
type Seed struct {
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Provider  string `yaml:"provider"`
	Behaviour string `yaml:"behaviour,omitempty"`
}

// Definition is a YAML file describing an owner's accounts
type Definition struct {
	Owner    string   `yaml:"owner"`
	Proxies  []string `yaml:"proxies,omitempty"`
	Accounts []Seed   `yaml:"accounts"`
}

// ImportResult summarizes an import run
type ImportResult struct {
	Total    int
	Imported int
	Failed   int
	Errors   []string
}

// ParseCSV reads username,password[,provider] rows. A header row starting
// with "username" is skipped; provider defaults to ptc.
func ParseCSV(r io.Reader) ([]Seed, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	var seeds []Seed
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}
		line++

		if line == 1 && strings.EqualFold(strings.TrimSpace(record[0]), "username") {
			continue
		}
		if len(record) < 2 {
			return nil, fmt.Errorf("line %d: expected username,password[,provider]", line)
		}

		seed := Seed{
			Username: strings.TrimSpace(record[0]),
			Password: strings.TrimSpace(record[1]),
			Provider: "ptc",
		}
		if len(record) > 2 && strings.TrimSpace(record[2]) != "" {
			seed.Provider = strings.ToLower(strings.TrimSpace(record[2]))
		}
		if seed.Username == "" {
			return nil, fmt.Errorf("line %d: empty username", line)
		}
		seeds = append(seeds, seed)
	}

	return seeds, nil
}

// LoadDefinition reads an account definition YAML file
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file: %w", err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse definition YAML: %w", err)
	}

	if result := ValidateDefinition(&def); !result.Valid {
		return nil, fmt.Errorf("invalid definition: %s", result.FormatErrors())
	}

	return &def, nil
}

// ImportSeeds upserts seeds for owner. Individual failures are collected
// and do not stop the run.
func ImportSeeds(ctx context.Context, store Store, owner string, seeds []Seed) *ImportResult {
	result := &ImportResult{Total: len(seeds)}

	for _, seed := range seeds {
		if seed.Provider == "" {
			seed.Provider = "ptc"
		}
		if err := store.UpsertAccount(ctx, seed.Username, seed.Password, seed.Provider, owner); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", seed.Username, err))
			continue
		}
		if seed.Behaviour != "" {
			if err := store.SetBehaviour(ctx, seed.Username, seed.Behaviour); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: behaviour: %v", seed.Username, err))
			}
		}
		result.Imported++
	}

	return result
}

// ImportCSV upserts the CSV rows for the pool's owner and refreshes the pool
func (p *Pool) ImportCSV(ctx context.Context, r io.Reader) (*ImportResult, error) {
	seeds, err := ParseCSV(r)
	if err != nil {
		return nil, err
	}

	result := ImportSeeds(ctx, p.store, p.config.Owner, seeds)
	if err := p.Refresh(ctx); err != nil {
		return result, err
	}
	return result, nil
}
