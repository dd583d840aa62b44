package apitiming

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"jordanella.com/pogo-fleet/internal/gameapi"
	"jordanella.com/pogo-fleet/internal/logging"
)

// MinGMOInterval is the minimum gap between two consecutive map scans
const MinGMOInterval = 10 * time.Second

type pair struct {
	from gameapi.Action
	to   gameapi.Action
}

// defaultDelays holds the minimum milliseconds between two actions. Entries
// are directional.
var defaultDelays = map[gameapi.Action]map[gameapi.Action]int{
	gameapi.ActionLogin: {
		gameapi.ActionGetPlayer:        1000,
		gameapi.ActionDownloadSettings: 500,
		gameapi.ActionGetMapObjects:    2000,
		gameapi.ActionGetInventory:     500,
		gameapi.ActionCheckChallenge:   300,
		gameapi.ActionLevelUpRewards:   1000,
		gameapi.ActionClaimCodename:    5000,
		gameapi.ActionSetPlayerTeam:    5000,
	},
	gameapi.ActionGetMapObjects: {
		gameapi.ActionGetMapObjects:   int(MinGMOInterval / time.Millisecond),
		gameapi.ActionEncounter:       20,
		gameapi.ActionDiskEncounter:   20,
		gameapi.ActionFortDetails:     500,
		gameapi.ActionFortSearch:      1200,
		gameapi.ActionAddFortModifier: 1500,
		gameapi.ActionCatchPokemon:    2000,
	},
	gameapi.ActionEncounter: {
		gameapi.ActionCatchPokemon:  2500,
		gameapi.ActionEncounter:     1500,
		gameapi.ActionGetMapObjects: 2000,
		gameapi.ActionFortSearch:    1500,
	},
	gameapi.ActionDiskEncounter: {
		gameapi.ActionCatchPokemon:  2500,
		gameapi.ActionGetMapObjects: 2000,
	},
	gameapi.ActionCatchPokemon: {
		gameapi.ActionCatchPokemon:   3000,
		gameapi.ActionEncounter:      5000,
		gameapi.ActionGetMapObjects:  5000,
		gameapi.ActionReleasePokemon: 2000,
		gameapi.ActionEvolvePokemon:  3000,
		gameapi.ActionFortSearch:     4000,
	},
	gameapi.ActionFortDetails: {
		gameapi.ActionFortSearch:      1000,
		gameapi.ActionAddFortModifier: 1000,
		gameapi.ActionGetMapObjects:   1000,
	},
	gameapi.ActionFortSearch: {
		gameapi.ActionFortSearch:      2000,
		gameapi.ActionGetMapObjects:   2500,
		gameapi.ActionEncounter:       2000,
		gameapi.ActionRecycleItem:     1000,
		gameapi.ActionAddFortModifier: 1500,
	},
	gameapi.ActionReleasePokemon: {
		gameapi.ActionReleasePokemon: 1500,
		gameapi.ActionGetMapObjects:  1000,
	},
	gameapi.ActionEvolvePokemon: {
		gameapi.ActionEvolvePokemon: 25000,
		gameapi.ActionGetMapObjects: 20000,
	},
	gameapi.ActionRecycleItem: {
		gameapi.ActionRecycleItem:   1000,
		gameapi.ActionGetMapObjects: 1000,
	},
	gameapi.ActionUseXPBoost: {
		gameapi.ActionGetMapObjects: 1000,
	},
	gameapi.ActionUseEggIncubator: {
		gameapi.ActionUseEggIncubator: 1000,
		gameapi.ActionGetMapObjects:   1000,
	},
	gameapi.ActionAddFortModifier: {
		gameapi.ActionGetMapObjects: 2000,
	},
	gameapi.ActionVerifyChallenge: {
		gameapi.ActionGetMapObjects: 2000,
	},
	gameapi.ActionLevelUpRewards: {
		gameapi.ActionGetMapObjects: 1000,
	},
}

// Table is the Timing Policy Table: a read-only lookup of minimum delays
// between two actions. Overrides may be merged at construction time.
type Table struct {
	mu      sync.RWMutex
	delays  map[pair]time.Duration
	logger  *logging.Logger
	missing map[pair]bool
}

// NewTable creates a table with the built-in delays
func NewTable() *Table {
	t := &Table{
		delays:  make(map[pair]time.Duration),
		logger:  logging.NewLogger("ApiTiming"),
		missing: make(map[pair]bool),
	}
	for from, row := range defaultDelays {
		for to, ms := range row {
			t.delays[pair{from, to}] = time.Duration(ms) * time.Millisecond
		}
	}
	return t
}

// Set records a minimum delay for one direction
func (t *Table) Set(from, to gameapi.Action, d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("negative delay %v for %s -> %s", d, from, to)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.delays[pair{from, to}] = d
	return nil
}

// Lookup returns the minimum delay between from and to. ok is false when no
// relationship is recorded, in which case the delay is zero.
func (t *Table) Lookup(from, to gameapi.Action) (time.Duration, bool) {
	t.mu.RLock()
	d, ok := t.delays[pair{from, to}]
	t.mu.RUnlock()
	if ok {
		return d, true
	}

	t.mu.Lock()
	first := !t.missing[pair{from, to}]
	t.missing[pair{from, to}] = true
	t.mu.Unlock()

	if first {
		t.logger.DebugWithContext("No timing entry, using zero delay", map[string]interface{}{
			"from": string(from),
			"to":   string(to),
		})
	}
	return 0, false
}

// MinDelay returns the minimum delay, zero when undefined
func (t *Table) MinDelay(from, to gameapi.Action) time.Duration {
	d, _ := t.Lookup(from, to)
	return d
}

// Len returns the number of recorded pairs
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.delays)
}

// overrideFile is a YAML map of from -> to -> milliseconds
type overrideFile map[string]map[string]int

// LoadOverrides merges a YAML file of the form
//
//	get_map_objects:
//	  encounter: 50
//
// into the table
func (t *Table) LoadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read timing overrides: %w", err)
	}

	var file overrideFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse timing overrides: %w", err)
	}

	for from, row := range file {
		for to, ms := range row {
			if err := t.Set(gameapi.Action(from), gameapi.Action(to), time.Duration(ms)*time.Millisecond); err != nil {
				return fmt.Errorf("invalid timing override: %w", err)
			}
		}
	}

	t.logger.InfoWithContext("Loaded timing overrides", map[string]interface{}{"path": path})
	return nil
}
