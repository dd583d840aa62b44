package accountpool

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefinitionAndImport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	content := `owner: north
proxies:
  - http://proxy1:3128
accounts:
  - username: ash
    password: pikachu
  - username: misty
    password: starmie
    provider: google
    behaviour: catch
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write definition: %v", err)
	}

	def, err := LoadDefinition(path)
	if err != nil {
		t.Fatalf("Failed to load definition: %v", err)
	}
	if def.Owner != "north" || len(def.Accounts) != 2 || len(def.Proxies) != 1 {
		t.Fatalf("Unexpected definition: %+v", def)
	}

	store := NewMemoryStore()
	result := ImportSeeds(context.Background(), store, def.Owner, def.Accounts)
	if result.Imported != 2 {
		t.Errorf("Expected 2 imported, got %+v", result)
	}

	ash, _ := store.Snapshot("ash")
	if ash.AuthProvider != "ptc" || ash.Owner != "north" {
		t.Errorf("Unexpected ash record: %+v", ash)
	}
	misty, _ := store.Snapshot("misty")
	if misty.Behaviour != "catch" {
		t.Errorf("Expected behaviour catch, got %q", misty.Behaviour)
	}
}

func TestValidateDefinition(t *testing.T) {
	def := &Definition{
		Accounts: []Seed{
			{Username: "ash", Password: "pw"},
			{Username: "ash", Password: "pw"},
			{Username: "brock", Provider: "facebook"},
		},
	}

	result := ValidateDefinition(def)
	if result.Valid {
		t.Fatal("Expected invalid definition")
	}

	formatted := result.FormatErrors()
	for _, want := range []string{"owner is required", "duplicate username", "password is required", "invalid provider"} {
		if !strings.Contains(formatted, want) {
			t.Errorf("Expected %q in %s", want, formatted)
		}
	}
}

func TestValidatePoolConfig(t *testing.T) {
	if result := ValidatePoolConfig(DefaultPoolConfig()); !result.Valid {
		t.Errorf("Expected defaults to be valid: %s", result.FormatErrors())
	}

	cfg := DefaultPoolConfig()
	cfg.Owner = ""
	cfg.PollAttempts = 0
	cfg.Proxies = []string{""}
	result := ValidatePoolConfig(cfg)
	if result.Valid {
		t.Fatal("Expected invalid config")
	}
	if len(result.Errors) != 3 {
		t.Errorf("Expected 3 errors, got %d: %s", len(result.Errors), result.FormatErrors())
	}
}
