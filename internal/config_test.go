package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	pkgconfig "github.com/starford/ansuz/pkg/config"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestHTTPConfig_PortBounds(t *testing.T) {
	for _, port := range []int{0, -1, 70000} {
		cfg := HTTPConfig{Port: port}
		if err := cfg.Validate(); err == nil {
			t.Errorf("port %d should fail validation", port)
		}
	}
	cfg := HTTPConfig{Port: 8480}
	if err := cfg.Validate(); err != nil {
		t.Errorf("port 8480 should pass: %v", err)
	}
	if cfg.Address() != ":8480" {
		t.Errorf("address = %q", cfg.Address())
	}
}

func TestQueryConfig_Bounds(t *testing.T) {
	cases := []struct {
		name string
		cfg  QueryConfig
		ok   bool
	}{
		{"defaults", QueryConfig{TopK: 5, MinSimilarity: 0.7}, true},
		{"top_k zero", QueryConfig{TopK: 0, MinSimilarity: 0.7}, false},
		{"top_k too large", QueryConfig{TopK: 11, MinSimilarity: 0.7}, false},
		{"similarity negative", QueryConfig{TopK: 5, MinSimilarity: -0.1}, false},
		{"similarity above one", QueryConfig{TopK: 5, MinSimilarity: 1.1}, false},
		{"similarity zero", QueryConfig{TopK: 5, MinSimilarity: 0}, true},
		{"similarity one", QueryConfig{TopK: 5, MinSimilarity: 1}, true},
	}
	for _, tc := range cases {
		err := tc.cfg.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected validation failure", tc.name)
		}
	}
}

func TestSyncConfig_RequiresLedgerPath(t *testing.T) {
	cfg := SyncConfig{DebounceMS: 500}
	if err := cfg.Validate(); err == nil {
		t.Error("empty ledger path should fail")
	}
	cfg.LedgerPath = "./ansuz.db"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	cfg.DebounceMS = -1
	if err := cfg.Validate(); err == nil {
		t.Error("negative debounce should fail")
	}
}

func TestServerConfig_RequiresURL(t *testing.T) {
	cfg := ServerConfig{TimeoutSeconds: 60}
	if err := cfg.Validate(); err == nil {
		t.Error("empty URL should fail")
	}
	cfg.URL = "http://127.0.0.1:8742"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestSettingsStore_Update(t *testing.T) {
	cfg := NewDefaultConfig()
	store := NewSettingsStore(cfg, "")

	err := store.Update(func(c *Config) {
		c.Query.TopK = 8
		c.Sync.Auto = false
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := store.QueryConfig().TopK; got != 8 {
		t.Errorf("top_k = %d, want 8", got)
	}
	if store.SyncConfig().Auto {
		t.Error("sync auto should be off")
	}
}

func TestSettingsStore_RejectsInvalidUpdate(t *testing.T) {
	cfg := NewDefaultConfig()
	store := NewSettingsStore(cfg, "")

	err := store.Update(func(c *Config) {
		c.Query.TopK = 99
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	// The previous config is kept.
	if got := store.QueryConfig().TopK; got != 5 {
		t.Errorf("top_k = %d, want unchanged 5", got)
	}
}

func TestSettingsStore_PersistsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := NewDefaultConfig()
	store := NewSettingsStore(cfg, path)

	if err := store.Update(func(c *Config) { c.Query.TopK = 3 }); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	var loaded Config
	if err := pkgconfig.Load(path, &loaded); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Query.TopK != 3 {
		t.Errorf("persisted top_k = %d, want 3", loaded.Query.TopK)
	}
}
