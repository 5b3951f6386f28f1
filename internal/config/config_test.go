package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load with no file failed: %v", err)
	}
	if cfg.Fill.LocateAttempts != 3 {
		t.Errorf("Expected default locate_attempts 3, got %d", cfg.Fill.LocateAttempts)
	}
	if cfg.Return.ActiveYear < cfg.Return.MinYear || cfg.Return.ActiveYear > cfg.Return.MaxYear {
		t.Errorf("Default active year %d outside range", cfg.Return.ActiveYear)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
return:
  active_year: 2023
  min_year: 2022
  max_year: 2023
fill:
  locate_attempts: 5
  backoff_min_ms: 100
  backoff_max_ms: 2000
server:
  addr: ":9090"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Return.ActiveYear != 2023 {
		t.Errorf("Expected active year 2023, got %d", cfg.Return.ActiveYear)
	}
	if cfg.Fill.LocateAttempts != 5 {
		t.Errorf("Expected locate_attempts 5, got %d", cfg.Fill.LocateAttempts)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("Expected addr :9090, got %s", cfg.Server.Addr)
	}
	// Untouched sections keep defaults
	if cfg.Browser.LoginURL == "" {
		t.Error("Browser login URL default should survive partial config")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("UFILE_USERNAME", "alice")
	t.Setenv("TAXPILOT_JWT_SECRET", "s3cret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Browser.Username != "alice" {
		t.Errorf("Expected env username override, got %q", cfg.Browser.Username)
	}
	if cfg.Server.JWTSecret != "s3cret" {
		t.Errorf("Expected env jwt secret override, got %q", cfg.Server.JWTSecret)
	}
}

func TestValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
return:
  active_year: 2030
  min_year: 2022
  max_year: 2024
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Expected validation error for out-of-range active year")
	}
}
