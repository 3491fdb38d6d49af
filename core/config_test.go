package core

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigMissingFileFallsBackToDefault(t *testing.T) {
	cfg, _, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.MaxRetries != DefaultConfig().MaxRetries {
		t.Fatalf("MaxRetries = %d, want default %d", cfg.MaxRetries, DefaultConfig().MaxRetries)
	}
}

func TestLoadConfigParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "covm.yaml")
	contents := "trace_enabled: true\nsimulation_mode: true\nmax_retries: 7\ncooldown_seconds: 30\nmissing_key_behavior: error\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, fc, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.TraceEnabled || !cfg.SimulationMode {
		t.Fatalf("expected trace_enabled and simulation_mode true, got %+v", cfg)
	}
	if cfg.MaxRetries != 7 {
		t.Fatalf("MaxRetries = %d, want 7", cfg.MaxRetries)
	}
	if cfg.CooldownMillis != 30000 {
		t.Fatalf("CooldownMillis = %d, want 30000", cfg.CooldownMillis)
	}
	if cfg.MissingKeyBehavior != MissingKeyError {
		t.Fatalf("MissingKeyBehavior = %v, want MissingKeyError", cfg.MissingKeyBehavior)
	}
	if fc.MaxRetries != 7 {
		t.Fatalf("FileConfig.MaxRetries = %d, want 7", fc.MaxRetries)
	}
}

func TestLoadConfigEnvOverridesTrace(t *testing.T) {
	os.Setenv("COVM_TRACE", "1")
	defer os.Unsetenv("COVM_TRACE")

	cfg, _, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.TraceEnabled {
		t.Fatal("expected COVM_TRACE=1 to override trace_enabled")
	}
}
