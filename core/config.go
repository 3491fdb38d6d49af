package core

import (
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk shape of a covm config file: a thin YAML
// rendering of Config plus the storage/namespace bootstrap settings a
// `covm run` invocation needs, grounded on the teacher's cmd/synnergy
// convention of loading a YAML config before building the root command.
type FileConfig struct {
	Trace              bool   `yaml:"trace_enabled"`
	Explain            bool   `yaml:"explain_enabled"`
	Simulation         bool   `yaml:"simulation_mode"`
	VerboseStorage     bool   `yaml:"verbose_storage_trace"`
	MissingKeyBehavior string `yaml:"missing_key_behavior"`
	MaxRetries         int    `yaml:"max_retries"`
	CooldownSeconds    int    `yaml:"cooldown_seconds"`
	Namespace          string `yaml:"namespace"`
	StorageDataDir     string `yaml:"storage_data_dir"`
}

// LoadConfig reads a YAML config file, applying .env overrides the way the
// teacher's cmd/synnergy/main.go bootstraps via godotenv before cobra's
// root command runs. A missing file is not an error: an empty path uses
// FileConfig's defaults, and a path naming a file that does not exist falls
// back to DefaultConfig; either covers a standalone `covm run`.
func LoadConfig(path string) (Config, FileConfig, error) {
	_ = godotenv.Load() // best-effort; a missing .env is normal outside dev

	fc := FileConfig{MissingKeyBehavior: "default", MaxRetries: MaxRetries, CooldownSeconds: 60}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return applyEnvOverrides(DefaultConfig(), fc), fc, nil
			}
			return Config{}, fc, wrapErr(ErrKindConfiguration, "LoadConfig", "failed to read config file", err)
		}
		if err := yaml.Unmarshal(raw, &fc); err != nil {
			return Config{}, fc, wrapErr(ErrKindConfiguration, "LoadConfig", "failed to parse config YAML", err)
		}
	}

	cfg := Config{
		TraceEnabled:        fc.Trace,
		ExplainEnabled:      fc.Explain,
		SimulationMode:      fc.Simulation,
		VerboseStorageTrace: fc.VerboseStorage,
		MissingKeyBehavior:  parseMissingKeyBehavior(fc.MissingKeyBehavior),
		MaxRetries:          fc.MaxRetries,
		CooldownMillis:      int64(fc.CooldownSeconds) * 1000,
	}
	return applyEnvOverrides(cfg, fc), fc, nil
}

func parseMissingKeyBehavior(s string) MissingKeyBehavior {
	if s == "error" {
		return MissingKeyError
	}
	return MissingKeyDefault
}

// applyEnvOverrides lets COVM_TRACE / COVM_EXPLAIN / COVM_SIMULATION
// environment variables flip the corresponding flag regardless of what the
// YAML file says, matching the teacher's env-overrides-file precedence.
func applyEnvOverrides(cfg Config, fc FileConfig) Config {
	if v := os.Getenv("COVM_TRACE"); v == "1" || v == "true" {
		cfg.TraceEnabled = true
	}
	if v := os.Getenv("COVM_EXPLAIN"); v == "1" || v == "true" {
		cfg.ExplainEnabled = true
	}
	if v := os.Getenv("COVM_SIMULATION"); v == "1" || v == "true" {
		cfg.SimulationMode = true
	}
	return cfg
}
