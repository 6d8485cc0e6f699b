// Package config loads the engine's configuration, mirroring the teacher's
// internal/common/config.go: a TOML-tagged struct populated in a fixed
// priority order — defaults, then config files (later overrides earlier),
// then environment variables, then explicit CLI overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// StoreConfig selects and configures the persistent store backend (C1).
type StoreConfig struct {
	Backend  string `toml:"backend"` // "badger" (default) or "sqlite"
	Path     string `toml:"path"`
	Compress bool   `toml:"compress"` // zstd-compress UserObject blobs (spec section 6)
}

// LoggingConfig mirrors the teacher's LoggingConfig for the subset this
// engine actually renders through (console/file/memory writers).
type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // default "15:04:05.000"
	FilePath   string   `toml:"file_path"`   // default "./logs/compute.log"
}

// SchedulerConfig holds the configured dispatch mode and concurrency (C7).
// It is loaded but not read by internal/shell's make, which takes the mode
// and worker count from its own --new-process and --n options.
type SchedulerConfig struct {
	Mode    string `toml:"mode"` // "sequential" (default), "parallel", "new_process"
	Workers int    `toml:"workers"`
}

// Config is the full set of options recognised by the engine, combining
// spec.md section 6's interactive/check-params switches with the ambient
// additions (store, logging, scheduler) the distilled spec omits.
type Config struct {
	// Interactive is the interactive-shell switch (spec section 6). It is
	// loaded but nothing in this module reads it; there is no REPL surface.
	Interactive bool `toml:"interactive"`
	// ConsoleStatus is the live-progress switch for make. It is loaded but
	// nothing in this module reads it; make prints no live progress summary.
	ConsoleStatus bool `toml:"console_status"`
	// CheckParams rejects a redefinition whose Args/Kwargs differ from the
	// existing job's instead of silently accepting the new definition.
	CheckParams bool `toml:"check_params"`
	// DebugCheckInvariants runs internal/graph's invariant checks once at the
	// end of each make; they are not run after clean, invalidate or
	// individual commits. Expensive, off by default.
	DebugCheckInvariants bool `toml:"debug_check_invariants"`
	// Recurse is the configured default for make's recurse=1 option (spec
	// section 6). It is loaded but not read: make takes recurse only from
	// its own --recurse flag.
	Recurse bool `toml:"recurse"`

	Store     StoreConfig     `toml:"store"`
	Logging   LoggingConfig   `toml:"logging"`
	Scheduler SchedulerConfig `toml:"scheduler"`
}

// Default returns the engine's built-in defaults, before any file, env, or
// CLI override is applied.
func Default() *Config {
	return &Config{
		Interactive:          false,
		ConsoleStatus:        true,
		CheckParams:          false,
		DebugCheckInvariants: false,
		Recurse:              true,
		Store: StoreConfig{
			Backend:  "badger",
			Path:     "./data",
			Compress: false,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05.000",
			FilePath:   "./logs/compute.log",
		},
		Scheduler: SchedulerConfig{
			Mode:    "sequential",
			Workers: 4,
		},
	}
}

// Load builds a Config by layering defaults, then each file in paths (later
// files override earlier ones), then environment variables, then the given
// CLI overrides. This is the fixed priority order from SPEC_FULL.md section
// 4.2 — callers never need to call the intermediate steps individually.
func Load(paths []string, overrides Overrides) (*Config, error) {
	cfg := Default()

	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(cfg)
	overrides.apply(cfg)

	return cfg, nil
}

// Overrides carries command-line flag values with highest priority; zero
// values mean "not set on the command line" and are left alone.
type Overrides struct {
	StoreBackend string
	StorePath    string
	LogLevel     string
	Mode         string
	Workers      int
	Interactive  *bool
	Recurse      *bool
}

func (o Overrides) apply(cfg *Config) {
	if o.StoreBackend != "" {
		cfg.Store.Backend = o.StoreBackend
	}
	if o.StorePath != "" {
		cfg.Store.Path = o.StorePath
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if o.Mode != "" {
		cfg.Scheduler.Mode = o.Mode
	}
	if o.Workers > 0 {
		cfg.Scheduler.Workers = o.Workers
	}
	if o.Interactive != nil {
		cfg.Interactive = *o.Interactive
	}
	if o.Recurse != nil {
		cfg.Recurse = *o.Recurse
	}
}

// applyEnvOverrides applies COMPUTE_* environment variables, which rank
// above config files but below explicit CLI flags.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COMPUTE_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("COMPUTE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("COMPUTE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("COMPUTE_LOG_OUTPUT"); v != "" {
		var outputs []string
		for _, o := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			cfg.Logging.Output = outputs
		}
	}
	if v := os.Getenv("COMPUTE_SCHEDULER_MODE"); v != "" {
		cfg.Scheduler.Mode = v
	}
	if v := os.Getenv("COMPUTE_SCHEDULER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.Workers = n
		}
	}
	if v := os.Getenv("COMPUTE_CHECK_PARAMS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.CheckParams = b
		}
	}
	if v := os.Getenv("COMPUTE_RECURSE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Recurse = b
		}
	}
}
