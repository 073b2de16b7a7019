// Package config loads the editor host configuration.
// Priority: env vars > settings.json > defaults.
package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rendis/transcanvas/internal/dispatch"
	"github.com/rendis/transcanvas/internal/layout"
	"github.com/rendis/transcanvas/pkg/schema"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TRANSCANVAS_"

// Config holds the editor and execution settings.
type Config struct {
	MinZoom         float64       `json:"min_zoom"`
	MaxZoom         float64       `json:"max_zoom"`
	HopTolerance    float64       `json:"hop_tolerance"`
	RefreshSchedule string        `json:"refresh_schedule"`
	HoverDelay      string        `json:"hover_delay"`
	AutoSave        bool          `json:"auto_save"`
	LogLevel        string        `json:"log_level"`
	LogFormat       string        `json:"log_format"`
	DBPath          string        `json:"db_path"`
	PrepPoolSize    int           `json:"prep_pool_size"`
	UndoDepth       int           `json:"undo_depth"`
	Layout          layout.Params `json:"layout"`
}

// Default returns the built-in configuration. An empty DBPath keeps the
// session registry in memory.
func Default() Config {
	return Config{
		MinZoom:         0.25,
		MaxZoom:         4,
		HopTolerance:    4,
		RefreshSchedule: dispatch.DefaultRefreshSchedule,
		HoverDelay:      "60ms",
		LogLevel:        "info",
		LogFormat:       "text",
		PrepPoolSize:    2,
		UndoDepth:       100,
		Layout:          layout.DefaultParams(),
	}
}

// Dir returns the per-user configuration directory.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".transcanvas"
	}
	return filepath.Join(home, ".transcanvas")
}

// SettingsPath returns the default settings.json location.
func SettingsPath() string {
	return filepath.Join(Dir(), "settings.json")
}

// Load layers settings.json at path (ignored when missing) and environment
// overrides from getenv on top of the defaults, then validates the result.
// A nil getenv reads the process environment.
func Load(path string, getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, schema.NewErrorf(schema.ErrCodeValidation, "read %s: %s", path, err.Error()).WithCause(err)
		default:
			if err := validateDocument(data); err != nil {
				return cfg, err
			}
			if err := json.Unmarshal(data, &cfg); err != nil {
				return cfg, schema.NewErrorf(schema.ErrCodeValidation, "parse %s: %s", path, err.Error()).WithCause(err)
			}
		}
	}

	if err := applyEnv(&cfg, getenv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	float := func(name string, dst *float64) error {
		v := getenv(EnvPrefix + name)
		if v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return envError(name, v, err)
		}
		*dst = f
		return nil
	}
	integer := func(name string, dst *int) error {
		v := getenv(EnvPrefix + name)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return envError(name, v, err)
		}
		*dst = n
		return nil
	}

	str("REFRESH_SCHEDULE", &cfg.RefreshSchedule)
	str("HOVER_DELAY", &cfg.HoverDelay)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)
	str("DB_PATH", &cfg.DBPath)
	if v := getenv(EnvPrefix + "AUTO_SAVE"); v != "" {
		cfg.AutoSave = v == "true" || v == "1"
	}
	return errors.Join(
		float("MIN_ZOOM", &cfg.MinZoom),
		float("MAX_ZOOM", &cfg.MaxZoom),
		float("HOP_TOLERANCE", &cfg.HopTolerance),
		integer("PREP_POOL_SIZE", &cfg.PrepPoolSize),
		integer("UNDO_DEPTH", &cfg.UndoDepth),
	)
}

func envError(name, value string, err error) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "%s%s=%q: %s", EnvPrefix, name, value, err.Error()).WithCause(err)
}

// Validate checks the configuration against the embedded JSON Schema and
// the cross-field rules the schema cannot express.
func (c Config) Validate() error {
	if err := validateSchema(c); err != nil {
		return err
	}
	if c.MinZoom > c.MaxZoom {
		return schema.NewErrorf(schema.ErrCodeValidation, "min_zoom %.2f exceeds max_zoom %.2f", c.MinZoom, c.MaxZoom)
	}
	if _, err := dispatch.ParseSchedule(c.RefreshSchedule); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "refresh_schedule %q: %s", c.RefreshSchedule, err.Error()).WithCause(err)
	}
	return nil
}

// Hover returns the hover-delay duration.
func (c Config) Hover() time.Duration {
	d, err := time.ParseDuration(c.HoverDelay)
	if err != nil {
		return 60 * time.Millisecond
	}
	return d
}

// Diff lists the fields that differ between two configurations and which of
// them only take effect after a restart.
type Diff struct {
	Changed       []string
	RestartNeeded []string
}

// Compare returns what changed from old to c.
func (c Config) Compare(old Config) Diff {
	var d Diff
	mark := func(field string, differs, restart bool) {
		if !differs {
			return
		}
		d.Changed = append(d.Changed, field)
		if restart {
			d.RestartNeeded = append(d.RestartNeeded, field)
		}
	}
	mark("min_zoom", c.MinZoom != old.MinZoom, false)
	mark("max_zoom", c.MaxZoom != old.MaxZoom, false)
	mark("hop_tolerance", c.HopTolerance != old.HopTolerance, false)
	mark("refresh_schedule", c.RefreshSchedule != old.RefreshSchedule, true)
	mark("hover_delay", c.HoverDelay != old.HoverDelay, true)
	mark("auto_save", c.AutoSave != old.AutoSave, false)
	mark("log_level", c.LogLevel != old.LogLevel, false)
	mark("log_format", c.LogFormat != old.LogFormat, true)
	mark("db_path", c.DBPath != old.DBPath, true)
	mark("prep_pool_size", c.PrepPoolSize != old.PrepPoolSize, true)
	mark("undo_depth", c.UndoDepth != old.UndoDepth, true)
	mark("layout", c.Layout != old.Layout, false)
	return d
}
