package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rendis/transcanvas/internal/config"
)

// runInit writes settings.json from flags, starting from the current
// configuration so unset flags keep their values.
func runInit(args []string) {
	cfg, err := config.Load(config.SettingsPath(), func(string) string { return "" })
	if err != nil {
		cfg = config.Default()
	}

	fs := flag.NewFlagSet("init", flag.ExitOnError)
	dbPath := fs.String("db-path", "", "session registry database (default: ~/.transcanvas/sessions.db)")
	memory := fs.Bool("memory", false, "keep the session registry in memory")
	logLevel := fs.String("log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	logFormat := fs.String("log-format", cfg.LogFormat, "log format: text, json")
	poolSize := fs.Int("pool-size", cfg.PrepPoolSize, "background preparation pool size")
	refresh := fs.String("refresh", cfg.RefreshSchedule, "status refresh schedule, e.g. @every 500ms")
	autoSave := fs.Bool("auto-save", cfg.AutoSave, "save modified diagrams before a run without asking")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	dir := config.Dir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot create %s: %v\n", dir, err)
		os.Exit(1)
	}

	cfg.LogLevel = *logLevel
	cfg.LogFormat = *logFormat
	cfg.PrepPoolSize = *poolSize
	cfg.RefreshSchedule = *refresh
	cfg.AutoSave = *autoSave
	switch {
	case *memory:
		cfg.DBPath = ""
	case *dbPath != "":
		cfg.DBPath = *dbPath
	case cfg.DBPath == "":
		cfg.DBPath = filepath.Join(dir, "sessions.db")
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	path := config.SettingsPath()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot write %s: %v\n", path, err)
		os.Exit(1)
	}
	fmt.Printf("Config written to %s\n", path)
}
