package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/quantumfs/quantumfs/internal/config"
)

// defaultSettingsPath returns ~/.qfs/settings, the settings file
// loaded when --config is not given.
func defaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".qfs", "settings")
}

// loadConfiguration builds a Configuration from compiled-in defaults,
// then a settings file, then QFS_-prefixed environment variables, per
// spec.md §6's precedence order, and finally the persistent --log-level
// flag. Each subcommand applies its own flag overrides afterward, since
// only it knows which of its own flags were actually set.
func loadConfiguration(cmd *cobra.Command) (*config.Configuration, error) {
	cfg := config.NewDefault()

	path, _ := cmd.Flags().GetString("config")
	explicit := path != ""
	if !explicit {
		path = defaultSettingsPath()
	}
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("load settings file: %w", err)
			}
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("load environment overrides: %w", err)
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Global.LogLevel = level
	}

	return cfg, nil
}

// newLogger builds the process-wide structured logger from level,
// defaulting to INFO on an unrecognized value rather than failing the
// mount over a typo'd setting.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
