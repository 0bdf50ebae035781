// ABOUTME: Root cobra command, config resolution, and logger setup.
// ABOUTME: Persistent flags shared by every subcommand.

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/raglinehq/ragline/internal/config"
)

// rootOptions holds persistent flags shared by all subcommands.
type rootOptions struct {
	ConfigPath string
	ServerURL  string
	Verbose    bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "ragline",
		Short:         "Terminal client for a ragline assistant backend",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.ServerURL, "server", "", "backend URL (overrides config)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(newChatCommand(opts))
	cmd.AddCommand(newSessionsCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))
	cmd.AddCommand(newHealthCommand(opts))
	cmd.AddCommand(newInitCommand(opts))

	return cmd
}

// loadConfig resolves the effective configuration: explicit file, default
// file if present, otherwise built-in defaults, with flag overrides applied.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	path := o.ConfigPath
	if path == "" {
		path = config.DefaultPath()
		if _, err := os.Stat(path); err != nil {
			cfg := config.Default()
			o.applyOverrides(cfg)
			return cfg, nil
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	o.applyOverrides(cfg)
	return cfg, nil
}

func (o *rootOptions) applyOverrides(cfg *config.Config) {
	if o.ServerURL != "" {
		cfg.Server.URL = o.ServerURL
	}
	if o.Verbose {
		cfg.Logging.Level = "debug"
	}
}

// setupLogger builds the process logger from config.
func setupLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
