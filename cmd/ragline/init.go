// ABOUTME: Init subcommand that writes a starter config file.
// ABOUTME: Creates the XDG config directory if needed; refuses to overwrite.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/raglinehq/ragline/internal/config"
)

const configTemplate = `[server]
url = "http://localhost:5000"

[push]
transports = ["websocket", "polling"]
connect_timeout = "20s"
max_reconnect_attempts = 5
backoff_base = "1s"
backoff_cap = "5s"

[api]
request_timeout = "30s"

[logging]
level = "info"
`

func newInitCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.ConfigPath
			if path == "" {
				path = config.DefaultPath()
			}

			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config already exists at %s", path)
			}

			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("creating config directory: %w", err)
			}
			if err := os.WriteFile(path, []byte(configTemplate), 0o644); err != nil {
				return fmt.Errorf("writing config: %w", err)
			}

			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
}
