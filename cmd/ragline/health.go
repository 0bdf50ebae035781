// ABOUTME: Health subcommand probing every backend subsystem.
// ABOUTME: Exits non-zero when any probe fails.

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newHealthCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check backend health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(opts)
			if err != nil {
				return err
			}

			status := client.GetStatus(cmd.Context())
			printProbe("api", status.API)
			printProbe("chat", status.Chat)
			printProbe("session", status.Session)

			if !status.Healthy() {
				return fmt.Errorf("backend is degraded")
			}
			return nil
		},
	}
}

func printProbe(name string, ok bool) {
	if ok {
		color.Green("  %-8s ok", name)
	} else {
		color.Red("  %-8s failed", name)
	}
}
