// ABOUTME: Session management subcommands: list, show, delete.
// ABOUTME: Thin wrappers over the request/response API client.

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/raglinehq/ragline/internal/api"
)

func newSessionsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Browse and manage conversation sessions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(opts)
			if err != nil {
				return err
			}
			sessions, err := client.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("no sessions")
				return nil
			}
			for _, s := range sessions {
				title := s.Title
				if title == "" {
					title = "(untitled)"
				}
				fmt.Printf("%s  %-30s  %3d messages  %s\n",
					s.ID, title, s.MessageCount, s.UpdatedAt.Format(time.RFC3339))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session's summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(opts)
			if err != nil {
				return err
			}
			s, err := client.GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("id:        %s\n", s.ID)
			if s.Title != "" {
				fmt.Printf("title:     %s\n", s.Title)
			}
			fmt.Printf("messages:  %d\n", s.MessageCount)
			fmt.Printf("updated:   %s\n", s.UpdatedAt.Format(time.RFC3339))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(opts)
			if err != nil {
				return err
			}
			if err := client.DeleteSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	})

	return cmd
}

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <session-id>",
		Short: "Print a session's message history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(opts)
			if err != nil {
				return err
			}
			msgs, err := client.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, msg := range msgs {
				fmt.Printf("[%s] %s: %s\n",
					msg.Timestamp.Format("15:04:05"), msg.Role, msg.Content)
			}
			return nil
		},
	}
}

func newAPIClient(opts *rootOptions) (*api.Client, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	return api.New(cfg.Server.URL, cfg.API.RequestTimeout, setupLogger(cfg)), nil
}
