// ABOUTME: Interactive chat command; wires engine, connection, and REPL together.
// ABOUTME: Presentation only — all sync behavior lives in the internal packages.

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/raglinehq/ragline/internal/api"
	"github.com/raglinehq/ragline/internal/channel"
	"github.com/raglinehq/ragline/internal/chat"
	"github.com/raglinehq/ragline/internal/config"
	"github.com/raglinehq/ragline/internal/conn"
	"github.com/raglinehq/ragline/internal/engine"
	"github.com/raglinehq/ragline/internal/transport"
)

var (
	userColor      = color.New(color.FgCyan, color.Bold)
	assistantColor = color.New(color.FgGreen, color.Bold)
	statusColor    = color.New(color.FgYellow)
	errorColor     = color.New(color.FgRed)
)

func newChatCommand(opts *rootOptions) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Long: `Start an interactive conversation with the assistant backend.

Messages you type are echoed immediately and confirmed against the server;
assistant replies stream in over the push channel. Commands inside the REPL:

  /sources   show citations for the latest assistant reply
  /clear     wipe the session history
  /quit      exit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(opts, sessionID)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "resume an existing session id")

	return cmd
}

// buildTransport assembles the configured transport preference chain.
func buildTransport(cfg *config.Config, logger *slog.Logger) transport.Transport {
	var chain []transport.Transport
	for _, name := range cfg.Push.Transports {
		switch name {
		case "websocket":
			chain = append(chain, transport.WebSocket{})
		case "polling":
			chain = append(chain, transport.Polling{})
		}
	}
	return transport.NewFallback(logger, chain...)
}

func runChat(opts *rootOptions, sessionID string) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := api.New(cfg.Server.URL, cfg.API.RequestTimeout, logger)

	mgr := conn.New(buildTransport(cfg, logger), conn.Options{
		Endpoint:       cfg.Server.URL,
		ConnectTimeout: cfg.Push.ConnectTimeout,
		MaxAttempts:    cfg.Push.MaxReconnectAttempts,
		BackoffBase:    cfg.Push.BackoffBase,
		BackoffCap:     cfg.Push.BackoffCap,
		Logger:         logger,
	})
	defer mgr.Close()

	ch := channel.New(mgr, logger)
	orch := engine.New(client, ch, logger)
	ch.SetHandlers(orch.OnMessageArrived, orch.OnCleared)
	ch.Start(ctx)

	printer := newPrinter()
	orch.OnChange(printer.update)

	go watchConnection(ctx, mgr)

	mgr.Connect()

	if err := orch.StartSession(ctx, sessionID); err != nil {
		return err
	}
	statusColor.Printf("session %s — type a message, /quit to exit\n", orch.SessionID())
	printer.replay(orch.Messages())

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue
		case line == "/quit":
			orch.Stop()
			return nil
		case line == "/clear":
			if err := orch.ClearHistory(ctx); err != nil {
				errorColor.Printf("clear failed: %v\n", err)
				continue
			}
			printer.reset()
			statusColor.Println("history cleared")
		case line == "/sources":
			printSources(orch)
		default:
			if err := orch.Send(ctx, line); err != nil {
				errorColor.Printf("%v\n", err)
			}
		}
	}
	orch.Stop()
	return scanner.Err()
}

// watchConnection surfaces connection state changes on the terminal.
func watchConnection(ctx context.Context, mgr *conn.Manager) {
	events, _ := mgr.Subscribe(ctx)
	for ev := range events {
		switch ev := ev.(type) {
		case conn.Connected:
			statusColor.Println("[connected]")
		case conn.Disconnected:
			statusColor.Printf("[disconnected: %s]\n", ev.Reason)
		case conn.Reconnecting:
			statusColor.Printf("[reconnecting, attempt %d]\n", ev.Attempt+1)
		case conn.Failed:
			errorColor.Printf("[connection failed: %v — restart to retry]\n", ev.Err)
		}
	}
}

func printSources(orch *engine.Orchestrator) {
	sources, open := orch.Sources()
	if !open {
		statusColor.Println("no sources for this conversation yet")
		return
	}
	for i, s := range sources {
		fmt.Printf("%2d. %s\n    %s\n", i+1, s.Title, s.URL)
	}
}

// printer renders newly arrived messages from snapshot notifications without
// reprinting what the user already saw.
type printer struct {
	mu      sync.Mutex
	printed map[string]struct{}
}

func newPrinter() *printer {
	return &printer{printed: make(map[string]struct{})}
}

func (p *printer) reset() {
	p.mu.Lock()
	p.printed = make(map[string]struct{})
	p.mu.Unlock()
}

// replay marks an initial history as printed after rendering it.
func (p *printer) replay(msgs []chat.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, msg := range msgs {
		p.printLocked(msg)
	}
}

func (p *printer) update(msgs []chat.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, msg := range msgs {
		if _, ok := p.printed[msg.ID]; ok {
			continue
		}
		// The user's own turns are echoed by the prompt itself.
		if msg.Role == chat.RoleUser {
			p.printed[msg.ID] = struct{}{}
			continue
		}
		p.printLocked(msg)
	}
}

func (p *printer) printLocked(msg chat.Message) {
	p.printed[msg.ID] = struct{}{}
	switch msg.Role {
	case chat.RoleUser:
		userColor.Print("you: ")
	case chat.RoleAssistant:
		assistantColor.Print("assistant: ")
	}
	fmt.Println(msg.Content)
	if len(msg.Sources) > 0 {
		statusColor.Printf("  (%d sources — /sources to view)\n", len(msg.Sources))
	}
}
