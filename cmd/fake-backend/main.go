// ABOUTME: Minimal in-memory backend for E2E testing the ragline client.
// ABOUTME: Implements the REST contract plus websocket and polling push channels.

package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"
)

func main() {
	addr := flag.String("addr", ":5000", "listen address")
	replyDelay := flag.Duration("reply-delay", 300*time.Millisecond, "delay before the echoed assistant reply")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	srv := newServer(logger, *replyDelay)

	httpSrv := &http.Server{
		Addr:    *addr,
		Handler: srv.routes(),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("fake backend listening", "addr", *addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
