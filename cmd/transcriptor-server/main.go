// Command transcriptor-server runs the HTTP API and the worker pool
// together: construct the app, start background runtime, serve HTTP,
// wait for a signal, shut down in reverse order.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brightloom/transcriptor/internal/app"
	"github.com/brightloom/transcriptor/internal/common"
	"github.com/brightloom/transcriptor/internal/server"
)

func main() {
	common.LoadVersionFromFile()

	ctx := context.Background()
	configPath := os.Getenv("TRANSCRIPTOR_CONFIG")

	a, err := app.New(ctx, configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize app: %v\n", err)
		os.Exit(1)
	}

	common.PrintBanner(a.Config, a.Logger)

	a.WorkerPool.Start()

	srv := server.NewServer(a)
	go func() {
		if err := srv.Start(); err != nil {
			a.Logger.Error().Err(err).Msg("http server stopped unexpectedly")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	a.Logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error().Err(err).Msg("http server shutdown failed")
	}

	a.Close()
	common.PrintShutdownBanner(a.Logger)
}
