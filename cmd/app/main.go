package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"option_bot/internal/app"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Startup Reconciliation (must finish before any quote is accepted)
	if err := bootstrap.Reconcile(ctx); err != nil {
		slog.Error("Startup reconciliation failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 5. Decision Pipeline
	// The pipeline outlives the signal context so shutdown cancel acks are
	// still consumed by the reconciler.
	pipelineCtx, stopPipeline := context.WithCancel(context.Background())
	defer stopPipeline()
	go bootstrap.Reconciler.Run(pipelineCtx)
	go bootstrap.Coordinator.Run(pipelineCtx)
	slog.InfoContext(ctx, "Decision pipeline started")

	// 6. Market Data Feed
	if err := bootstrap.Feed.Connect(ctx); err != nil {
		slog.Error("Failed to start feed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Feed.Disconnect()
	slog.InfoContext(ctx, "Feed worker started",
		slog.Int("symbols", len(bootstrap.Config.API.Feed.Symbols)))

	bootstrap.StartMetricsReporter(ctx, time.Minute)

	slog.InfoContext(ctx, "Option Bot fully operational. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-ctx.Done()

	slog.Info("Shutting down gracefully...")

	// 7. Withdraw resting orders before the pipeline stops.
	cancelCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
	bootstrap.Coordinator.CancelOpenOrders(cancelCtx)
	done()
}
