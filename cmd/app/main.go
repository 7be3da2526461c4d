package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"perp_exec/internal/app"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap(*configPath)
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Shutdown()

	// 2. SIGTERM ends the process; Ctrl+C is handled by the console
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	// 3. Feed + status API
	if err := bootstrap.Start(ctx); err != nil {
		slog.Error("❌ Startup failed", slog.Any("error", err))
		return
	}
	slog.InfoContext(ctx, "✨ perp-exec operational",
		slog.String("symbol", bootstrap.Config.Trading.Symbol),
		slog.Bool("paper", bootstrap.Config.Paper.Enabled),
	)

	// 4. Operator menu (blocks)
	console := app.NewConsole(bootstrap, os.Stdin, os.Stdout, interrupts)
	if err := console.Run(ctx); err != nil {
		slog.Error("Console error", slog.Any("error", err))
	}

	slog.Info("👋 Shutting down gracefully...")
}
