package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tanmayop9/discord-antinuke/internal/bootstrap"
	"github.com/Tanmayop9/discord-antinuke/internal/config"
	"github.com/Tanmayop9/discord-antinuke/internal/logging"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	flag.Parse()

	fmt.Println("Starting Anti-Nuke Security Systems")

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	app := bootstrap.New(cfg)
	if err := app.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Start(ctx); err != nil {
		logging.Critical("[BOOT] Start failed: %v", err)
		_ = app.Shutdown()
		os.Exit(1)
	}

	select {
	case <-ctx.Done():
		logging.Info("[BOOT] Shutdown signal received")
	case <-app.Done():
		logging.Critical("[BOOT] Supervisor exited: %v", app.Err())
	}

	if err := app.Shutdown(); err != nil {
		os.Exit(1)
	}
}
