// Calibd is the calibration engine daemon.
//
// It loads configuration, opens the calibration stores, and serves lookups
// and dark-signal retrieval over HTTP with live events on a WebSocket.
// With demo mode on it synthesizes a store tree and exercises it in a loop.
// Shutdown is handled gracefully on SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/large-farva/calibration-engine/internal/app"
	"github.com/large-farva/calibration-engine/internal/config"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "/etc/calibration-engine/calibd.toml", "Path to config TOML or YAML")
		bind       = pflag.String("bind", "", "HTTP bind address (overrides server.bind)")
	)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	switch {
	case errors.Is(err, os.ErrNotExist) && !pflag.CommandLine.Changed("config"):
		// No config installed: run on defaults.
		cfg = config.Default()
		*configPath = ""
	case err != nil:
		log.Fatalf("config load failed: %v", err)
	}

	logger := log.New(os.Stdout, "calibd ", log.LstdFlags|log.Lmicroseconds)

	a := app.New(app.Options{
		Logger:     logger,
		Cfg:        cfg,
		ConfigPath: *configPath,
		Bind:       *bind,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("calibd failed: %v", err)
	}

	// Brief pause so in-flight log writes can flush before exit.
	time.Sleep(50 * time.Millisecond)
}
