// Package main contains the entrypoint for the channel archiver.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/osintarchive/archiver/internal/app"
	"github.com/osintarchive/archiver/internal/config"
	"github.com/osintarchive/archiver/internal/logger"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes all components, dispatches to the selected mode, and
// returns the process exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	mode := flag.String("mode", "listen", "Operating mode: listen or import")
	input := flag.String("input", "", "Telegram export file to import (import mode)")
	limit := flag.Int("limit", 0, "Maximum messages to import, 0 uses the configured limit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.New(cfg.Logger.Level, cfg.Logger.JSON)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	a, err := app.New(ctx, cfg, log, nil)
	if err != nil {
		log.Error("Failed to initialize archiver", "error", err)
		return 1
	}
	defer a.Close()

	switch *mode {
	case "listen":
		err = a.Listen(ctx)
	case "import":
		if *input == "" {
			log.Error("Import mode requires -input pointing at a Telegram export file")
			return 1
		}
		err = a.Import(ctx, *input, *limit)
	default:
		log.Error("Unknown mode", "mode", *mode)
		return 1
	}

	if err != nil {
		log.Error("Archiver stopped due to error", "mode", *mode, "error", err)
		return 1
	}

	log.Info("Archiver stopped gracefully")
	return 0
}
