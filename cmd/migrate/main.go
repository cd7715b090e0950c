package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/kiwari-pos/order-core/internal/config"
	"github.com/kiwari-pos/order-core/internal/database"
)

func main() {
	// CLI flags
	direction := flag.String("direction", "up", "Migration direction: up or down")
	steps := flag.Int("steps", 0, "Number of migrations to apply (0 = all)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	switch {
	case *direction != "up" && *direction != "down":
		logger.Error("invalid direction", "direction", *direction)
		os.Exit(2)
	case *steps < 0:
		logger.Error("steps must be >= 0", "steps", *steps)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	m, err := database.NewMigrator(cfg.DatabaseURL)
	if err != nil {
		logger.Error("open migrator", "error", err)
		os.Exit(1)
	}
	defer m.Close()

	switch {
	case *steps > 0 && *direction == "down":
		err = m.Steps(-*steps)
	case *steps > 0:
		err = m.Steps(*steps)
	case *direction == "down":
		err = m.Down()
	default:
		err = m.Up()
	}
	if err != nil {
		logger.Error("migrate", "direction", *direction, "steps", *steps, "error", err)
		m.Close()
		os.Exit(1)
	}

	version, dirty, err := m.Version()
	if err != nil {
		logger.Error("read version", "error", err)
		m.Close()
		os.Exit(1)
	}
	logger.Info("migrations done", "direction", *direction, "version", version, "dirty", dirty)
}
