package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/noah-isme/toko-marketplace/internal/config"
	"github.com/noah-isme/toko-marketplace/internal/db"
	"github.com/noah-isme/toko-marketplace/internal/obs"
)

func main() {
	steps := flag.Int("steps", 1, "number of migrations to roll back with down")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: migrate [-steps n] up|down\n")
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "migrate").Logger()

	m, err := db.NewMigrate(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("init migrate")
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.Error().AnErr("source", srcErr).AnErr("database", dbErr).Msg("close migrate")
		}
	}()

	switch flag.Arg(0) {
	case "up":
		err = db.Up(m)
	case "down":
		err = db.Down(m, *steps)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error().Err(err).Str("direction", flag.Arg(0)).Msg("migration failed")
		os.Exit(1)
	}
	version, dirty, _ := m.Version()
	logger.Info().Str("direction", flag.Arg(0)).Uint("version", version).Bool("dirty", dirty).Msg("migrations applied")
}
