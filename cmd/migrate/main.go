package main

import (
	"embed"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/nftseason/notifyd/internal/config"
	"github.com/nftseason/notifyd/internal/database"
	"github.com/nftseason/notifyd/internal/logging"
)

//go:embed migrations
var migrationsFS embed.FS

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(&cfg.Logging, cfg.Server.Env)

	if err := database.RunMigrations(cfg.Database.URL, migrationsFS, "migrations"); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}
