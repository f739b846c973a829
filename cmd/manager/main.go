package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nftseason/notifyd/internal/config"
	"github.com/nftseason/notifyd/internal/database"
	"github.com/nftseason/notifyd/internal/logging"
	"github.com/nftseason/notifyd/internal/manager"
	"github.com/nftseason/notifyd/internal/notify"
	"github.com/nftseason/notifyd/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(&cfg.Logging, cfg.Server.Env)

	if cfg.Manager.Token == "" && !cfg.Manager.NoToken {
		fmt.Fprintln(os.Stderr, "Set EDITOR_TOKEN, or EDITOR_NO_TOKEN=1 for local development")
		os.Exit(1)
	}

	db, err := database.New(cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	st := store.New(db.Pool)
	dispatcher := notify.NewDispatcher(time.Duration(cfg.Notify.DispatchTimeout) * time.Second)
	mgr := manager.New(cfg, st, dispatcher)

	// Loopback bind: the manager is an operator tool, never a public surface.
	srv := &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Manager.Port),
		Handler:      mgr.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Manager.Port).Msg("Notifications manager listening on 127.0.0.1")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Manager server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Manager server shutdown failed")
	}
}
