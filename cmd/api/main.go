package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/nftseason/notifyd/internal/config"
	"github.com/nftseason/notifyd/internal/database"
	"github.com/nftseason/notifyd/internal/logging"
	"github.com/nftseason/notifyd/internal/monitoring"
	"github.com/nftseason/notifyd/internal/notify"
	"github.com/nftseason/notifyd/internal/server"
	"github.com/nftseason/notifyd/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(&cfg.Logging, cfg.Server.Env)
	log.Info().
		Str("env", cfg.Server.Env).
		Int("port", cfg.Server.Port).
		Msg("Starting notification API server")

	monitoring.Init()

	db, err := database.New(cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	st := store.New(db.Pool)
	if err := st.EnsureSchema(context.Background()); err != nil {
		// Non-fatal: handlers retry lazily, and the database may still be
		// coming up when the service starts.
		log.Warn().Err(err).Msg("Schema not ready at startup, will retry per request")
	}

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		rdb, err = database.NewRedisClient(context.Background(), cfg.Redis.URL)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, broadcast lock disabled")
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	dispatcher := notify.NewDispatcher(time.Duration(cfg.Notify.DispatchTimeout) * time.Second)
	apiServer := server.NewAPIServer(cfg, st, dispatcher, rdb)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Metrics server on its own port, never exposed with the API.
	var metricsSrv *http.Server
	if cfg.Monitoring.PrometheusEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", monitoring.Handler())
		metricsSrv = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort),
			Handler: mux,
		}
		go func() {
			log.Info().Int("port", cfg.Monitoring.PrometheusPort).Msg("Metrics server listening")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("API server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("API server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("API server shutdown failed")
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Metrics server shutdown failed")
		}
	}

	log.Info().Msg("Server stopped")
}
