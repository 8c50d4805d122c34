package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kparsons/timehub/internal/command"
	"github.com/kparsons/timehub/internal/config"
	"github.com/kparsons/timehub/internal/gateway"
	"github.com/kparsons/timehub/internal/httpapi"
	"github.com/kparsons/timehub/internal/registry"
	"github.com/kparsons/timehub/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open store")
	}
	defer store.Close()

	// Wire processor and gateway. The gateway is the processor's
	// broadcaster, so it is attached after construction.
	processor := command.NewProcessor(store, clockwork.NewRealClock(), nil)
	processor.SetStoreTimeout(cfg.StoreTimeout())

	rooms := registry.NewRooms[*gateway.Connection]()
	manager := gateway.NewManager(gateway.DefaultConfig(), processor, rooms)
	processor.SetBroadcaster(manager)

	go manager.Start(ctx)

	handler := httpapi.NewHandler(processor)
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      httpapi.NewRouter(handler, manager),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("store", cfg.Store.Driver).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	cancel()

	log.Info().Msg("server stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Repository, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return storage.NewPostgresRepository(ctx, cfg.Store.Postgres.DSN())
	case "memory":
		return storage.NewMemoryRepository(), nil
	default:
		return storage.NewSQLiteRepository(cfg.Store.Path)
	}
}
