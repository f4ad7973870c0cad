package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Ruks-7/KilimoSmart-sub001/config"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/database"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/eventbus"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/inventory"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/metrics"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/orders"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/payments"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/reservations"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/server"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Set log level from config
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Str("appName", cfg.AppName).Msg("Application starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Initializations ---

	// Initialize the store
	var store database.Store
	if strings.EqualFold(cfg.DBDriver, "memory") {
		log.Warn().Msg("Using in-memory store; state does not survive restarts.")
		store = database.NewMemStore()
	} else {
		pg, err := database.NewPostgres(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Database")
		}
		if err := pg.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
		store = pg
	}
	defer store.Close()

	// Initialize RabbitMQ. The bus is optional: without it the core still
	// takes orders, it just emits no events and takes payment results over
	// HTTP only.
	var bus *eventbus.RabbitMQManager
	if cfg.RabbitMQURL != "" {
		bus, err = eventbus.NewRabbitMQManager(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("RabbitMQ unavailable; continuing without the event bus")
			bus = nil
		} else {
			defer bus.Close()
		}
	}

	// Core services
	coreMetrics := metrics.NewCoreMetrics()
	ledger := inventory.NewLedger()
	reconciler := reservations.NewReconciler(ledger)
	manager := reservations.NewManager(store, reconciler, cfg.ReservationTTL(), cfg.SweepBatchSize, coreMetrics)

	var publisher orders.EventPublisher
	if bus != nil {
		publisher = bus
	}
	orderSvc := orders.NewService(store, ledger, manager, reconciler, publisher, coreMetrics)

	// Background expiry sweeper
	var sweepPublisher reservations.ExpiredPublisher
	if bus != nil {
		sweepPublisher = bus
	}
	sweeper := reservations.NewSweeper(manager, cfg.SweepInterval(), sweepPublisher)
	go sweeper.Run(ctx)

	// Payment results consumer
	if bus != nil {
		consumer := payments.NewConsumer(orderSvc)
		if err := bus.StartConsuming(ctx, consumer.MessageHandler); err != nil {
			log.Error().Err(err).Msg("Failed to start payment results consumer")
		}
	}

	// HTTP server
	mux := http.NewServeMux()
	server.New(orderSvc).RegisterRoutes(mux)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	log.Info().Msg("Application setup complete.")

	// --- Wait for shutdown signal ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// --- Graceful Shutdown ---
	log.Info().Msg("Application shutting down...")
	cancel() // stop the sweeper and consumers

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down HTTP server")
	}
	// Deferred calls close the bus and the store.
}
