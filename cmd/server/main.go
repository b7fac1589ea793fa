package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sheikh-saqib/async-payments-ledger/internal/api"
	"github.com/sheikh-saqib/async-payments-ledger/internal/config"
	"github.com/sheikh-saqib/async-payments-ledger/internal/events/kafka"
	"github.com/sheikh-saqib/async-payments-ledger/internal/ledger"
	"github.com/sheikh-saqib/async-payments-ledger/internal/storage/memory"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log = log.Level(cfg.LogLevel)

	opts := []ledger.Option{
		ledger.WithLogger(log),
		ledger.WithTransferMode(ledger.TransferMode(cfg.TransferMode)),
		ledger.WithDeadLetterLimit(cfg.DeadLetterLimit),
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close Kafka publisher")
			}
		}()
		opts = append(opts, ledger.WithPublisher(publisher))
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("Publishing settled transactions to Kafka")
	}

	ledgerService, err := ledger.New(ledger.Stores{
		Accounts: memory.NewMemoryAccountStore(memory.WithOverdraft(cfg.AllowOverdraft)),
	}, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build ledger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// the worker outlives ctx; Shutdown drains it once the HTTP server stops
	if err := ledgerService.Start(context.WithoutCancel(ctx)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start ledger worker")
	}

	apiHandler, err := api.NewAPI(ledgerService, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build API")
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           apiHandler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("Starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := ledgerService.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Int("pending", ledgerService.QueueLen()).Msg("Ledger did not drain before deadline")
	}
}
