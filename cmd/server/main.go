// Package main is the entry point for the algorithmic-trading backend: the
// Market-Data Hub, Prediction Dispatcher, Risk Engine and Execution Engine
// wired together behind one HTTP API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/quant-core/internal/apperr"
	"github.com/aristath/quant-core/internal/config"
	"github.com/aristath/quant-core/internal/di"
	"github.com/aristath/quant-core/internal/server"
	"github.com/aristath/quant-core/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Error().Err(err).Msg("failed to load configuration")
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Error().Err(err).Msg("invalid configuration")
		os.Exit(2)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	log.Info().Msg("starting quant-core")

	container, closeContainer, err := di.Build(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire dependencies")
	}
	defer closeContainer()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := container.Audit.VerifyAll(ctx); err != nil {
		log.Error().Err(err).Msg("startup audit chain verification failed")
		closeContainer()
		if apperr.Is(err, apperr.KindIntegrity) {
			os.Exit(3)
		}
		os.Exit(1)
	}

	if err := container.StartBrokerStreams(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start broker event streams")
	}
	container.StartReconciliation(ctx)
	log.Info().Int("broker_count", len(container.Brokers)).Msg("broker streams and reconciliation started")

	go container.StartWork()
	defer container.StopWork()

	srv := server.New(server.Config{
		Port:      cfg.Port,
		Log:       log,
		JWTSecret: cfg.JWTSecret,
		DevMode:   cfg.DevMode,
		Container: container,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server stopped")
}
