// Command reconcile runs one broker's reconciliation pass out of band,
// for operators who need to force a poll instead of waiting for the
// server's background poller (e.g. after a suspected dropped event).
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/aristath/quant-core/internal/config"
	"github.com/aristath/quant-core/internal/di"
	"github.com/aristath/quant-core/internal/orders"
	"github.com/aristath/quant-core/pkg/logger"
)

func main() {
	brokerID := flag.String("broker", "", "broker id to reconcile (required)")
	flag.Parse()

	log := logger.New(logger.Config{Level: "info", Pretty: true})
	if *brokerID == "" {
		log.Fatal().Msg("--broker is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		os.Exit(2)
	}

	container, closeAll, err := di.Build(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire dependencies")
	}
	defer closeAll()

	reconciler, ok := container.Reconcilers[*brokerID]
	if !ok {
		log.Fatal().Str("broker", *brokerID).Msg("no reconciler configured for broker")
	}

	// Reconciler.Run loops on a ticker and has no single-shot entry point;
	// give it one tick interval plus a small margin, then cancel.
	ctx, cancel := context.WithTimeout(context.Background(), orders.DefaultPollEvery+2*time.Second)
	defer cancel()

	reconciler.Run(ctx)
	log.Info().Str("broker", *brokerID).Msg("reconciliation pass complete")
}
