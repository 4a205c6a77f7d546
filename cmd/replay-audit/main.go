// Command replay-audit prints a portfolio's full audit history in order,
// verifying its hash chain first so a tampered history is never replayed
// silently.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/aristath/quant-core/internal/apperr"
	"github.com/aristath/quant-core/internal/config"
	"github.com/aristath/quant-core/internal/di"
	"github.com/aristath/quant-core/pkg/logger"
)

func main() {
	portfolioID := flag.String("portfolio", "", "portfolio id (audit stream) to replay (required)")
	flag.Parse()

	log := logger.New(logger.Config{Level: "info", Pretty: true})
	if *portfolioID == "" {
		log.Fatal().Msg("--portfolio is required")
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

	records, err := container.Audit.Replay(context.Background(), *portfolioID)
	if err != nil {
		if apperr.Is(err, apperr.KindIntegrity) {
			log.Error().Err(err).Str("portfolio", *portfolioID).Msg("audit chain verification failed")
			closeAll()
			os.Exit(3)
		}
		log.Fatal().Err(err).Str("portfolio", *portfolioID).Msg("audit replay failed")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			log.Fatal().Err(err).Msg("failed to encode audit record")
		}
	}
	fmt.Fprintf(os.Stderr, "%d records replayed for %s\n", len(records), *portfolioID)
}
