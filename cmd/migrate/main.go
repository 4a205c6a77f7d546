// Command migrate applies every subsystem's database schema migrations
// ahead of a server start, so a deploy can run migrations as a distinct,
// observable step rather than implicitly on first server boot.
package main

import (
	"os"

	"github.com/aristath/quant-core/internal/config"
	"github.com/aristath/quant-core/internal/di"
	"github.com/aristath/quant-core/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	log := logger.New(logger.Config{Level: "info", Pretty: true})
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		os.Exit(2)
	}

	_, closeAll, err := di.Build(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	closeAll()

	log.Info().Msg("all databases migrated")
}
