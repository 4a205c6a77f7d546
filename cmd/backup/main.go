// Command backup archives every database under the data store, uploads it
// to the configured S3-compatible bucket, and rotates old backups. Intended
// to run on a schedule (cron, k8s CronJob) alongside the server.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/aristath/quant-core/internal/config"
	"github.com/aristath/quant-core/internal/di"
	"github.com/aristath/quant-core/pkg/logger"
)

func main() {
	retentionDays := flag.Int("retention-days", 0, "delete backups older than this many days (0 uses BACKUP_RETENTION_DAYS); always keeps the 3 most recent")
	flag.Parse()

	cfg, err := config.Load()
	log := logger.New(logger.Config{Level: "info", Pretty: true})
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		os.Exit(2)
	}
	if cfg.S3Bucket == "" {
		log.Fatal().Msg("S3_BUCKET not configured, nothing to back up to")
	}
	if *retentionDays == 0 {
		*retentionDays = cfg.BackupRetentionDays
	}

	container, closeAll, err := di.Build(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire dependencies")
	}
	defer closeAll()

	ctx := context.Background()
	key, err := container.Backup.CreateAndUpload(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("backup failed")
	}
	log.Info().Str("key", key).Msg("backup uploaded")

	if err := container.Backup.Rotate(ctx, *retentionDays); err != nil {
		log.Fatal().Err(err).Msg("backup rotation failed")
	}
	log.Info().Msg("old backups rotated")
}
