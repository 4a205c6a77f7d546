// Package config loads runtime configuration from the environment, with a
// .env file as an optional local override, following the same
// getEnv/getEnvAsInt/getEnvAsBool fallback idiom used throughout this
// codebase's services.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Broker holds the per-broker credentials and endpoint recognized via
// BROKER_<ID>_KEY / BROKER_<ID>_SECRET / BROKER_<ID>_ENDPOINT.
type Broker struct {
	ID       string
	Key      string
	Secret   string
	Endpoint string
}

// Provider holds the per-provider credential and base URL recognized via
// PROVIDER_<ID>_KEY / PROVIDER_<ID>_ENDPOINT.
type Provider struct {
	ID       string
	Key      string
	Endpoint string
}

// Config is the process-wide configuration, built once at startup and
// passed explicitly into every component constructor.
type Config struct {
	DBURL         string
	DataStorePath string
	ModelBlobPath string
	JWTSecret     string
	LogLevel      string
	LogPretty     bool
	Port          int
	DevMode       bool

	Brokers   map[string]Broker
	Providers map[string]Provider

	// TrackedSymbols drives the background marketdata:refresh work type
	// (TRACKED_SYMBOLS, comma-separated). Empty means nothing is refreshed
	// in the background; GetBars still fetches on demand per request.
	TrackedSymbols []string

	// S3-compatible object storage for the reliability/backup and blob-store
	// components. Optional: when Bucket is empty the blob store runs
	// local-only and database backups have no object store to upload to.
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string

	BackupRetentionDays int
	ReconcilePollEvery  time.Duration
	ReconcileWindow     time.Duration
}

// Load reads configuration from the environment, after optionally loading a
// .env file at the process working directory (missing .env is not an error).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBURL:         getEnv("DB_URL", "file:./data/quant-core.db"),
		DataStorePath: getEnv("DATA_STORE_PATH", "./data"),
		ModelBlobPath: getEnv("MODEL_BLOB_PATH", "./data/models"),
		JWTSecret:     getEnv("JWT_SECRET", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogPretty:     getEnvAsBool("LOG_PRETTY", false),
		Port:          getEnvAsInt("PORT", 8080),
		DevMode:       getEnvAsBool("DEV_MODE", false),

		S3Bucket:          getEnv("S3_BUCKET", ""),
		S3Region:          getEnv("S3_REGION", "auto"),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),

		BackupRetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 14),
		ReconcilePollEvery:  5 * time.Second,
		ReconcileWindow:     10 * time.Minute,
	}

	cfg.Brokers = scanPrefixed("BROKER_")
	cfg.Providers = scanProviderPrefixed("PROVIDER_")
	if v := getEnv("TRACKED_SYMBOLS", ""); v != "" {
		cfg.TrackedSymbols = strings.Split(v, ",")
	}

	if err := os.MkdirAll(cfg.DataStorePath, 0o755); err != nil {
		return nil, fmt.Errorf("create data store path: %w", err)
	}
	if err := os.MkdirAll(cfg.ModelBlobPath, 0o755); err != nil {
		return nil, fmt.Errorf("create model blob path: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent enough to
// start the server. It returns a configuration error (exit code 2 at the CLI).
func (c *Config) Validate() error {
	if c.DBURL == "" {
		return fmt.Errorf("DB_URL must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	return nil
}

// scanPrefixed collects BROKER_<ID>_KEY/_SECRET/_ENDPOINT triples from the
// environment into a map keyed by lower-cased broker id.
func scanPrefixed(prefix string) map[string]Broker {
	out := map[string]Broker{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		var id, field string
		switch {
		case strings.HasSuffix(rest, "_KEY"):
			id, field = strings.TrimSuffix(rest, "_KEY"), "KEY"
		case strings.HasSuffix(rest, "_SECRET"):
			id, field = strings.TrimSuffix(rest, "_SECRET"), "SECRET"
		case strings.HasSuffix(rest, "_ENDPOINT"):
			id, field = strings.TrimSuffix(rest, "_ENDPOINT"), "ENDPOINT"
		default:
			continue
		}
		id = strings.ToLower(id)
		b := out[id]
		b.ID = id
		switch field {
		case "KEY":
			b.Key = v
		case "SECRET":
			b.Secret = v
		case "ENDPOINT":
			b.Endpoint = v
		}
		out[id] = b
	}
	return out
}

func scanProviderPrefixed(prefix string) map[string]Provider {
	out := map[string]Provider{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		var id, field string
		switch {
		case strings.HasSuffix(rest, "_KEY"):
			id, field = strings.TrimSuffix(rest, "_KEY"), "KEY"
		case strings.HasSuffix(rest, "_ENDPOINT"):
			id, field = strings.TrimSuffix(rest, "_ENDPOINT"), "ENDPOINT"
		default:
			continue
		}
		id = strings.ToLower(id)
		p := out[id]
		p.ID = id
		switch field {
		case "KEY":
			p.Key = v
		case "ENDPOINT":
			p.Endpoint = v
		}
		out[id] = p
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
