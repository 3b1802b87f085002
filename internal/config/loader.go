package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads configuration in three layers: built-in defaults, the optional
// TOML file at path, and PROPDESK_* environment variables. A .env file in
// the working directory is loaded first so local development does not need
// exported variables.
func Load(path string) (Config, error) {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: file %s not found: %w", path, err)
			}
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv overlays PROPDESK_* environment variables onto cfg. Only the
// values most often injected by deployment tooling are exposed this way.
func applyEnv(cfg *Config) {
	setStr(&cfg.Mode, "PROPDESK_MODE")
	setStr(&cfg.LogLevel, "PROPDESK_LOG_LEVEL")

	setStr(&cfg.Database.DSN, "PROPDESK_DATABASE_DSN")
	setStr(&cfg.Database.Host, "PROPDESK_DATABASE_HOST")
	setInt(&cfg.Database.Port, "PROPDESK_DATABASE_PORT")
	setStr(&cfg.Database.Database, "PROPDESK_DATABASE_NAME")
	setStr(&cfg.Database.User, "PROPDESK_DATABASE_USER")
	setStr(&cfg.Database.Password, "PROPDESK_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "PROPDESK_DATABASE_SSL_MODE")

	setStr(&cfg.Redis.Addr, "PROPDESK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PROPDESK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PROPDESK_REDIS_DB")

	setStr(&cfg.S3.Region, "PROPDESK_S3_REGION")
	setStr(&cfg.S3.Bucket, "PROPDESK_S3_BUCKET")
	setStr(&cfg.S3.Endpoint, "PROPDESK_S3_ENDPOINT")
	setStr(&cfg.S3.AccessKeyID, "PROPDESK_S3_ACCESS_KEY_ID")
	setStr(&cfg.S3.SecretAccessKey, "PROPDESK_S3_SECRET_ACCESS_KEY")
	setBool(&cfg.S3.UsePathStyle, "PROPDESK_S3_USE_PATH_STYLE")

	setFloat64(&cfg.Engine.SlippagePct, "PROPDESK_ENGINE_SLIPPAGE_PCT")

	setDuration(&cfg.Monitor.Interval.Duration, "PROPDESK_MONITOR_INTERVAL")
	setInt(&cfg.Monitor.MaxParallel, "PROPDESK_MONITOR_MAX_PARALLEL")

	setBool(&cfg.Archive.Enabled, "PROPDESK_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "PROPDESK_ARCHIVE_RETENTION_DAYS")
}

func setStr(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = parsed
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*dst = parsed
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			*dst = parsed
		}
	}
}
