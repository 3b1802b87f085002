// Package config loads runtime configuration from a TOML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Run modes.
const (
	ModeMonitor = "monitor"
	ModeArchive = "archive"
	ModeFull    = "full"
)

// Config is the root runtime configuration.
type Config struct {
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`

	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Engine   EngineConfig   `toml:"engine"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Rules    RulesDefaults  `toml:"rules"`
	Archive  ArchiveConfig  `toml:"archive"`
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	DSN      string `toml:"dsn"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Database string `toml:"database"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	SSLMode  string `toml:"ssl_mode"`
	MaxConns int    `toml:"max_conns"`
	MinConns int    `toml:"min_conns"`
}

// RedisConfig holds Redis settings.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	PoolSize int    `toml:"pool_size"`
}

// S3Config holds object storage settings for the archiver.
type S3Config struct {
	Region          string `toml:"region"`
	Bucket          string `toml:"bucket"`
	Endpoint        string `toml:"endpoint"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	UsePathStyle    bool   `toml:"use_path_style"`
}

// EngineConfig tunes trade simulation.
type EngineConfig struct {
	SlippagePct     float64 `toml:"slippage_pct"`
	SyntheticDepth  float64 `toml:"synthetic_depth"`
	SyntheticLevels int     `toml:"synthetic_levels"`
	SyntheticStep   float64 `toml:"synthetic_step"`
}

// MonitorConfig tunes the background risk monitor.
type MonitorConfig struct {
	Interval    duration `toml:"interval"`
	MaxParallel int      `toml:"max_parallel"`
}

// RulesDefaults seeds the rules snapshot of newly created challenges.
// Values below 1 are fractions of the starting balance; values of 1 or more
// are absolute dollars.
type RulesDefaults struct {
	StartingBalance        float64 `toml:"starting_balance"`
	ProfitTarget           float64 `toml:"profit_target"`
	MaxDrawdown            float64 `toml:"max_drawdown"`
	DailyDrawdown          float64 `toml:"daily_drawdown"`
	MaxOpenPositions       int     `toml:"max_open_positions"`
	PerEventExposurePct    float64 `toml:"per_event_exposure_pct"`
	PerCategoryExposurePct float64 `toml:"per_category_exposure_pct"`
	MaxTradesPerHour       int     `toml:"max_trades_per_hour"`
	MinMarketVolume        float64 `toml:"min_market_volume"`
	LiquidityCapPct        float64 `toml:"liquidity_cap_pct"`
}

// ArchiveConfig tunes the cold-storage archiver.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// duration lets TOML carry values like "30s" or "24h".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Defaults returns a configuration with sensible local-development values.
func Defaults() Config {
	return Config{
		Mode:     ModeFull,
		LogLevel: "info",
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "propdesk",
			User:     "propdesk",
			SSLMode:  "disable",
			MaxConns: 10,
			MinConns: 2,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Engine: EngineConfig{
			SlippagePct:     0.005,
			SyntheticDepth:  10000,
			SyntheticLevels: 5,
			SyntheticStep:   0.005,
		},
		Monitor: MonitorConfig{
			Interval:    duration{30 * time.Second},
			MaxParallel: 8,
		},
		Rules: RulesDefaults{
			StartingBalance: 10000,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{24 * time.Hour},
			RetentionDays: 90,
		},
	}
}

// Validate checks the configuration, collecting every problem rather than
// stopping at the first.
func (c Config) Validate() error {
	var errs []error

	switch c.Mode {
	case ModeMonitor, ModeArchive, ModeFull:
	default:
		errs = append(errs, fmt.Errorf("mode must be one of %q, %q, %q, got %q",
			ModeMonitor, ModeArchive, ModeFull, c.Mode))
	}

	if c.Database.DSN == "" {
		if c.Database.Host == "" {
			errs = append(errs, errors.New("database.host is required when database.dsn is unset"))
		}
		if c.Database.Database == "" {
			errs = append(errs, errors.New("database.database is required when database.dsn is unset"))
		}
	}

	if c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required"))
	}

	if c.Mode == ModeArchive || (c.Mode == ModeFull && c.Archive.Enabled) {
		if c.S3.Bucket == "" {
			errs = append(errs, errors.New("s3.bucket is required when archiving is enabled"))
		}
	}

	if c.Engine.SlippagePct < 0 || c.Engine.SlippagePct >= 1 {
		errs = append(errs, fmt.Errorf("engine.slippage_pct must be in [0,1), got %g", c.Engine.SlippagePct))
	}

	if c.Monitor.Interval.Duration < 0 {
		errs = append(errs, errors.New("monitor.interval must not be negative"))
	}

	if c.Rules.StartingBalance <= 0 {
		errs = append(errs, fmt.Errorf("rules.starting_balance must be positive, got %g", c.Rules.StartingBalance))
	}

	if c.Archive.RetentionDays < 0 {
		errs = append(errs, errors.New("archive.retention_days must not be negative"))
	}

	return errors.Join(errs...)
}
