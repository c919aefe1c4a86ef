// Package config loads the marginsim configuration from TOML, .env and
// MARGINSIM_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/marginsim/internal/domain"
)

// Config is the root configuration.
type Config struct {
	Mode     string         `toml:"mode"` // "backtest", "sweep" or "serve"
	LogLevel string         `toml:"log_level"`
	Run      Run            `toml:"run"`
	Data     DataConfig     `toml:"data"`
	Sweep    SweepConfig    `toml:"sweep"`
	Output   OutputConfig   `toml:"output"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
}

// DataConfig locates bar series for each source.
type DataConfig struct {
	Dir      string   `toml:"dir"`       // file source: <dir>/<symbol>.csv
	S3Prefix string   `toml:"s3_prefix"` // s3 source: <prefix>/<symbol>.csv
	Cache    bool     `toml:"cache"`     // wrap the source in the redis bar cache
	CacheTTL Duration `toml:"cache_ttl"`
}

// SweepConfig points at a parameter grid.
type SweepConfig struct {
	Grid        string `toml:"grid"`
	Parallelism int    `toml:"parallelism"`
	RankBy      string `toml:"rank_by"`
}

// OutputConfig controls where backtest mode writes its report files.
type OutputConfig struct {
	Dir string `toml:"dir"`
}

// PostgresConfig holds the run store connection.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"sslmode"`
	MaxConns      int    `toml:"max_conns"`
	MinConns      int    `toml:"min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds the cache, bus and lock connection.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	LockTTL    Duration `toml:"lock_ttl"`
}

// S3Config holds the report archive and bar object store.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds the HTTP API settings used in serve mode.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"` // run submissions per window and client; zero disables
	RateWindow  Duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel settings.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Duration wraps time.Duration so it decodes from strings like "3h" in both
// TOML and JSON.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("config: duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sensible defaults.
func Defaults() Config {
	return Config{
		Mode:     "backtest",
		LogLevel: "info",
		Run:      DefaultRun(),
		Data: DataConfig{
			Dir:      "data",
			S3Prefix: "bars",
			CacheTTL: Duration{24 * time.Hour},
		},
		Sweep: SweepConfig{
			RankBy: "sharpe_ratio",
		},
		Output: OutputConfig{
			Dir: "reports",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "marginsim",
			User:          "postgres",
			SSLMode:       "disable",
			MaxConns:      10,
			MinConns:      1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			LockTTL:    Duration{30 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "localhost:9000",
			Region:         "us-east-1",
			Bucket:         "marginsim",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:       8080,
			RateLimit:  30,
			RateWindow: Duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"run.completed", "run.failed"},
		},
	}
}

var (
	validModes     = map[string]bool{"backtest": true, "sweep": true, "serve": true}
	validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
)

// Validate checks the configuration and returns one error listing every
// violation.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[c.Mode] {
		errs = append(errs, fmt.Sprintf("mode must be backtest, sweep or serve, got %q", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("log_level must be debug, info, warn or error, got %q", c.LogLevel))
	}
	errs = append(errs, c.Run.violations()...)

	switch c.Run.Source {
	case SourceS3:
		if !c.S3.Enabled {
			errs = append(errs, "run.source s3 requires s3.enabled")
		}
	case SourcePostgres:
		if !c.Postgres.Enabled {
			errs = append(errs, "run.source postgres requires postgres.enabled")
		}
	}
	if c.Data.Cache && !c.Redis.Enabled {
		errs = append(errs, "data.cache requires redis.enabled")
	}
	if c.Mode == "sweep" && c.Sweep.Grid == "" {
		errs = append(errs, "sweep.grid is required in sweep mode")
	}
	if c.Sweep.Parallelism < 0 {
		errs = append(errs, fmt.Sprintf("sweep.parallelism must not be negative, got %d", c.Sweep.Parallelism))
	}

	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres.host is required when postgres.dsn is empty")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres.port must be 1-65535, got %d", c.Postgres.Port))
		}
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required when redis is enabled")
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3.bucket is required when s3 is enabled")
	}
	if c.Mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, fmt.Sprintf("server.rate_limit must not be negative, got %d", c.Server.RateLimit))
		}
	}
	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
		errs = append(errs, "notify.telegram_chat_id is required when telegram_token is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", domain.ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}
