package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path over Defaults, then applies a .env file if
// present and MARGINSIM_* environment overrides. An empty path skips the file.
// The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose MARGINSIM_* variable is set, so
// secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	// run
	setStr(&cfg.Run.Name, "MARGINSIM_RUN_NAME")
	setStringSlice(&cfg.Run.Symbols, "MARGINSIM_RUN_SYMBOLS")
	setStr(&cfg.Run.Start, "MARGINSIM_RUN_START")
	setStr(&cfg.Run.End, "MARGINSIM_RUN_END")
	setStr(&cfg.Run.Source, "MARGINSIM_RUN_SOURCE")
	setFloat64(&cfg.Run.InitialCapital, "MARGINSIM_RUN_INITIAL_CAPITAL")
	setFloat64(&cfg.Run.Leverage, "MARGINSIM_RUN_LEVERAGE")
	setStr(&cfg.Run.MarginMode, "MARGINSIM_RUN_MARGIN_MODE")
	setStr(&cfg.Run.ContractType, "MARGINSIM_RUN_CONTRACT_TYPE")
	setFloat64(&cfg.Run.ContractSize, "MARGINSIM_RUN_CONTRACT_SIZE")
	setStr(&cfg.Run.Fees.Preset, "MARGINSIM_RUN_FEES_PRESET")
	setFloatPtr(&cfg.Run.Fees.CommissionRate, "MARGINSIM_RUN_FEES_COMMISSION_RATE")
	setFloat64(&cfg.Run.Fees.SlippageRate, "MARGINSIM_RUN_FEES_SLIPPAGE_RATE")
	setFloatPtr(&cfg.Run.Fees.LiquidationFeeRate, "MARGINSIM_RUN_FEES_LIQUIDATION_FEE_RATE")
	setInt(&cfg.Run.Engine.Step, "MARGINSIM_RUN_ENGINE_STEP")
	setInt(&cfg.Run.Engine.EquityStride, "MARGINSIM_RUN_ENGINE_EQUITY_STRIDE")
	setInt(&cfg.Run.Engine.Lookback, "MARGINSIM_RUN_ENGINE_LOOKBACK")
	setFloat64(&cfg.Run.Engine.MinConfidence, "MARGINSIM_RUN_ENGINE_MIN_CONFIDENCE")
	setDuration(&cfg.Run.Engine.MinHold, "MARGINSIM_RUN_ENGINE_MIN_HOLD")
	setFloat64(&cfg.Run.Engine.MaxPositionSize, "MARGINSIM_RUN_ENGINE_MAX_POSITION_SIZE")
	setFloat64(&cfg.Run.Engine.StopLossPct, "MARGINSIM_RUN_ENGINE_STOP_LOSS_PCT")
	setFloat64(&cfg.Run.Engine.TakeProfitPct, "MARGINSIM_RUN_ENGINE_TAKE_PROFIT_PCT")
	setFloat64(&cfg.Run.Engine.TrailingStopPct, "MARGINSIM_RUN_ENGINE_TRAILING_STOP_PCT")
	setStr(&cfg.Run.Strategy.Name, "MARGINSIM_RUN_STRATEGY")

	// data, sweep, output
	setStr(&cfg.Data.Dir, "MARGINSIM_DATA_DIR")
	setStr(&cfg.Data.S3Prefix, "MARGINSIM_DATA_S3_PREFIX")
	setBool(&cfg.Data.Cache, "MARGINSIM_DATA_CACHE")
	setDuration(&cfg.Data.CacheTTL, "MARGINSIM_DATA_CACHE_TTL")
	setStr(&cfg.Sweep.Grid, "MARGINSIM_SWEEP_GRID")
	setInt(&cfg.Sweep.Parallelism, "MARGINSIM_SWEEP_PARALLELISM")
	setStr(&cfg.Sweep.RankBy, "MARGINSIM_SWEEP_RANK_BY")
	setStr(&cfg.Output.Dir, "MARGINSIM_OUTPUT_DIR")

	// postgres
	setBool(&cfg.Postgres.Enabled, "MARGINSIM_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "MARGINSIM_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "MARGINSIM_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MARGINSIM_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MARGINSIM_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MARGINSIM_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MARGINSIM_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MARGINSIM_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.MaxConns, "MARGINSIM_POSTGRES_MAX_CONNS")
	setInt(&cfg.Postgres.MinConns, "MARGINSIM_POSTGRES_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MARGINSIM_POSTGRES_RUN_MIGRATIONS")

	// redis
	setBool(&cfg.Redis.Enabled, "MARGINSIM_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "MARGINSIM_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MARGINSIM_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MARGINSIM_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MARGINSIM_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MARGINSIM_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MARGINSIM_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.LockTTL, "MARGINSIM_REDIS_LOCK_TTL")

	// s3
	setBool(&cfg.S3.Enabled, "MARGINSIM_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "MARGINSIM_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MARGINSIM_S3_REGION")
	setStr(&cfg.S3.Bucket, "MARGINSIM_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MARGINSIM_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MARGINSIM_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MARGINSIM_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MARGINSIM_S3_FORCE_PATH_STYLE")

	// server
	setInt(&cfg.Server.Port, "MARGINSIM_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "MARGINSIM_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "MARGINSIM_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "MARGINSIM_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "MARGINSIM_SERVER_RATE_WINDOW")

	// notify
	setStr(&cfg.Notify.TelegramToken, "MARGINSIM_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MARGINSIM_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MARGINSIM_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MARGINSIM_NOTIFY_EVENTS")

	setStr(&cfg.Mode, "MARGINSIM_MODE")
	setStr(&cfg.LogLevel, "MARGINSIM_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the variable is
// present, non-empty and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setFloatPtr(dst **float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = &f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
