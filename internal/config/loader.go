package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRIARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRIARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.RestHost, "TRIARB_EXCHANGE_REST_HOST")
	setStr(&cfg.Exchange.WsHost, "TRIARB_EXCHANGE_WS_HOST")
	setStr(&cfg.Exchange.ApiKey, "TRIARB_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.ApiSecret, "TRIARB_EXCHANGE_API_SECRET")
	setStr(&cfg.Exchange.EncryptedKeyPath, "TRIARB_EXCHANGE_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Exchange.KeyPassword, "TRIARB_EXCHANGE_KEY_PASSWORD")
	setInt(&cfg.Exchange.RecvWindowMs, "TRIARB_EXCHANGE_RECV_WINDOW_MS")

	// ── Triangle ──
	setStr(&cfg.Triangle.LegA, "TRIARB_TRIANGLE_LEG_A")
	setStr(&cfg.Triangle.LegB, "TRIARB_TRIANGLE_LEG_B")
	setStr(&cfg.Triangle.LegC, "TRIARB_TRIANGLE_LEG_C")

	// ── Indicator ──
	setInt(&cfg.Indicator.BandPeriod, "TRIARB_INDICATOR_BAND_PERIOD")
	setFloat64(&cfg.Indicator.BandStdDev, "TRIARB_INDICATOR_BAND_STD_DEV")
	setInt(&cfg.Indicator.RocPeriod, "TRIARB_INDICATOR_ROC_PERIOD")
	setDuration(&cfg.Indicator.CandleInterval, "TRIARB_INDICATOR_CANDLE_INTERVAL")
	setInt(&cfg.Indicator.CandleSeed, "TRIARB_INDICATOR_CANDLE_SEED")

	// ── Arbitrage ──
	setFloat64(&cfg.Arbitrage.ProfitMarginPct, "TRIARB_ARBITRAGE_PROFIT_MARGIN_PCT")
	setFloat64(&cfg.Arbitrage.PriceGapPct, "TRIARB_ARBITRAGE_PRICE_GAP_PCT")
	setStr(&cfg.Arbitrage.ReferencePrice, "TRIARB_ARBITRAGE_REFERENCE_PRICE")
	setBool(&cfg.Arbitrage.TestMode, "TRIARB_ARBITRAGE_TEST_MODE")
	setDuration(&cfg.Arbitrage.EmitInterval, "TRIARB_ARBITRAGE_EMIT_INTERVAL")

	// ── Feed ──
	setInt(&cfg.Feed.SnapshotDepth, "TRIARB_FEED_SNAPSHOT_DEPTH")
	setInt(&cfg.Feed.TradeHistory, "TRIARB_FEED_TRADE_HISTORY")
	setInt(&cfg.Feed.OrderHistory, "TRIARB_FEED_ORDER_HISTORY")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TRIARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRIARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRIARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRIARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRIARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRIARB_REDIS_TLS_ENABLED")

	// ── Journal ──
	setStr(&cfg.Journal.DSN, "TRIARB_JOURNAL_DSN")
	setInt(&cfg.Journal.PoolMaxConns, "TRIARB_JOURNAL_POOL_MAX_CONNS")
	setInt(&cfg.Journal.PoolMinConns, "TRIARB_JOURNAL_POOL_MIN_CONNS")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "TRIARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRIARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRIARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRIARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRIARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRIARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRIARB_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.UploadInterval, "TRIARB_S3_UPLOAD_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRIARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TRIARB_SERVER_PORT")

	// ── Supervisor ──
	setInt(&cfg.Supervisor.MaxRestarts, "TRIARB_SUPERVISOR_MAX_RESTARTS")
	setDuration(&cfg.Supervisor.RestartBackoff, "TRIARB_SUPERVISOR_RESTART_BACKOFF")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRIARB_MODE")
	setStr(&cfg.LogLevel, "TRIARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
