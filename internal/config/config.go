// Package config defines the top-level configuration for the triangular
// arbitrage engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRIARB_* environment variables.
type Config struct {
	Exchange   ExchangeConfig  `toml:"exchange"`
	Triangle   TriangleConfig  `toml:"triangle"`
	Indicator  IndicatorConfig `toml:"indicator"`
	Arbitrage  ArbitrageConfig `toml:"arbitrage"`
	Feed       FeedConfig      `toml:"feed"`
	Redis      RedisConfig     `toml:"redis"`
	Journal    JournalConfig   `toml:"journal"`
	S3         S3Config        `toml:"s3"`
	Server     ServerConfig    `toml:"server"`
	Supervisor SupervisorConfig `toml:"supervisor"`
	Mode       string          `toml:"mode"`
	LogLevel   string          `toml:"log_level"`
}

// ExchangeConfig holds exchange API endpoints and credentials.
type ExchangeConfig struct {
	RestHost         string `toml:"rest_host"`
	WsHost           string `toml:"ws_host"`
	ApiKey           string `toml:"api_key"`
	ApiSecret        string `toml:"api_secret"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	RecvWindowMs     int    `toml:"recv_window_ms"`
}

// TriangleConfig names the three legs of the trading loop. Leg A trades
// base/quote, leg B trades the same base against the bridge asset, and leg C
// trades the bridge asset against leg A's quote.
type TriangleConfig struct {
	LegA string `toml:"leg_a"`
	LegB string `toml:"leg_b"`
	LegC string `toml:"leg_c"`
}

// Symbols returns the legs in order.
func (t TriangleConfig) Symbols() []string {
	return []string{t.LegA, t.LegB, t.LegC}
}

// IndicatorConfig holds indicator periods and the candle feed shape.
type IndicatorConfig struct {
	BandPeriod     int      `toml:"band_period"`
	BandStdDev     float64  `toml:"band_std_dev"`
	RocPeriod      int      `toml:"roc_period"`
	CandleInterval duration `toml:"candle_interval"`
	CandleSeed     int      `toml:"candle_seed"`
}

// WindowCap is the candle window bound: enough history for the largest
// lookback with headroom, evicted beyond that.
func (c IndicatorConfig) WindowCap() int {
	p := c.BandPeriod
	if c.RocPeriod > p {
		p = c.RocPeriod
	}
	return p * 3
}

// ArbitrageConfig holds the decision parameters.
type ArbitrageConfig struct {
	// ProfitMarginPct is the base profit margin in percent, before the band
	// modifier is applied.
	ProfitMarginPct float64 `toml:"profit_margin_pct"`
	// PriceGapPct skews limit prices toward fill: asks up, bids down.
	PriceGapPct float64 `toml:"price_gap_pct"`
	// ReferencePrice selects the per-leg reference price: "mid" or "close".
	ReferencePrice string `toml:"reference_price"`
	// SanityLow/SanityHigh bound the plausible direct/synthetic price ratio;
	// a ratio outside the band fails the cycle.
	SanityLow  float64 `toml:"sanity_low"`
	SanityHigh float64 `toml:"sanity_high"`
	// TestMode routes submissions through the validate-only endpoint.
	TestMode bool `toml:"test_mode"`
	// EmitInterval rate-limits triangle snapshot emission.
	EmitInterval duration `toml:"emit_interval"`
}

// FeedConfig holds feed reconciliation parameters.
type FeedConfig struct {
	SnapshotDepth  int `toml:"snapshot_depth"`
	TradeHistory   int `toml:"trade_history"`
	OrderHistory   int `toml:"order_history"`
}

// RedisConfig holds the optional signal-bus connection. An empty Addr
// disables Redis publishing.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// JournalConfig holds the optional PostgreSQL decision/order journal. An
// empty DSN disables the journal.
type JournalConfig struct {
	DSN          string `toml:"dsn"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
}

// S3Config holds the optional decision-log archiver target. An empty Bucket
// disables archiving.
type S3Config struct {
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	UploadInterval duration `toml:"upload_interval"`
	RetentionDays  int      `toml:"retention_days"`
}

// ServerConfig holds the read-only HTTP/WebSocket surface.
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// SupervisorConfig bounds pipeline restarts so a fatal misconfiguration is
// not masked by silent respawning.
type SupervisorConfig struct {
	MaxRestarts    int      `toml:"max_restarts"`
	RestartBackoff duration `toml:"restart_backoff"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "1h" or "500ms".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			RestHost:     "https://api.binance.com",
			WsHost:       "wss://stream.binance.com:9443",
			RecvWindowMs: 5000,
		},
		Triangle: TriangleConfig{
			LegA: "BTCUSDT",
			LegB: "BTCBUSD",
			LegC: "BUSDUSDT",
		},
		Indicator: IndicatorConfig{
			BandPeriod:     20,
			BandStdDev:     2.0,
			RocPeriod:      9,
			CandleInterval: duration{time.Hour},
			CandleSeed:     48,
		},
		Arbitrage: ArbitrageConfig{
			ProfitMarginPct: 0.1,
			PriceGapPct:     0.01,
			ReferencePrice:  "mid",
			SanityLow:       0.95,
			SanityHigh:      1.5,
			TestMode:        true,
			EmitInterval:    duration{500 * time.Millisecond},
		},
		Feed: FeedConfig{
			SnapshotDepth: 5,
			TradeHistory:  20,
			OrderHistory:  100,
		},
		Redis: RedisConfig{
			PoolSize:   10,
			MaxRetries: 3,
		},
		Journal: JournalConfig{
			PoolMaxConns: 5,
			PoolMinConns: 1,
		},
		S3: S3Config{
			Region:         "us-east-1",
			UseSSL:         true,
			ForcePathStyle: true,
			UploadInterval: duration{15 * time.Minute},
			RetentionDays:  30,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Supervisor: SupervisorConfig{
			MaxRestarts:    10,
			RestartBackoff: duration{5 * time.Second},
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validReferencePrices enumerates the accepted reference price sources.
var validReferencePrices = map[string]bool{
	"mid":   true,
	"close": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange — credentials are mandatory for trade mode; monitor mode can
	// run on public endpoints only if the account feed is not required, which
	// it is, so keys are always needed.
	if c.Exchange.RestHost == "" {
		errs = append(errs, "exchange: rest_host must not be empty")
	}
	if c.Exchange.WsHost == "" {
		errs = append(errs, "exchange: ws_host must not be empty")
	}
	if c.Exchange.ApiKey == "" {
		errs = append(errs, "exchange: api_key must not be empty")
	}
	if c.Exchange.ApiSecret == "" && c.Exchange.EncryptedKeyPath == "" {
		errs = append(errs, "exchange: either api_secret or encrypted_key_path must be set")
	}
	if c.Exchange.EncryptedKeyPath != "" && c.Exchange.KeyPassword == "" {
		errs = append(errs, "exchange: key_password is required when encrypted_key_path is set")
	}
	if c.Exchange.RecvWindowMs <= 0 {
		errs = append(errs, "exchange: recv_window_ms must be > 0")
	}

	// Triangle
	legs := c.Triangle.Symbols()
	seen := map[string]bool{}
	for i, leg := range legs {
		if leg == "" {
			errs = append(errs, fmt.Sprintf("triangle: leg_%c must not be empty", 'a'+i))
			continue
		}
		if seen[leg] {
			errs = append(errs, fmt.Sprintf("triangle: duplicate symbol %q", leg))
		}
		seen[leg] = true
	}

	// Indicator
	if c.Indicator.BandPeriod < 2 {
		errs = append(errs, "indicator: band_period must be >= 2")
	}
	if c.Indicator.BandStdDev <= 0 {
		errs = append(errs, "indicator: band_std_dev must be > 0")
	}
	if c.Indicator.RocPeriod < 1 {
		errs = append(errs, "indicator: roc_period must be >= 1")
	}
	if c.Indicator.CandleInterval.Duration <= 0 {
		errs = append(errs, "indicator: candle_interval must be > 0")
	}
	if c.Indicator.CandleSeed < c.Indicator.BandPeriod {
		errs = append(errs, "indicator: candle_seed must cover band_period")
	}

	// Arbitrage
	if c.Arbitrage.ProfitMarginPct <= 0 {
		errs = append(errs, "arbitrage: profit_margin_pct must be > 0")
	}
	if c.Arbitrage.PriceGapPct < 0 {
		errs = append(errs, "arbitrage: price_gap_pct must be >= 0")
	}
	if !validReferencePrices[c.Arbitrage.ReferencePrice] {
		errs = append(errs, fmt.Sprintf("arbitrage: unknown reference_price %q (valid: mid, close)", c.Arbitrage.ReferencePrice))
	}
	if c.Arbitrage.SanityLow <= 0 || c.Arbitrage.SanityHigh <= c.Arbitrage.SanityLow {
		errs = append(errs, "arbitrage: sanity band must satisfy 0 < sanity_low < sanity_high")
	}
	if c.Arbitrage.EmitInterval.Duration <= 0 {
		errs = append(errs, "arbitrage: emit_interval must be > 0")
	}

	// Feed
	if c.Feed.SnapshotDepth < 1 {
		errs = append(errs, "feed: snapshot_depth must be >= 1")
	}
	if c.Feed.TradeHistory < 1 {
		errs = append(errs, "feed: trade_history must be >= 1")
	}
	if c.Feed.OrderHistory < 1 {
		errs = append(errs, "feed: order_history must be >= 1")
	}

	// Journal
	if c.Journal.DSN != "" {
		if c.Journal.PoolMaxConns < 1 {
			errs = append(errs, "journal: pool_max_conns must be >= 1")
		}
		if c.Journal.PoolMinConns < 0 || c.Journal.PoolMinConns > c.Journal.PoolMaxConns {
			errs = append(errs, "journal: pool_min_conns must be 0..pool_max_conns")
		}
	}

	// S3
	if c.S3.Bucket != "" {
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when bucket is set")
		}
		if c.S3.UploadInterval.Duration <= 0 {
			errs = append(errs, "s3: upload_interval must be > 0")
		}
		if c.S3.RetentionDays < 0 {
			errs = append(errs, "s3: retention_days must be >= 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Supervisor
	if c.Supervisor.MaxRestarts < 0 {
		errs = append(errs, "supervisor: max_restarts must be >= 0")
	}
	if c.Supervisor.RestartBackoff.Duration <= 0 {
		errs = append(errs, "supervisor: restart_backoff must be > 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
