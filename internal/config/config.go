// Package config defines the top-level configuration for the arbitrage
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CEXARB_* environment variables.
type Config struct {
	Redis     RedisConfig            `toml:"redis"`
	Postgres  PostgresConfig         `toml:"postgres"`
	Trading   TradingConfig          `toml:"trading"`
	Engine    EngineConfig           `toml:"engine"`
	Reconcile ReconcileConfig        `toml:"reconcile"`
	Venues    map[string]VenueConfig `toml:"venues"`
	Notify    NotifyConfig           `toml:"notify"`
	Telemetry TelemetryConfig        `toml:"telemetry"`
	Mode      string                 `toml:"mode"`
	LogLevel  string                 `toml:"log_level"`
}

// RedisConfig holds Redis (or Dragonfly) connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds PostgreSQL connection parameters for the execution
// history store.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
	Enabled       bool   `toml:"enabled"`
}

// VenueConfig holds per-exchange API credentials and endpoints. The map key
// under [venues.*] is the venue name as used everywhere else ("binance",
// "hyperliquid", "paper").
type VenueConfig struct {
	Enabled    bool   `toml:"enabled"`
	Driver     string `toml:"driver"`
	ApiKey     string `toml:"api_key"`
	ApiSecret  string `toml:"api_secret"`
	BaseURL    string `toml:"base_url"`
	WsURL      string `toml:"ws_url"`
	WalletAddr string `toml:"wallet_addr"`
	PrivateKey string `toml:"private_key"`
	Testnet    bool   `toml:"testnet"`
}

// TradingConfig holds the spread strategy parameters.
type TradingConfig struct {
	Symbol     string  `toml:"symbol"`
	VenueA     string  `toml:"venue_a"`
	VenueB     string  `toml:"venue_b"`
	Margin     float64 `toml:"margin"`
	Leverage   int     `toml:"leverage"`
	MarginMode string  `toml:"margin_mode"`
	// Parts splits the total position into this many sequential tranches.
	Parts        int     `toml:"parts"`
	MinSpreadPct float64 `toml:"min_spread_pct"`
	TargetROIPct float64 `toml:"target_roi_pct"`
	StopLossPct  float64 `toml:"stop_loss_pct"`
	// PeakHold enables the passive requote accumulation mode instead of
	// immediate spread-taking.
	PeakHold       bool     `toml:"peak_hold"`
	PeakHoldWindow duration `toml:"peak_hold_window"`
	ScanInterval   duration `toml:"scan_interval"`
	CloseInterval  duration `toml:"close_interval"`
}

// EngineConfig holds the dual-leg execution timeouts. The two wait stages and
// their poll cadences drive the passive, repriced, then market escalation.
type EngineConfig struct {
	PassiveWait     duration `toml:"passive_wait"`
	PassivePoll     duration `toml:"passive_poll"`
	RepriceWait     duration `toml:"reprice_wait"`
	RepricePoll     duration `toml:"reprice_poll"`
	CancelRetryWait duration `toml:"cancel_retry_wait"`
	FillStale       duration `toml:"fill_stale"`
	// MinQty is the dust threshold: remainders at or below it are not worth
	// another order.
	MinQty float64 `toml:"min_qty"`
}

// ReconcileConfig holds the post-trade position verification tolerances.
type ReconcileConfig struct {
	// AbsTolerance is the per-leg quantity delta below which a mismatch is
	// logged and otherwise ignored.
	AbsTolerance float64 `toml:"abs_tolerance"`
	// FailFraction of the tranche quantity above which a mismatch blocks the
	// next tranche.
	FailFraction float64 `toml:"fail_fraction"`
	// ResidualMin is the smallest position remainder worth flattening after a
	// close cycle.
	ResidualMin float64 `toml:"residual_min"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// TelemetryConfig holds the Redis pub/sub telemetry channel settings.
type TelemetryConfig struct {
	Enabled bool   `toml:"enabled"`
	Channel string `toml:"channel"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
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
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "cexarb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
			Enabled:       false,
		},
		Trading: TradingConfig{
			Symbol:         "ETH-USDT",
			VenueA:         "binance",
			VenueB:         "hyperliquid",
			Margin:         100.0,
			Leverage:       3,
			MarginMode:     "cross",
			Parts:          4,
			MinSpreadPct:   0.26,
			TargetROIPct:   0.5,
			StopLossPct:    -1.0,
			PeakHold:       false,
			PeakHoldWindow: duration{30 * time.Second},
			ScanInterval:   duration{100 * time.Millisecond},
			CloseInterval:  duration{1 * time.Second},
		},
		Engine: EngineConfig{
			PassiveWait:     duration{3 * time.Second},
			PassivePoll:     duration{200 * time.Millisecond},
			RepriceWait:     duration{2 * time.Second},
			RepricePoll:     duration{100 * time.Millisecond},
			CancelRetryWait: duration{100 * time.Millisecond},
			FillStale:       duration{2 * time.Second},
			MinQty:          0.001,
		},
		Reconcile: ReconcileConfig{
			AbsTolerance: 0.01,
			FailFraction: 0.10,
			ResidualMin:  0.001,
		},
		Venues: map[string]VenueConfig{},
		Notify: NotifyConfig{
			Events: []string{"trade_opened", "position_closed", "emergency_balance", "trading_halted"},
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
			Channel: "cexarb:telemetry",
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"close":   true,
	"monitor": true,
	"flatten": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, close, monitor, flatten)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must be set")
	}

	if c.Postgres.Enabled && c.Postgres.DSN == "" && (c.Postgres.Host == "" || c.Postgres.Database == "") {
		errs = append(errs, "postgres: dsn or host+database must be set when enabled")
	}

	if c.Trading.Symbol == "" {
		errs = append(errs, "trading: symbol must be set")
	}
	if c.Trading.VenueA == "" || c.Trading.VenueB == "" {
		errs = append(errs, "trading: venue_a and venue_b must both be set")
	}
	if c.Trading.VenueA == c.Trading.VenueB {
		errs = append(errs, "trading: venue_a and venue_b must differ")
	}
	if c.Trading.Margin <= 0 {
		errs = append(errs, fmt.Sprintf("trading: margin must be positive, got %v", c.Trading.Margin))
	}
	if c.Trading.Leverage < 1 {
		errs = append(errs, fmt.Sprintf("trading: leverage must be >= 1, got %d", c.Trading.Leverage))
	}
	if c.Trading.Parts < 1 {
		errs = append(errs, fmt.Sprintf("trading: parts must be >= 1, got %d", c.Trading.Parts))
	}
	if c.Trading.MinSpreadPct <= 0 {
		errs = append(errs, fmt.Sprintf("trading: min_spread_pct must be positive, got %v", c.Trading.MinSpreadPct))
	}
	if c.Trading.StopLossPct >= 0 {
		errs = append(errs, fmt.Sprintf("trading: stop_loss_pct must be negative, got %v", c.Trading.StopLossPct))
	}

	// Trading modes need both configured venues enabled.
	needsVenues := c.Mode == "trade" || c.Mode == "close" || c.Mode == "flatten"
	if needsVenues {
		for _, name := range []string{c.Trading.VenueA, c.Trading.VenueB} {
			vc, ok := c.Venues[name]
			if !ok {
				errs = append(errs, fmt.Sprintf("venues: missing section [venues.%s] for mode %s", name, c.Mode))
				continue
			}
			if !vc.Enabled {
				errs = append(errs, fmt.Sprintf("venues: %s must be enabled for mode %s", name, c.Mode))
			}
		}
	}

	if c.Engine.PassiveWait.Duration <= 0 || c.Engine.RepriceWait.Duration <= 0 {
		errs = append(errs, "engine: passive_wait and reprice_wait must be positive")
	}
	if c.Engine.PassivePoll.Duration <= 0 || c.Engine.RepricePoll.Duration <= 0 {
		errs = append(errs, "engine: passive_poll and reprice_poll must be positive")
	}
	if c.Engine.FillStale.Duration <= 0 {
		errs = append(errs, "engine: fill_stale must be positive")
	}
	if c.Engine.MinQty < 0 {
		errs = append(errs, fmt.Sprintf("engine: min_qty must be non-negative, got %v", c.Engine.MinQty))
	}

	if c.Reconcile.AbsTolerance < 0 {
		errs = append(errs, "reconcile: abs_tolerance must be non-negative")
	}
	if c.Reconcile.FailFraction <= 0 || c.Reconcile.FailFraction > 1 {
		errs = append(errs, fmt.Sprintf("reconcile: fail_fraction must be in (0, 1], got %v", c.Reconcile.FailFraction))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// VenueFor returns the configuration for a named venue.
func (c *Config) VenueFor(name string) (VenueConfig, bool) {
	vc, ok := c.Venues[name]
	return vc, ok
}
