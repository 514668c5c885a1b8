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
// built-in defaults, applies CEXARB_* environment variable overrides, and
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

// applyEnvOverrides reads well-known CEXARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CEXARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CEXARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CEXARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CEXARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CEXARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CEXARB_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "CEXARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CEXARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CEXARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CEXARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CEXARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CEXARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CEXARB_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CEXARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CEXARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CEXARB_POSTGRES_RUN_MIGRATIONS")
	setBool(&cfg.Postgres.Enabled, "CEXARB_POSTGRES_ENABLED")

	// ── Trading ──
	setStr(&cfg.Trading.Symbol, "CEXARB_TRADING_SYMBOL")
	setStr(&cfg.Trading.VenueA, "CEXARB_TRADING_VENUE_A")
	setStr(&cfg.Trading.VenueB, "CEXARB_TRADING_VENUE_B")
	setFloat64(&cfg.Trading.Margin, "CEXARB_TRADING_MARGIN")
	setInt(&cfg.Trading.Leverage, "CEXARB_TRADING_LEVERAGE")
	setStr(&cfg.Trading.MarginMode, "CEXARB_TRADING_MARGIN_MODE")
	setInt(&cfg.Trading.Parts, "CEXARB_TRADING_PARTS")
	setFloat64(&cfg.Trading.MinSpreadPct, "CEXARB_TRADING_MIN_SPREAD_PCT")
	setFloat64(&cfg.Trading.TargetROIPct, "CEXARB_TRADING_TARGET_ROI_PCT")
	setFloat64(&cfg.Trading.StopLossPct, "CEXARB_TRADING_STOP_LOSS_PCT")
	setBool(&cfg.Trading.PeakHold, "CEXARB_TRADING_PEAK_HOLD")
	setDuration(&cfg.Trading.PeakHoldWindow, "CEXARB_TRADING_PEAK_HOLD_WINDOW")
	setDuration(&cfg.Trading.ScanInterval, "CEXARB_TRADING_SCAN_INTERVAL")
	setDuration(&cfg.Trading.CloseInterval, "CEXARB_TRADING_CLOSE_INTERVAL")

	// ── Engine ──
	setDuration(&cfg.Engine.PassiveWait, "CEXARB_ENGINE_PASSIVE_WAIT")
	setDuration(&cfg.Engine.PassivePoll, "CEXARB_ENGINE_PASSIVE_POLL")
	setDuration(&cfg.Engine.RepriceWait, "CEXARB_ENGINE_REPRICE_WAIT")
	setDuration(&cfg.Engine.RepricePoll, "CEXARB_ENGINE_REPRICE_POLL")
	setDuration(&cfg.Engine.CancelRetryWait, "CEXARB_ENGINE_CANCEL_RETRY_WAIT")
	setDuration(&cfg.Engine.FillStale, "CEXARB_ENGINE_FILL_STALE")
	setFloat64(&cfg.Engine.MinQty, "CEXARB_ENGINE_MIN_QTY")

	// ── Reconcile ──
	setFloat64(&cfg.Reconcile.AbsTolerance, "CEXARB_RECONCILE_ABS_TOLERANCE")
	setFloat64(&cfg.Reconcile.FailFraction, "CEXARB_RECONCILE_FAIL_FRACTION")
	setFloat64(&cfg.Reconcile.ResidualMin, "CEXARB_RECONCILE_RESIDUAL_MIN")

	// ── Venues ──
	// Per-venue secrets follow CEXARB_VENUE_<NAME>_API_KEY etc. The venue must
	// already exist in the TOML file; env vars only override credentials.
	for name, vc := range cfg.Venues {
		prefix := "CEXARB_VENUE_" + strings.ToUpper(name) + "_"
		setStr(&vc.ApiKey, prefix+"API_KEY")
		setStr(&vc.ApiSecret, prefix+"API_SECRET")
		setStr(&vc.BaseURL, prefix+"BASE_URL")
		setStr(&vc.WsURL, prefix+"WS_URL")
		setStr(&vc.WalletAddr, prefix+"WALLET_ADDR")
		setStr(&vc.PrivateKey, prefix+"PRIVATE_KEY")
		setBool(&vc.Enabled, prefix+"ENABLED")
		setBool(&vc.Testnet, prefix+"TESTNET")
		cfg.Venues[name] = vc
	}

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CEXARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CEXARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CEXARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CEXARB_NOTIFY_EVENTS")

	// ── Telemetry ──
	setBool(&cfg.Telemetry.Enabled, "CEXARB_TELEMETRY_ENABLED")
	setStr(&cfg.Telemetry.Channel, "CEXARB_TELEMETRY_CHANNEL")

	// ── Top-level ──
	setStr(&cfg.Mode, "CEXARB_MODE")
	setStr(&cfg.LogLevel, "CEXARB_LOG_LEVEL")
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
		if b, err := strconv.ParseBool(v); err == nil {
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

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				cleaned = append(cleaned, s)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
