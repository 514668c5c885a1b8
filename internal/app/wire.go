package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/avelin/cexarb/internal/cache/memory"
	"github.com/avelin/cexarb/internal/cache/redis"
	"github.com/avelin/cexarb/internal/config"
	"github.com/avelin/cexarb/internal/domain"
	"github.com/avelin/cexarb/internal/exchange"
	"github.com/avelin/cexarb/internal/exchange/binance"
	"github.com/avelin/cexarb/internal/exchange/hyperliquid"
	"github.com/avelin/cexarb/internal/exchange/paper"
	"github.com/avelin/cexarb/internal/execution"
	"github.com/avelin/cexarb/internal/notify"
	"github.com/avelin/cexarb/internal/store/postgres"
	"github.com/avelin/cexarb/internal/telemetry"
	"github.com/avelin/cexarb/internal/tracker"
)

// Dependencies bundles everything the application modes need to operate. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Shared stores
	Books   domain.BookStore
	Orders  domain.OrderRecordStore
	Locks   domain.LockManager
	Bus     domain.SignalBus
	History domain.ExecutionStore // nil unless postgres is enabled

	// Venues and market data plumbing
	Pool      *exchange.Pool
	Fills     *tracker.FillTracker
	Telemetry *telemetry.Publisher

	// Trading
	Engine *execution.Engine
	Recon  *execution.Reconciler

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	// Books sit on the feed hot path, so reads come from the in-process store
	// and Redis is kept current as a best-effort mirror.
	deps.Books = memory.NewFastBookStore(redis.NewBookCache(redisClient))
	deps.Orders = redis.NewOrderCache(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)
	deps.Bus = redis.NewSignalBus(redisClient)

	// --- PostgreSQL execution history (optional) ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		deps.History = postgres.NewExecutionStore(pgClient.Pool())
	}

	// --- Venues ---
	deps.Pool = exchange.NewPool(logger)
	for name, vc := range cfg.Venues {
		if !vc.Enabled {
			continue
		}
		client, err := buildVenue(name, vc, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: venue %s: %w", name, err)
		}
		if err := deps.Pool.Register(client); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: venue %s: %w", name, err)
		}
	}
	if err := deps.Pool.ConnectAll(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: connect venues: %w", err)
	}
	closers = append(closers, func() { _ = deps.Pool.CloseAll() })

	// --- Fill tracking and telemetry ---
	deps.Fills = tracker.New(cfg.Engine.FillStale.Duration, logger)
	deps.Telemetry = telemetry.New(deps.Bus, cfg.Telemetry.Channel, cfg.Telemetry.Enabled, logger)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Execution ---
	deps.Engine = execution.New(
		deps.Pool,
		deps.Books,
		deps.Orders,
		deps.Fills,
		deps.Telemetry,
		deps.History,
		deps.Notifier,
		execution.Config{
			PassiveWait:     cfg.Engine.PassiveWait.Duration,
			PassivePoll:     cfg.Engine.PassivePoll.Duration,
			RepriceWait:     cfg.Engine.RepriceWait.Duration,
			RepricePoll:     cfg.Engine.RepricePoll.Duration,
			CancelRetryWait: cfg.Engine.CancelRetryWait.Duration,
			MinQty:          cfg.Engine.MinQty,
		},
		logger,
	)
	deps.Recon = execution.NewReconciler(deps.Pool, execution.ReconcileConfig{
		AbsTolerance: cfg.Reconcile.AbsTolerance,
		FailFraction: cfg.Reconcile.FailFraction,
		ResidualMin:  cfg.Reconcile.ResidualMin,
	}, logger)

	return deps, cleanup, nil
}

// buildVenue constructs one exchange adapter from its config section. The
// driver defaults to the section name, so [venues.binance] needs no explicit
// driver line.
func buildVenue(name string, vc config.VenueConfig, logger *slog.Logger) (domain.ExchangeClient, error) {
	driver := strings.ToLower(vc.Driver)
	if driver == "" {
		driver = strings.ToLower(name)
	}

	switch driver {
	case "binance":
		return binance.New(binance.Config{
			Name:    name,
			BaseURL: vc.BaseURL,
			WsURL:   vc.WsURL,
			ApiKey:  vc.ApiKey,
			Secret:  vc.ApiSecret,
		}, logger), nil
	case "hyperliquid":
		signer, err := hyperliquid.NewLocalSigner(vc.PrivateKey, vc.Testnet)
		if err != nil {
			return nil, fmt.Errorf("signer: %w", err)
		}
		return hyperliquid.New(hyperliquid.Config{
			Name:    name,
			BaseURL: vc.BaseURL,
			WsURL:   vc.WsURL,
			Signer:  signer,
		}, logger), nil
	case "paper":
		return paper.New(name), nil
	default:
		return nil, fmt.Errorf("unknown driver %q", vc.Driver)
	}
}
