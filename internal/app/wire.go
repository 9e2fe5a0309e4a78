package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/gabagool/updownbot/internal/blob/s3"
	"github.com/gabagool/updownbot/internal/cache/redis"
	"github.com/gabagool/updownbot/internal/config"
	"github.com/gabagool/updownbot/internal/crypto"
	"github.com/gabagool/updownbot/internal/detector"
	"github.com/gabagool/updownbot/internal/domain"
	"github.com/gabagool/updownbot/internal/executor"
	"github.com/gabagool/updownbot/internal/ledger"
	"github.com/gabagool/updownbot/internal/lifecycle"
	"github.com/gabagool/updownbot/internal/notify"
	"github.com/gabagool/updownbot/internal/platform/polymarket"
	"github.com/gabagool/updownbot/internal/quote"
	"github.com/gabagool/updownbot/internal/store/postgres"
	"github.com/gabagool/updownbot/internal/telemetry"
	"github.com/gabagool/updownbot/internal/worker"
)

// leaderLockTTL is the Redis leadership lock lifetime. The lock guards
// against two bot instances trading the same wallet concurrently.
const leaderLockTTL = 5 * time.Minute

// Dependencies bundles everything the trading loop needs. It is constructed
// by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Signer  *crypto.Signer
	Gamma   *polymarket.GammaClient
	Feed    *polymarket.Feed
	Gateway *polymarket.Gateway

	Lifecycle  *lifecycle.Manager
	Monitor    *quote.Monitor
	Ledger     *ledger.Ledger
	Detector   *detector.Detector
	Executor   *executor.Coordinator
	Supervisor *worker.Supervisor

	Journal  *postgres.Journal  // nil when postgres is disabled
	Archiver *s3blob.Archiver   // nil when s3 is disabled
	LockMgr  *redis.LockManager // nil when redis is disabled
	Notifier *notify.Notifier
	Sink     domain.EventSink
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// --- Wallet ---
	privateKey, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: load key: %w", err))
	}
	deps.Signer, err = crypto.NewSigner(privateKey, cfg.Polymarket.ChainID)
	if err != nil {
		return fail(fmt.Errorf("wire: signer: %w", err))
	}

	// --- PostgreSQL journal (optional) ---
	var journal domain.Journal
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.Config{
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
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		deps.Journal = postgres.NewJournal(pgClient.Pool())
		journal = deps.Journal
	}

	// --- Redis (optional): leadership lock, event bus, quote mirror ---
	var bus telemetry.Publisher
	var quoteCache domain.QuoteCache
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.Config{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.LockMgr = redis.NewLockManager(redisClient)
		release, err := deps.LockMgr.Acquire(ctx, "leader:"+cfg.Trading.AssetClass, leaderLockTTL)
		if err != nil {
			return fail(fmt.Errorf("wire: leadership lock: %w", err))
		}
		closers = append(closers, release)

		bus = redis.NewEventBus(redisClient)
		quoteCache = redis.NewQuoteCache(redisClient)
	}

	deps.Sink = telemetry.NewEmitter(logger, bus)

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

	// --- Exchange adapters ---
	deps.Gamma = polymarket.NewGammaClient(cfg.Polymarket.GammaHost)
	deps.Feed = polymarket.NewFeed(cfg.Polymarket.WsHost+"/ws/market", logger)
	closers = append(closers, func() { _ = deps.Feed.Close() })

	// --- Trading core ---
	limits := domain.RiskLimits{
		MaxPairCost:      cfg.Trading.MaxPairCost,
		MaxTradeNotional: cfg.Trading.MaxTradeNotional,
		MaxTotalExposure: cfg.Trading.MaxTotalExposure,
		MinProfitTarget:  cfg.Trading.MinProfitTarget,
	}
	deps.Ledger = ledger.New(limits, logger)
	deps.Detector = detector.New(limits)

	deps.Lifecycle = lifecycle.NewManager(deps.Gamma, deps.Sink, lifecycle.Config{
		AssetClass:        cfg.Trading.AssetClass,
		WindowDuration:    cfg.Trading.WindowDuration.Duration,
		ClosingMargin:     cfg.Trading.ClosingMargin.Duration,
		DiscoveryInterval: cfg.Trading.DiscoveryInterval.Duration,
		MinRemaining:      cfg.Trading.MinRemaining.Duration,
	}, logger)

	deps.Gateway = polymarket.NewGateway(
		cfg.Polymarket.ClobHost,
		cfg.Polymarket.WsHost+"/ws/user",
		deps.Signer,
		deps.Lifecycle,
		logger,
	)
	closers = append(closers, func() { _ = deps.Gateway.Close() })

	deps.Monitor = quote.NewMonitor(deps.Feed, quoteCache, cfg.Trading.QuoteStaleTimeout.Duration, logger)

	deps.Executor = executor.New(deps.Gateway, deps.Ledger, journal, deps.Sink, deps.Notifier, executor.Config{
		ValidityWindow:   cfg.Executor.ValidityWindow.Duration,
		MaxSubmitRetries: cfg.Executor.MaxSubmitRetries,
		RetryBackoff:     cfg.Executor.RetryBackoff.Duration,
	}, logger)

	deps.Supervisor = worker.NewSupervisor(
		deps.Lifecycle,
		deps.Monitor,
		deps.Ledger,
		deps.Detector,
		deps.Executor,
		journal,
		deps.Sink,
		logger,
	)

	// --- S3 archival (optional, needs the journal as its source) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.Config{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Journal, logger)
	}

	return deps, cleanup, nil
}
