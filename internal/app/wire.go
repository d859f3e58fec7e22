package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "papertrader/internal/blob/s3"
	"papertrader/internal/cache/redis"
	"papertrader/internal/config"
	"papertrader/internal/domain"
	"papertrader/internal/engine"
	"papertrader/internal/notify"
	"papertrader/internal/oracle"
	"papertrader/internal/poller"
	"papertrader/internal/server/ws"
	"papertrader/internal/service"
	"papertrader/internal/store"
	"papertrader/internal/store/postgres"
)

const providerTimeout = 10 * time.Second

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	S3          *s3blob.Client
	Gateway     *store.Gateway
	Oracle      *oracle.Oracle
	Engine      *engine.Engine
	Journal     domain.TradeJournal // nil when postgres is not configured
	Notifier    *notify.Notifier
	Hub         *ws.Hub
	Coordinator *poller.Coordinator
	Intake      *service.IntakeService
	Stats       *service.StatsService
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

	deps := &Dependencies{}

	// --- S3 document store ---
	s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
		Endpoint:       cfg.S3.Endpoint,
		Region:         cfg.S3.Region,
		Bucket:         cfg.S3.Bucket,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretKey,
		UseSSL:         cfg.S3.UseSSL,
		ForcePathStyle: cfg.S3.ForcePathStyle,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: s3: %w", err)
	}
	deps.S3 = s3Client

	portfolioCfg := domain.PortfolioConfig{
		PositionSize:    cfg.Portfolio.PositionSize,
		MinScore:        cfg.Portfolio.MinScore,
		TrailActivation: cfg.Portfolio.TrailActivation,
		TrailDistance:   cfg.Portfolio.TrailDistance,
		StopLoss:        cfg.Portfolio.StopLoss,
		HistoryLimit:    cfg.Portfolio.HistoryLimit,
	}
	deps.Gateway = store.NewGateway(
		s3blob.NewDocStore(s3Client),
		cfg.S3.PointerKey,
		cfg.S3.Prefix,
		portfolioCfg,
		logger,
	)

	// --- Redis quote cache (optional) ---
	var quoteCache domain.PriceCache
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		quoteCache = redis.NewQuoteCache(redisClient)
	}

	// --- Price oracle ---
	primary := oracle.NewDexscreenerClient(
		cfg.Oracle.DexscreenerURL,
		providerTimeout,
		cfg.Oracle.ChunkSize,
		cfg.Oracle.ChunkDelay.Duration,
		logger,
	)
	secondary := oracle.NewGeckoTerminalClient(
		cfg.Oracle.GeckoTerminalURL,
		providerTimeout,
		cfg.Oracle.Networks,
		logger,
	)
	deps.Oracle = oracle.New(primary, secondary, quoteCache, cfg.Oracle.CacheTTL.Duration, logger)

	// --- Trade journal (optional) ---
	if cfg.Postgres.DSN != "" {
		journal, err := postgres.NewJournal(ctx, cfg.Postgres.DSN)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, journal.Close)
		deps.Journal = journal
	}

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
	deps.Notifier = notify.New(senders, cfg.Notify.Events, logger)

	// --- Event hub, engine, coordinator, services ---
	deps.Hub = ws.NewHub(logger)
	deps.Engine = engine.New(logger)

	deps.Coordinator = poller.New(
		deps.Gateway,
		deps.Oracle,
		deps.Engine,
		deps.Notifier,
		deps.Journal,
		deps.Hub,
		poller.Config{
			Iterations: cfg.Poll.Iterations,
			CycleDelay: cfg.Poll.CycleDelay.Duration,
		},
		logger,
	)

	deps.Intake = service.NewIntakeService(deps.Gateway, deps.Oracle, deps.Engine, deps.Notifier, deps.Hub, logger)
	deps.Stats = service.NewStatsService(deps.Gateway, deps.Engine, deps.Notifier, logger)

	return deps, cleanup, nil
}
