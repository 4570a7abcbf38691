package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/oskarw/simtrader/internal/blob/s3"
	"github.com/oskarw/simtrader/internal/cache/redis"
	"github.com/oskarw/simtrader/internal/config"
	"github.com/oskarw/simtrader/internal/notify"
	"github.com/oskarw/simtrader/internal/strategy"
	"github.com/oskarw/simtrader/internal/telemetry"
)

// Dependencies bundles the shared services the operating modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Metrics *telemetry.Metrics

	// Stream is the durable Redis event stream; nil when no redis addr is
	// configured.
	Stream *redis.EventStream

	// Notifier pushes selected events to Telegram/Discord; nil when no
	// sender credentials are configured.
	Notifier *notify.Notifier

	// Archiver uploads the run's event log to object storage at session
	// end; nil when archiving is disabled.
	Archiver *s3blob.RunArchiver

	Strategies *strategy.Registry
}

// Wire constructs the concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Metrics: telemetry.New(),
	}

	// --- Redis event stream (only when an address is configured) ---
	if cfg.Redis.Addr != "" {
		client, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = client.Close() })

		stream := redis.NewEventStream(client, cfg.Redis.StreamPrefix, cfg.Redis.StreamMaxLen, logger)
		closers = append(closers, stream.Close)
		deps.Stream = stream
	}

	// --- Notifications (only when credentials are present) ---
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
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	// --- Run archive (only when object storage is configured) ---
	if cfg.Archive.Enabled {
		s3c, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.Archive.Endpoint,
			Region:         cfg.Archive.Region,
			Bucket:         cfg.Archive.Bucket,
			AccessKey:      cfg.Archive.AccessKey,
			SecretKey:      cfg.Archive.SecretKey,
			UseSSL:         cfg.Archive.UseSSL,
			ForcePathStyle: cfg.Archive.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3c.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewRunArchiver(s3blob.NewWriter(s3c), cfg.Archive.Prefix, logger)
	}

	deps.Strategies = newStrategyRegistry(cfg)

	return deps, cleanup, nil
}

// newStrategyRegistry registers every built-in strategy under its name.
func newStrategyRegistry(cfg *config.Config) *strategy.Registry {
	reg := strategy.NewRegistry()
	reg.Register("stepper", strategy.NewStepper(
		cfg.Strategy.TradeInterval,
		cfg.Strategy.OrderQty,
		cfg.Strategy.MaxInventory,
	))
	reg.Register("idle", strategy.NewIdle())
	return reg
}
