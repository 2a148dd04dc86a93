package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/moonwave/sms/internal/config"
	"github.com/moonwave/sms/internal/dedup"
	"github.com/moonwave/sms/internal/metrics"
	"github.com/moonwave/sms/internal/notify"
	"github.com/moonwave/sms/internal/repository"
	"github.com/moonwave/sms/internal/security"
	"github.com/moonwave/sms/internal/worker/reminder"
)

// engine はリマインダー実行に必要な依存関係をまとめたもの。
type engine struct {
	subscriptions *repository.PostgresSubscriptionRepo
	dedup         *dedup.Deduplicator
	driver        *reminder.Driver
	// pruner は保持期間による削除に対応するストアの場合のみ設定される（RedisはTTLで失効する）
	pruner  repository.ReminderRecordPruner
	closers []func()
}

// Close はストアや送信先の接続を閉じる。
func (e *engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// buildEngine は設定に従ってストア・送信先・Driverを組み立てる。
func buildEngine(ctx context.Context, cfg *config.Config, db *sql.DB, mc metrics.MetricsCollector, logger *slog.Logger) (*engine, error) {
	e := &engine{
		subscriptions: repository.NewPostgresSubscriptionRepo(db, cfg.PageSize),
	}

	store, err := e.buildStore(ctx, cfg, db, logger)
	if err != nil {
		e.Close()
		return nil, err
	}

	sink, err := e.buildSink(cfg, logger)
	if err != nil {
		e.Close()
		return nil, err
	}

	e.dedup = dedup.New(store, dedup.Options{
		CallTimeout:  cfg.CallTimeout,
		ReadAttempts: cfg.ReadAttempts,
		RetryDelay:   cfg.ReadRetryDelay,
	}, logger)

	e.driver = reminder.NewDriver(e.subscriptions, e.dedup, sink, mc, logger, reminder.Options{
		Concurrency:  cfg.WorkerConcurrency,
		CallTimeout:  cfg.CallTimeout,
		ReadAttempts: cfg.ReadAttempts,
		RetryDelay:   cfg.ReadRetryDelay,
	})
	return e, nil
}

// buildStore はDEDUP_BACKENDに対応するリマインダー記録ストアを生成する。
func (e *engine) buildStore(ctx context.Context, cfg *config.Config, db *sql.DB, logger *slog.Logger) (repository.ReminderRecordStore, error) {
	switch cfg.DedupBackend {
	case config.BackendRedis:
		client, err := repository.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		e.closers = append(e.closers, func() { client.Close() })
		logger.Info("reminder record store: redis", slog.Duration("ttl", cfg.RecordTTL))
		return repository.NewRedisReminderRepo(client, cfg.RecordTTL), nil

	case config.BackendMemory:
		// 単一プロセスの検証用。再起動で記録が消えるため本番では使用しない
		logger.Warn("reminder record store: memory (records are lost on restart)")
		store := repository.NewMemoryReminderRepo()
		e.pruner = store
		return store, nil

	default:
		logger.Info("reminder record store: postgres")
		store := repository.NewPostgresReminderRepo(db)
		e.pruner = store
		return store, nil
	}
}

// buildSink はSINKに対応する通知の送信先を生成し、レート制限でラップする。
func (e *engine) buildSink(cfg *config.Config, logger *slog.Logger) (notify.Sink, error) {
	var sink notify.Sink

	switch cfg.Sink {
	case config.SinkWebhook:
		guard := security.NewEgressGuard()
		if err := guard.ValidateURL(cfg.WebhookURL); err != nil {
			return nil, fmt.Errorf("WEBHOOK_URL is not allowed: %w", err)
		}
		sink = notify.NewWebhookSink(cfg.WebhookURL, cfg.WebhookSecret, guard.NewSafeClient(cfg.CallTimeout))
		logger.Info("notification sink: webhook", slog.String("url", cfg.WebhookURL))

	case config.SinkNATS:
		conn, err := notify.ConnectNATS(cfg.NATSURL, "moonwave")
		if err != nil {
			return nil, fmt.Errorf("failed to connect to nats: %w", err)
		}
		e.closers = append(e.closers, func() {
			if err := conn.Drain(); err != nil {
				conn.Close()
			}
		})
		sink = notify.NewNATSSink(conn, cfg.NATSSubject)
		logger.Info("notification sink: nats", slog.String("subject", cfg.NATSSubject))

	default:
		sink = notify.NewLogSink(logger)
		logger.Info("notification sink: log")
	}

	return notify.NewRateLimitedSink(sink, cfg.SinkRatePerSec, cfg.SinkBurst), nil
}
