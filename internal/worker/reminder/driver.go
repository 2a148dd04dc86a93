// Package reminder はリマインダー実行（Scheduler Driver）とその起動トリガーを提供する。
//
// RunOnceは1回きりのバッチ処理で、実行間の状態を持たない。
// 永続的な状態はすべてリマインダー記録ストアにあり、同じ日付で何度実行しても
// 同じリマインダーが二度送られることはない。
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moonwave/sms/internal/calendar"
	"github.com/moonwave/sms/internal/metrics"
	"github.com/moonwave/sms/internal/model"
	"github.com/moonwave/sms/internal/notify"
	policy "github.com/moonwave/sms/internal/reminder"
	"github.com/moonwave/sms/internal/repository"
	"github.com/moonwave/sms/internal/retry"
)

// Deduplicator は発行済み判定と記録のインターフェース。dedup.Deduplicatorが満たす。
type Deduplicator interface {
	AlreadyIssued(ctx context.Context, key model.ReminderKey) (bool, error)
	RecordIssued(ctx context.Context, key model.ReminderKey) (bool, error)
}

// Options はDriverの実行設定。
type Options struct {
	// Concurrency はサブスクリプションを並列処理するワーカー数。0以下の場合は8。
	Concurrency int
	// CallTimeout はソース・ストア・送信先の呼び出し1回あたりのタイムアウト。
	CallTimeout time.Duration
	// ReadAttempts はページ取得の最大試行回数。
	ReadAttempts int
	// RetryDelay はページ取得の再試行までの待機時間。
	RetryDelay time.Duration
}

const defaultConcurrency = 8

// Driver はアクティブなサブスクリプションを走査し、期日のリマインダーを発行する。
type Driver struct {
	source  repository.SubscriptionSource
	dedup   Deduplicator
	sink    notify.Sink
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	opts    Options
	now     func() time.Time
}

// NewDriver はDriverを生成する。
func NewDriver(
	source repository.SubscriptionSource,
	dedup Deduplicator,
	sink notify.Sink,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
	opts Options,
) *Driver {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Driver{
		source:  source,
		dedup:   dedup,
		sink:    sink,
		metrics: mc,
		logger:  logger,
		opts:    opts,
		now:     time.Now,
	}
}

// RunOnce はtodayを基準に1回分のリマインダー処理を行う。
//
// 最初のページを取得できない場合はErrSourceUnavailableをラップしたエラーを返す（致命的エラー）。
// それ以外の失敗はRunReport.Errorsに収集し、処理を継続する。
// ctxがキャンセルされると新しいサブスクリプションの処理を開始せず、処理中のものは完了を待って返る。
func (d *Driver) RunOnce(ctx context.Context, today calendar.Date) (*RunReport, error) {
	start := d.now()
	report := &RunReport{
		RunID:     uuid.New().String(),
		Today:     today,
		StartedAt: start.UTC(),
	}
	logger := d.logger.With(slog.String("run_id", report.RunID), slog.String("today", today.String()))

	logger.Info("リマインダー実行を開始します", slog.Int("concurrency", d.opts.Concurrency))

	// 処理中の送信はキャンセルの影響を受けずに完了させる
	workCtx := context.WithoutCancel(ctx)

	sem := make(chan struct{}, d.opts.Concurrency)
	var wg sync.WaitGroup

	pageToken := ""
	pages := 0
paging:
	for {
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}

		subs, next, err := d.listPage(ctx, pageToken)
		if err != nil {
			if ctx.Err() != nil {
				report.Cancelled = true
				break
			}
			if pages == 0 {
				wg.Wait()
				report.finish(d.now().Sub(start))
				d.metrics.RecordRun(metrics.RunOutcomeFailed, report.Duration)
				d.metrics.RecordRunError("data_source")
				logger.Error("サブスクリプションソースに到達できないため実行を中断しました",
					slog.String("error", err.Error()),
				)
				return report, fmt.Errorf("%w: %w", model.ErrSourceUnavailable, err)
			}
			// キーセットページングでは失敗したページを飛ばせないため、ここで走査を打ち切る
			report.Truncated = true
			d.reportError(logger, report, &model.DataSourceError{PageToken: pageToken, Err: err})
			logger.Error("ページ取得に失敗したため以降のサブスクリプションを走査できませんでした",
				slog.Int("pages_scanned", pages),
				slog.String("page_token", pageToken),
			)
			break
		}
		pages++
		report.PagesScanned = pages

		for _, sub := range subs {
			if ctx.Err() != nil {
				report.Cancelled = true
				break paging
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				report.Cancelled = true
				break paging
			}

			report.addScanned(1)
			wg.Add(1)
			go func(sub *model.Subscription) {
				defer wg.Done()
				defer func() { <-sem }()
				d.processSubscription(workCtx, logger, report, sub, today)
			}(sub)
		}

		if next == "" {
			break
		}
		pageToken = next
	}

	wg.Wait()
	report.finish(d.now().Sub(start))

	d.metrics.RecordSubscriptionsScanned(report.SubscriptionsScanned)
	d.metrics.RecordRun(report.Outcome(), report.Duration)

	logAttrs := []any{
		slog.Int("pages", pages),
		slog.Int("subscriptions_scanned", report.SubscriptionsScanned),
		slog.Int("reminders_issued", report.RemindersIssued),
		slog.Int("reminders_skipped_duplicate", report.RemindersSkippedDuplicate),
		slog.Int("reminders_failed", report.RemindersFailed),
		slog.Int("error_count", len(report.Errors)),
		slog.Bool("truncated", report.Truncated),
		slog.Float64("duration_ms", float64(report.DurationMillis)),
	}
	if report.Cancelled {
		logger.Warn("リマインダー実行がキャンセルされました", logAttrs...)
	} else {
		logger.Info("リマインダー実行が完了しました", logAttrs...)
	}

	return report, nil
}

// listPage は1ページ分のサブスクリプションを取得する。読み取りのため有界リトライする。
func (d *Driver) listPage(ctx context.Context, pageToken string) ([]*model.Subscription, string, error) {
	type page struct {
		subs []*model.Subscription
		next string
	}
	p := retry.Policy{Attempts: d.opts.ReadAttempts, Timeout: d.opts.CallTimeout, Delay: d.opts.RetryDelay}
	result, _, err := retry.Read(ctx, p, func(ctx context.Context) (page, error) {
		subs, next, err := d.source.ListActiveSubscriptions(ctx, pageToken)
		return page{subs: subs, next: next}, err
	})
	if err != nil {
		return nil, "", err
	}
	return result.subs, result.next, nil
}

// processSubscription は1件のサブスクリプションについて期日のリマインダーを発行する。
// ここで発生したエラーは全てreportに収集され、他のサブスクリプションの処理を止めない。
func (d *Driver) processSubscription(ctx context.Context, logger *slog.Logger, report *RunReport, sub *model.Subscription, today calendar.Date) {
	defer func() {
		if r := recover(); r != nil {
			d.reportError(logger, report, fmt.Errorf("subscription %s: panic: %v", sub.ID, r))
		}
	}()

	if err := sub.Validate(); err != nil {
		d.reportError(logger, report, &model.DataSourceError{SubscriptionID: sub.ID, Err: err})
		return
	}

	// 対象の請求日は種別ごとに異なる場合がある
	due, err := policy.DueFirings(sub, today)
	if err != nil {
		d.reportError(logger, report, &model.DataSourceError{SubscriptionID: sub.ID, Err: err})
		return
	}
	if len(due) == 0 {
		logger.Debug("本日発火するリマインダーはありません", slog.String("subscription_id", sub.ID))
		return
	}

	for _, f := range due {
		d.issue(ctx, logger, report, sub, f.Kind, f.OccurrenceDate)
	}
}

// issue は1件のリマインダーを「確認 → 記録 → 送信」の順で発行する。
// 記録の挿入後に送信が失敗しても記録は残し、この実行内では再送しない。
func (d *Driver) issue(ctx context.Context, logger *slog.Logger, report *RunReport, sub *model.Subscription, kind model.ReminderKind, occurrence calendar.Date) {
	key := model.ReminderKey{SubscriptionID: sub.ID, Kind: kind, OccurrenceDate: occurrence}

	issued, err := d.dedup.AlreadyIssued(ctx, key)
	if err != nil {
		d.reportError(logger, report, err)
		return
	}
	if issued {
		d.skipDuplicate(logger, report, key)
		return
	}

	inserted, err := d.dedup.RecordIssued(ctx, key)
	if err != nil {
		d.reportError(logger, report, err)
		return
	}
	if !inserted {
		// 並行する実行が先に記録した
		d.skipDuplicate(logger, report, key)
		return
	}

	n := notify.NewNotification(sub, kind, occurrence)
	sendStart := d.now()
	_, err = retry.Call(ctx, d.opts.CallTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, d.sink.Send(ctx, n)
	})
	d.metrics.RecordSinkLatency(d.now().Sub(sendStart))
	if err != nil {
		report.addFailed()
		d.reportError(logger, report, &model.SinkError{Key: key, Err: err})
		return
	}

	report.addIssued()
	d.metrics.RecordReminderIssued(kind)
	logger.Info("リマインダーを発行しました",
		slog.String("subscription_id", sub.ID),
		slog.String("owner_id", sub.OwnerID),
		slog.String("kind", string(kind)),
		slog.String("occurrence_date", occurrence.String()),
	)
}

func (d *Driver) skipDuplicate(logger *slog.Logger, report *RunReport, key model.ReminderKey) {
	report.addDuplicate()
	d.metrics.RecordReminderDuplicate(key.Kind)
	logger.Debug("発行済みのためスキップします", slog.String("key", key.String()))
}

func (d *Driver) reportError(logger *slog.Logger, report *RunReport, err error) {
	re := report.addError(err)
	d.metrics.RecordRunError(re.Category)
	logger.Warn("リマインダー処理でエラーが発生しました",
		slog.String("category", re.Category),
		slog.String("subscription_id", re.SubscriptionID),
		slog.String("error", re.Message),
	)
}
