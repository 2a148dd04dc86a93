// Package dedup は「同じリマインダーを二度送らない」ことを保証する重複排除器を提供する。
//
// 重複排除キーは (subscriptionId, kind, occurrenceDate) の組で、記録は外部ストアに永続化される。
// 並行する実行どうしの競合はストアの条件付き挿入（InsertIfAbsent）で解決し、
// 読んでから書くだけの実装には依存しない。
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/moonwave/sms/internal/model"
	"github.com/moonwave/sms/internal/repository"
	"github.com/moonwave/sms/internal/retry"
)

// デフォルト値
const (
	DefaultCallTimeout  = 5 * time.Second
	DefaultReadAttempts = 2
	DefaultRetryDelay   = 200 * time.Millisecond
)

// Options は重複排除器の呼び出し設定。
type Options struct {
	// CallTimeout はストア呼び出し1回あたりのタイムアウト。
	CallTimeout time.Duration
	// ReadAttempts はAlreadyIssuedの最大試行回数。RecordIssuedは常に1回のみ。
	ReadAttempts int
	// RetryDelay はAlreadyIssuedの再試行までの待機時間。
	RetryDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	if o.ReadAttempts <= 0 {
		o.ReadAttempts = DefaultReadAttempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	return o
}

// Deduplicator はリマインダー記録ストアを介して発行済みかどうかを判定・記録する。
type Deduplicator struct {
	store  repository.ReminderRecordStore
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// New はDeduplicatorを生成する。
func New(store repository.ReminderRecordStore, opts Options, logger *slog.Logger) *Deduplicator {
	return &Deduplicator{
		store:  store,
		opts:   opts.withDefaults(),
		logger: logger,
		now:    time.Now,
	}
}

// AlreadyIssued はkeyのリマインダーが発行済みかを返す。
// ストアに到達できない場合はfalseを返さず、ErrStoreUnavailableをラップしたDedupStoreErrorを返す。
// 呼び出し側はエラー時に通知を送ってはならない。
func (d *Deduplicator) AlreadyIssued(ctx context.Context, key model.ReminderKey) (bool, error) {
	policy := retry.Policy{Attempts: d.opts.ReadAttempts, Timeout: d.opts.CallTimeout, Delay: d.opts.RetryDelay}
	exists, attempts, err := retry.Read(ctx, policy, func(ctx context.Context) (bool, error) {
		return d.store.Exists(ctx, key)
	})
	if err != nil {
		d.logger.Warn("リマインダー記録の存在確認に失敗しました",
			slog.String("key", key.String()),
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()),
		)
		return false, &model.DedupStoreError{Key: key, Err: fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)}
	}
	return exists, nil
}

// RecordIssued はkeyのリマインダー記録を条件付きで挿入する。
// 挿入した場合はtrue、並行する実行が先に記録していた場合はfalseを返す。
// falseの場合、呼び出し側は通知を送ってはならない。
// 書き込みは再試行しない。
func (d *Deduplicator) RecordIssued(ctx context.Context, key model.ReminderKey) (bool, error) {
	record := &model.ReminderRecord{
		ReminderKey: key,
		IssuedAt:    d.now().UTC(),
	}

	inserted, err := retry.Call(ctx, d.opts.CallTimeout, func(ctx context.Context) (bool, error) {
		return d.store.InsertIfAbsent(ctx, record)
	})
	if err != nil {
		return false, &model.DedupStoreError{Key: key, Err: fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)}
	}
	return inserted, nil
}
