// Package cleanup はリマインダー記録の自動削除ジョブを提供する。
// 請求日（occurrence_date）から保持期間（デフォルト90日）を超過した記録を
// 日次バッチで削除する。重複排除キーは請求日が過ぎれば参照されないため、
// 過去の記録を削除しても再通知は発生しない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/moonwave/sms/internal/calendar"
	"github.com/moonwave/sms/internal/metrics"
	"github.com/moonwave/sms/internal/repository"
)

// DefaultRetentionDays は記録の既定保持日数。
const DefaultRetentionDays = 90

// CleanupJob は保持期間を超過したリマインダー記録の自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	pruner        repository.ReminderRecordPruner
	metrics       metrics.MetricsCollector
	logger        *slog.Logger
	loc           *time.Location
	now           func() time.Time
	RetentionDays int // 記録の保持日数（デフォルト: 90）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// 保持期間の基準日はlocのタイムゾーンでの今日。
func NewCleanupJob(pruner repository.ReminderRecordPruner, mc metrics.MetricsCollector, loc *time.Location, logger *slog.Logger) *CleanupJob {
	if mc == nil {
		mc = metrics.Nop{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &CleanupJob{
		pruner:        pruner,
		metrics:       mc,
		logger:        logger,
		loc:           loc,
		now:           time.Now,
		RetentionDays: DefaultRetentionDays,
	}
}

// Cutoff はこの日付より前の請求日の記録が削除対象になる日付を返す。
func (j *CleanupJob) Cutoff() calendar.Date {
	return calendar.Today(j.now(), j.loc).AddDays(-j.RetentionDays)
}

// Run は保持期間を超過したリマインダー記録を削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.Cutoff()

	deletedCount, err := j.pruner.PruneBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("リマインダー記録クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
			slog.String("cutoff", cutoff.String()),
		)
		return fmt.Errorf("リマインダー記録クリーンアップの実行に失敗: %w", err)
	}

	j.metrics.RecordRecordsPruned(deletedCount)

	duration := time.Since(start)
	j.logger.Info("リマインダー記録クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.String("cutoff", cutoff.String()),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
