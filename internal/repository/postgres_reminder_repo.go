package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/moonwave/sms/internal/calendar"
	"github.com/moonwave/sms/internal/model"
)

// PostgresReminderRepo はPostgreSQLを使用したリマインダー記録ストア。
// (subscription_id, kind, occurrence_date) の一意制約により、同一キーの記録は高々1件になる。
type PostgresReminderRepo struct {
	db *sql.DB
}

// NewPostgresReminderRepo はPostgresReminderRepoを生成する。
func NewPostgresReminderRepo(db *sql.DB) *PostgresReminderRepo {
	return &PostgresReminderRepo{db: db}
}

// Exists は指定キーの記録が存在するかを返す。
func (r *PostgresReminderRepo) Exists(ctx context.Context, key model.ReminderKey) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM reminder_records
			WHERE subscription_id = $1 AND kind = $2 AND occurrence_date = $3
		)`,
		key.SubscriptionID, string(key.Kind), key.OccurrenceDate,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("リマインダー記録の存在確認に失敗しました: %w", err)
	}
	return exists, nil
}

// InsertIfAbsent は記録が存在しない場合にのみ挿入する。
// 一意制約の衝突はON CONFLICT DO NOTHINGで吸収し、影響行数で挿入の有無を判定する。
// record.IDが空の場合はUUIDを採番する。
func (r *PostgresReminderRepo) InsertIfAbsent(ctx context.Context, record *model.ReminderRecord) (bool, error) {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO reminder_records (id, subscription_id, kind, occurrence_date, issued_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (subscription_id, kind, occurrence_date) DO NOTHING`,
		record.ID, record.SubscriptionID, string(record.Kind), record.OccurrenceDate, record.IssuedAt,
	)
	if err != nil {
		return false, fmt.Errorf("リマインダー記録の挿入に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("挿入結果の取得に失敗しました: %w", err)
	}
	return affected == 1, nil
}

// PruneBefore はoccurrence_dateがbeforeより前の記録を削除し、削除件数を返す。
func (r *PostgresReminderRepo) PruneBefore(ctx context.Context, before calendar.Date) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM reminder_records WHERE occurrence_date < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("古いリマインダー記録の削除に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return affected, nil
}

// compile-time interface check
var (
	_ ReminderRecordStore  = (*PostgresReminderRepo)(nil)
	_ ReminderRecordPruner = (*PostgresReminderRepo)(nil)
)
