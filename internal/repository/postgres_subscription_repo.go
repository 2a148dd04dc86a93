package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/moonwave/sms/internal/calendar"
	"github.com/moonwave/sms/internal/model"
)

// defaultPageSize はListActiveSubscriptionsの1ページあたりの既定件数。
const defaultPageSize = 200

// subscriptionColumns はSELECT対象の列。scanSubscriptionの順序と一致させること。
const subscriptionColumns = `id, owner_id, name, amount, currency, cycle, anchor_day,
	start_date, end_date, active, remind_seven_day, remind_three_day, remind_same_day,
	created_at, updated_at`

// PostgresSubscriptionRepo はPostgreSQLを使用したサブスクリプションソース。
// idの昇順によるキーセットページネーションでアクティブなサブスクリプションを返す。
type PostgresSubscriptionRepo struct {
	db       *sql.DB
	pageSize int
}

// NewPostgresSubscriptionRepo はPostgresSubscriptionRepoを生成する。
// pageSizeが0以下の場合はデフォルト値200を使用する。
func NewPostgresSubscriptionRepo(db *sql.DB, pageSize int) *PostgresSubscriptionRepo {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &PostgresSubscriptionRepo{db: db, pageSize: pageSize}
}

// ListActiveSubscriptions はpageToken（直前ページの最後のid）より後のアクティブなサブスクリプションを返す。
// 取得件数がページサイズに満たない場合は最終ページとみなし、nextPageTokenを空にする。
func (r *PostgresSubscriptionRepo) ListActiveSubscriptions(ctx context.Context, pageToken string) ([]*model.Subscription, string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE active = true AND id > $1
		 ORDER BY id ASC
		 LIMIT $2`,
		pageToken, r.pageSize,
	)
	if err != nil {
		return nil, "", fmt.Errorf("アクティブなサブスクリプションの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var subs []*model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, "", fmt.Errorf("サブスクリプション行の読み取りに失敗しました: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("サブスクリプション一覧の走査に失敗しました: %w", err)
	}

	next := ""
	if len(subs) == r.pageSize {
		next = subs[len(subs)-1].ID
	}
	return subs, next, nil
}

// FindByID は指定IDのサブスクリプションを取得する。見つからない場合はnilを返す。
func (r *PostgresSubscriptionRepo) FindByID(ctx context.Context, id string) (*model.Subscription, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`,
		id,
	)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("サブスクリプションの取得に失敗しました: %w", err)
	}
	return sub, nil
}

// Create はサブスクリプションを作成する。シードデータと統合テストで使用する。
func (r *PostgresSubscriptionRepo) Create(ctx context.Context, sub *model.Subscription) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		sub.ID, sub.OwnerID, sub.Name, sub.Amount, sub.Currency, string(sub.Cycle), sub.AnchorDay,
		sub.StartDate, sub.EndDate, sub.Active,
		sub.ReminderWindows.Has(model.ReminderSevenDay),
		sub.ReminderWindows.Has(model.ReminderThreeDay),
		sub.ReminderWindows.Has(model.ReminderSameDay),
		sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("サブスクリプションの作成に失敗しました: %w", err)
	}
	return nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*model.Subscription, error) {
	sub := &model.Subscription{}
	var (
		cycle                       string
		endDate                     calendar.Date
		sevenDay, threeDay, sameDay bool
	)
	err := row.Scan(
		&sub.ID, &sub.OwnerID, &sub.Name, &sub.Amount, &sub.Currency, &cycle, &sub.AnchorDay,
		&sub.StartDate, &endDate, &sub.Active, &sevenDay, &threeDay, &sameDay,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sub.Cycle = model.BillingCycle(cycle)
	if !endDate.IsZero() {
		sub.EndDate = &endDate
	}
	if sevenDay {
		sub.ReminderWindows = sub.ReminderWindows.With(model.ReminderSevenDay)
	}
	if threeDay {
		sub.ReminderWindows = sub.ReminderWindows.With(model.ReminderThreeDay)
	}
	if sameDay {
		sub.ReminderWindows = sub.ReminderWindows.With(model.ReminderSameDay)
	}
	return sub, nil
}

// compile-time interface check
var (
	_ SubscriptionSource = (*PostgresSubscriptionRepo)(nil)
	_ SubscriptionFinder = (*PostgresSubscriptionRepo)(nil)
)
