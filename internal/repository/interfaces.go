// Package repository はデータ永続化のインターフェースを定義する。
// サブスクリプションとリマインダー記録の保存は外部ストアに委譲され、
// エンジンはここで定義する狭いインターフェースだけを通してアクセスする。
package repository

import (
	"context"

	"github.com/moonwave/sms/internal/calendar"
	"github.com/moonwave/sms/internal/model"
)

// SubscriptionSource はアクティブなサブスクリプションをページ単位で返す読み取り専用ソース。
type SubscriptionSource interface {
	// ListActiveSubscriptions はpageTokenの続きからアクティブなサブスクリプションを返す。
	// pageTokenが空の場合は先頭から取得する。
	// 次のページがない場合、nextPageTokenは空文字になる。
	ListActiveSubscriptions(ctx context.Context, pageToken string) (subs []*model.Subscription, nextPageToken string, err error)
}

// SubscriptionFinder はIDでサブスクリプションを取得する。運用APIのプレビューで使用する。
type SubscriptionFinder interface {
	// FindByID は指定IDのサブスクリプションを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Subscription, error)
}

// ReminderRecordStore はリマインダー記録のストア。
// 重複排除キーの存在確認と、原子的な条件付き挿入だけを提供する。
type ReminderRecordStore interface {
	// Exists は指定キーの記録が存在するかを返す。
	Exists(ctx context.Context, key model.ReminderKey) (bool, error)

	// InsertIfAbsent は記録が存在しない場合にのみ挿入する。
	// 挿入した場合はtrue、既に存在した場合はfalseを返す。
	// 同一キーに対する並行呼び出しのうち、trueを返すのは高々1つ。
	InsertIfAbsent(ctx context.Context, record *model.ReminderRecord) (bool, error)
}

// ReminderRecordPruner は保持期間を過ぎたリマインダー記録を削除する。
type ReminderRecordPruner interface {
	// PruneBefore はoccurrence_dateがbeforeより前の記録を削除し、削除件数を返す。
	PruneBefore(ctx context.Context, before calendar.Date) (int64, error)
}
