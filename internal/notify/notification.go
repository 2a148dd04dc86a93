// Package notify はリマインダー通知の送信先（Notification Sink）を提供する。
//
// エンジンは送信を1回だけ試み、再送しない。配信の再試行が必要な場合は
// 送信先（Webhookの受信側やNATSの購読者）が自身のポリシーで行う。
package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"

	"github.com/moonwave/sms/internal/calendar"
	"github.com/moonwave/sms/internal/model"
)

// Sink はリマインダー通知の送信先。
// 実装はgoroutineセーフでなければならない。
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// EventType はWebhookとNATSで送るイベント名。
const EventType = "subscription.reminder"

// namePolicy はサブスクリプション名から全てのマークアップを除去する。
var namePolicy = bluemonday.StrictPolicy()

// Notification は1件のリマインダー通知。
type Notification struct {
	OwnerID        string
	SubscriptionID string
	Kind           model.ReminderKind
	OccurrenceDate calendar.Date
	Name           string
	Amount         decimal.Decimal
	Currency       string
}

// NewNotification はサブスクリプションと請求日から通知を組み立てる。
// 名前はユーザー入力のため、マークアップを除去してから保持する。
func NewNotification(sub *model.Subscription, kind model.ReminderKind, occurrence calendar.Date) Notification {
	return Notification{
		OwnerID:        sub.OwnerID,
		SubscriptionID: sub.ID,
		Kind:           kind,
		OccurrenceDate: occurrence,
		Name:           sanitizeName(sub.Name),
		Amount:         sub.Amount,
		Currency:       sub.Currency,
	}
}

// sanitizeName はタグを除去し、bluemondayがエスケープした実体参照を元の文字に戻す。
func sanitizeName(name string) string {
	return strings.TrimSpace(html.UnescapeString(namePolicy.Sanitize(name)))
}

// Key は通知の重複排除キーを返す。
func (n Notification) Key() model.ReminderKey {
	return model.ReminderKey{
		SubscriptionID: n.SubscriptionID,
		Kind:           n.Kind,
		OccurrenceDate: n.OccurrenceDate,
	}
}

// Title は通知のタイトルを返す。
func (n Notification) Title() string {
	switch n.Kind {
	case model.ReminderSameDay:
		return fmt.Sprintf("本日は%sの支払日です", n.displayName())
	default:
		return fmt.Sprintf("%sの支払日まであと%d日", n.displayName(), n.Kind.DaysBefore())
	}
}

// Body は通知の本文を返す。
func (n Notification) Body() string {
	return fmt.Sprintf("%s に %s %s が請求されます。",
		n.OccurrenceDate.String(), n.Amount.StringFixed(2), n.Currency)
}

func (n Notification) displayName() string {
	if n.Name == "" {
		return "サブスクリプション"
	}
	return n.Name
}

// Event はWebhookとNATSで送信するJSONペイロード。
type Event struct {
	Event          string             `json:"event"`
	ID             string             `json:"id"`
	OwnerID        string             `json:"owner_id"`
	SubscriptionID string             `json:"subscription_id"`
	Kind           model.ReminderKind `json:"kind"`
	OccurrenceDate calendar.Date      `json:"occurrence_date"`
	DaysBefore     int                `json:"days_before"`
	Name           string             `json:"name"`
	Amount         decimal.Decimal    `json:"amount"`
	Currency       string             `json:"currency"`
	Title          string             `json:"title"`
	Body           string             `json:"body"`
	Timestamp      string             `json:"timestamp"`
}

// NewEvent は通知からイベントペイロードを組み立てる。IDは重複排除キーで、受信側の冪等化に使える。
func NewEvent(n Notification, now time.Time) Event {
	return Event{
		Event:          EventType,
		ID:             n.Key().String(),
		OwnerID:        n.OwnerID,
		SubscriptionID: n.SubscriptionID,
		Kind:           n.Kind,
		OccurrenceDate: n.OccurrenceDate,
		DaysBefore:     n.Kind.DaysBefore(),
		Name:           n.Name,
		Amount:         n.Amount,
		Currency:       n.Currency,
		Title:          n.Title(),
		Body:           n.Body(),
		Timestamp:      now.UTC().Format(time.RFC3339),
	}
}
