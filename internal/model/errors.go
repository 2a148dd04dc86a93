// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// 定義済みの番兵エラー。
var (
	// ErrInvalidSubscription はサブスクリプションの不変条件違反。
	ErrInvalidSubscription = errors.New("invalid subscription")
	// ErrInvalidCycle は未知の請求周期。
	ErrInvalidCycle = errors.New("invalid billing cycle")
	// ErrInvalidAnchorDay は周期に対して範囲外のanchorDay。
	ErrInvalidAnchorDay = errors.New("invalid anchor day")
	// ErrSourceUnavailable はサブスクリプションソースに到達できない（実行全体を中断する致命的エラー）。
	ErrSourceUnavailable = errors.New("subscription source unavailable")
	// ErrStoreUnavailable はリマインダー記録ストアに到達できない。
	ErrStoreUnavailable = errors.New("reminder record store unavailable")
)

// DataSourceError はサブスクリプションソースの読み取り失敗、または不正なレコード。
// 該当のページ/レコードのみに影響し、実行全体は中断しない。
type DataSourceError struct {
	SubscriptionID string // ページ単位の失敗では空
	PageToken      string
	Err            error
}

func (e *DataSourceError) Error() string {
	if e.SubscriptionID != "" {
		return fmt.Sprintf("data source: subscription %s: %v", e.SubscriptionID, e.Err)
	}
	return fmt.Sprintf("data source: page %q: %v", e.PageToken, e.Err)
}

func (e *DataSourceError) Unwrap() error { return e.Err }

// DedupStoreError はリマインダー記録ストアの操作失敗。
// 重複通知を避けるため、この場合は通知を送らない（fail closed）。
type DedupStoreError struct {
	Key ReminderKey
	Err error
}

func (e *DedupStoreError) Error() string {
	return fmt.Sprintf("dedup store: %s: %v", e.Key, e.Err)
}

func (e *DedupStoreError) Unwrap() error { return e.Err }

// SinkError は記録の挿入後に通知の送信が失敗したことを表す。
// 同一実行内での再送は行わない。
type SinkError struct {
	Key ReminderKey
	Err error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink: %s: %v", e.Key, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// ErrorCategory はメトリクスとレポートで使うエラー分類名を返す。
func ErrorCategory(err error) string {
	var ds *DataSourceError
	var st *DedupStoreError
	var sk *SinkError
	switch {
	case errors.As(err, &ds):
		return "data_source"
	case errors.As(err, &st):
		return "dedup_store"
	case errors.As(err, &sk):
		return "sink"
	default:
		return "internal"
	}
}

// APIError は統一エラーフォーマットを表す。
// 運用APIのレスポンスに原因カテゴリと対処方法を含める。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, subscription, system
	Action   string // 運用者向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidDate          = "INVALID_DATE"
	ErrCodeSubscriptionNotFound = "SUBSCRIPTION_NOT_FOUND"
	ErrCodeInvalidSubscription  = "INVALID_SUBSCRIPTION"
	ErrCodeRunFailed            = "RUN_FAILED"
	ErrCodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// NewInvalidDateError は日付パラメータが不正な場合のエラーを生成する。
func NewInvalidDateError(value string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDate,
		Message:  fmt.Sprintf("無効な日付です: %s", value),
		Category: "validation",
		Action:   "日付は YYYY-MM-DD 形式で指定してください。",
	}
}

// NewSubscriptionNotFoundError はサブスクリプションが見つからない場合のエラーを生成する。
func NewSubscriptionNotFoundError(subscriptionID string) *APIError {
	return &APIError{
		Code:     ErrCodeSubscriptionNotFound,
		Message:  fmt.Sprintf("指定されたサブスクリプションが見つかりません: %s", subscriptionID),
		Category: "subscription",
		Action:   "サブスクリプションIDを確認してください。",
	}
}

// NewInvalidSubscriptionError は保存されているサブスクリプションが不正な場合のエラーを生成する。
func NewInvalidSubscriptionError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSubscription,
		Message:  fmt.Sprintf("サブスクリプションの請求設定が不正です: %s", reason),
		Category: "subscription",
		Action:   "請求周期と請求日の設定を見直してください。",
	}
}

// NewRunFailedError はスケジューラ実行が致命的エラーで中断した場合のエラーを生成する。
func NewRunFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeRunFailed,
		Message:  fmt.Sprintf("リマインダー実行に失敗しました: %s", reason),
		Category: "system",
		Action:   "データベースへの接続を確認し、しばらく待ってから再度実行してください。",
	}
}

// NewRateLimitError は運用APIの呼び出し回数が上限を超えた場合のエラーを生成する。
func NewRateLimitError(retryAfterSec int) *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "rate_limit",
		Action:   fmt.Sprintf("%d秒後に再度お試しください。", retryAfterSec),
	}
}

// NewInternalError は予期しないエラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
