// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/moonwave/sms/internal/calendar"
)

// BillingCycle はサブスクリプションの請求周期を表す。
type BillingCycle string

const (
	// CycleMonthly は毎月の請求。anchorDayは日（1〜31）。
	CycleMonthly BillingCycle = "monthly"
	// CycleYearly は毎年の請求。anchorDayは年初からの通算日（1〜366）。
	CycleYearly BillingCycle = "yearly"
	// CycleQuarterly は3か月ごとの請求。anchorDayは日（1〜31）、開始月を起点とする。
	CycleQuarterly BillingCycle = "quarterly"
	// CycleWeekly は毎週の請求。anchorDayはISO曜日（月曜=1〜日曜=7）。
	CycleWeekly BillingCycle = "weekly"
)

// AnchorDayRange はその周期で有効なanchorDayの範囲を返す。
// 未知の周期の場合はokがfalseになる。
func (c BillingCycle) AnchorDayRange() (lo, hi int, ok bool) {
	switch c {
	case CycleMonthly, CycleQuarterly:
		return 1, 31, true
	case CycleYearly:
		return 1, 366, true
	case CycleWeekly:
		return 1, 7, true
	default:
		return 0, 0, false
	}
}

// Valid は既知の周期かどうかを返す。
func (c BillingCycle) Valid() bool {
	_, _, ok := c.AnchorDayRange()
	return ok
}

// Subscription は定期的な支払い（ストリーミング、ソフトウェア、会員権など）を表す。
// エンジンは読み取るだけで、作成・更新・削除は外部の管理画面が行う。
type Subscription struct {
	ID       string
	OwnerID  string
	Name     string
	Amount   decimal.Decimal
	Currency string

	Cycle     BillingCycle
	AnchorDay int
	StartDate calendar.Date
	EndDate   *calendar.Date // nilの場合は無期限

	Active          bool
	ReminderWindows ReminderKinds

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Schedule はサブスクリプションから請求日計算に必要な部分だけを取り出す。
func (s *Subscription) Schedule() Schedule {
	return Schedule{
		Cycle:     s.Cycle,
		AnchorDay: s.AnchorDay,
		StartDate: s.StartDate,
		EndDate:   s.EndDate,
	}
}

// Validate はサブスクリプションの不変条件を検証する。
//   - id、ownerIdが空でない
//   - amount >= 0
//   - currencyが3文字の英字コード
//   - anchorDayが周期に対して有効
//   - endDateが設定されている場合はstartDateより後
func (s *Subscription) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("%w: idが空です", ErrInvalidSubscription)
	}
	if strings.TrimSpace(s.OwnerID) == "" {
		return fmt.Errorf("%w: ownerIdが空です (subscription=%s)", ErrInvalidSubscription, s.ID)
	}
	if s.Amount.IsNegative() {
		return fmt.Errorf("%w: amountが負数です (%s)", ErrInvalidSubscription, s.Amount.String())
	}
	if !validCurrency(s.Currency) {
		return fmt.Errorf("%w: currencyが不正です (%q)", ErrInvalidSubscription, s.Currency)
	}
	return s.Schedule().Validate()
}

// Schedule は請求周期の定義（周期、基準日、開始日、終了日）。
type Schedule struct {
	Cycle     BillingCycle
	AnchorDay int
	StartDate calendar.Date
	EndDate   *calendar.Date
}

// Validate は請求周期の定義を検証する。
func (s Schedule) Validate() error {
	lo, hi, ok := s.Cycle.AnchorDayRange()
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidCycle, string(s.Cycle))
	}
	if s.AnchorDay < lo || s.AnchorDay > hi {
		return fmt.Errorf("%w: cycle=%s anchorDay=%d (有効範囲 %d〜%d)",
			ErrInvalidAnchorDay, s.Cycle, s.AnchorDay, lo, hi)
	}
	if s.StartDate.IsZero() {
		return fmt.Errorf("%w: startDateが未設定です", ErrInvalidSubscription)
	}
	if s.EndDate != nil && !s.EndDate.After(s.StartDate) {
		return fmt.Errorf("%w: endDate (%s) はstartDate (%s) より後である必要があります",
			ErrInvalidSubscription, s.EndDate, s.StartDate)
	}
	return nil
}

func validCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
