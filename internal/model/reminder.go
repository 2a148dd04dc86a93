package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/moonwave/sms/internal/calendar"
)

// ReminderKind はリマインダーの種類（請求日の何日前に通知するか）を表す。
type ReminderKind string

const (
	// ReminderSevenDay は請求日の7日前の通知。
	ReminderSevenDay ReminderKind = "sevenDay"
	// ReminderThreeDay は請求日の3日前の通知。
	ReminderThreeDay ReminderKind = "threeDay"
	// ReminderSameDay は請求日当日の通知。
	ReminderSameDay ReminderKind = "sameDay"
)

// AllReminderKinds は全種類を通知の早い順に並べたもの。
var AllReminderKinds = []ReminderKind{ReminderSevenDay, ReminderThreeDay, ReminderSameDay}

// DaysBefore は請求日から何日前に通知するかを返す。
func (k ReminderKind) DaysBefore() int {
	switch k {
	case ReminderSevenDay:
		return 7
	case ReminderThreeDay:
		return 3
	default:
		return 0
	}
}

// ParseReminderKind は文字列をReminderKindに変換する。
func ParseReminderKind(s string) (ReminderKind, error) {
	for _, k := range AllReminderKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("未知のリマインダー種別です: %q", s)
}

func (k ReminderKind) bit() ReminderKinds {
	switch k {
	case ReminderSevenDay:
		return 1 << 0
	case ReminderThreeDay:
		return 1 << 1
	case ReminderSameDay:
		return 1 << 2
	default:
		return 0
	}
}

// ReminderKinds はリマインダー種別の集合（ビットフラグ）。
// ユーザーが有効にした通知ウィンドウと、ある日に発火すべき通知の両方に使う。
type ReminderKinds uint8

// KindsOf は指定した種別からなる集合を返す。
func KindsOf(kinds ...ReminderKind) ReminderKinds {
	var set ReminderKinds
	for _, k := range kinds {
		set = set.With(k)
	}
	return set
}

// Has は集合にkが含まれるかを返す。
func (s ReminderKinds) Has(k ReminderKind) bool {
	b := k.bit()
	return b != 0 && s&b != 0
}

// With はkを加えた集合を返す。
func (s ReminderKinds) With(k ReminderKind) ReminderKinds {
	return s | k.bit()
}

// Empty は集合が空かどうかを返す。
func (s ReminderKinds) Empty() bool {
	return s == 0
}

// Kinds は集合の要素を通知の早い順に返す。
func (s ReminderKinds) Kinds() []ReminderKind {
	var out []ReminderKind
	for _, k := range AllReminderKinds {
		if s.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

// String は "sevenDay,sameDay" 形式の文字列を返す。
func (s ReminderKinds) String() string {
	kinds := s.Kinds()
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ",")
}

// ReminderKey は重複排除キー (subscriptionId, kind, occurrenceDate)。
type ReminderKey struct {
	SubscriptionID string        `json:"subscription_id"`
	Kind           ReminderKind  `json:"kind"`
	OccurrenceDate calendar.Date `json:"occurrence_date"`
}

// String はログとストアのキーに使う文字列表現を返す。
func (k ReminderKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.SubscriptionID, k.Kind, k.OccurrenceDate)
}

// ReminderRecord は「サブスクリプションSの請求日Dに対する種別Kの通知を発行した」記録。
// 作成後は更新されない。
type ReminderRecord struct {
	ID string `json:"id"`
	ReminderKey
	IssuedAt time.Time `json:"issued_at"`
}
