// Package reminder はサブスクリプションと「今日」から、発火すべきリマインダーを決定する。
//
// 判定は暦日単位で行う。「今日」はデプロイごとに設定された単一の正規タイムゾーン
// （既定はAsia/Seoul）で決まり、ユーザーごとのタイムゾーンは考慮しない。
// 「7日前」は168時間ではなく7暦日前を意味する。
package reminder

import (
	"github.com/moonwave/sms/internal/billing"
	"github.com/moonwave/sms/internal/calendar"
	"github.com/moonwave/sms/internal/model"
)

// DueReminders はoccurrenceを請求日とするときに、todayに発火すべきリマインダー種別の集合を返す。
//   - sameDay:  today == occurrence
//   - threeDay: today == occurrence - 3日
//   - sevenDay: today == occurrence - 7日
//
// いずれもユーザーが有効にしている場合のみ含まれる。
// 非アクティブなサブスクリプションでは常に空集合を返す。
func DueReminders(sub *model.Subscription, occurrence, today calendar.Date) model.ReminderKinds {
	var due model.ReminderKinds
	if sub == nil || !sub.Active {
		return due
	}

	for _, kind := range model.AllReminderKinds {
		if !sub.ReminderWindows.Has(kind) {
			continue
		}
		if occurrence.AddDays(-kind.DaysBefore()) == today {
			due = due.With(kind)
		}
	}
	return due
}

// Firing は1種別のリマインダーの発火予定。
type Firing struct {
	Kind           model.ReminderKind
	OccurrenceDate calendar.Date
	FiresOn        calendar.Date
}

// NextFiring はtoday以降でkindが最初に発火する予定を返す。
// 発火日は請求日のDaysBefore日前なので、today+DaysBefore以降の最初の請求日を対象にする。
// 週次のように周期が窓より短い場合、種別ごとに対象の請求日が異なることがある。
// 今後の請求日がない場合、okはfalseになる。
func NextFiring(sub *model.Subscription, kind model.ReminderKind, today calendar.Date) (f Firing, ok bool, err error) {
	occurrence, ok, err := billing.NextOccurrence(sub.Schedule(), today.AddDays(kind.DaysBefore()))
	if err != nil || !ok {
		return Firing{}, false, err
	}
	return Firing{
		Kind:           kind,
		OccurrenceDate: occurrence,
		FiresOn:        occurrence.AddDays(-kind.DaysBefore()),
	}, true, nil
}

// DueFirings はtodayに発火すべきリマインダーを、種別ごとの対象請求日とともに返す。
// 非アクティブなサブスクリプションでは常に空を返す。
func DueFirings(sub *model.Subscription, today calendar.Date) ([]Firing, error) {
	if sub == nil || !sub.Active {
		return nil, nil
	}

	var due []Firing
	for _, kind := range sub.ReminderWindows.Kinds() {
		f, ok, err := NextFiring(sub, kind, today)
		if err != nil {
			return nil, err
		}
		if ok && DueReminders(sub, f.OccurrenceDate, today).Has(kind) {
			due = append(due, f)
		}
	}
	return due, nil
}
