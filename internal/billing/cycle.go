// Package billing は請求周期から次回の請求日を計算する。
// 副作用のない純粋関数だけで構成される。
package billing

import (
	"github.com/moonwave/sms/internal/calendar"
	"github.com/moonwave/sms/internal/model"
)

// NextOccurrence はtoday時点での次回請求日を返す。
//
// 基準日は max(startDate, today)。基準日を含む周期の請求日候補を組み立て、
// 候補が基準日より前なら1周期進めて同じ丸め規則で組み立て直す。
// 日が月の日数を超える場合は月末日に丸める（1月31日基準 → 2月28日/29日）。
//
// 終了日が設定されていて候補が終了日以降の場合、okはfalseになる（失効済み）。
// errは周期定義が不正な場合にのみ返る。
func NextOccurrence(s model.Schedule, today calendar.Date) (occurrence calendar.Date, ok bool, err error) {
	if err := s.Validate(); err != nil {
		return calendar.Date{}, false, err
	}

	ref := today
	if s.StartDate.After(ref) {
		ref = s.StartDate
	}

	var candidate calendar.Date
	switch s.Cycle {
	case model.CycleMonthly:
		candidate = nextMonthly(s.AnchorDay, ref, 1, calendar.MonthIndex(ref.Year, ref.Month))
	case model.CycleQuarterly:
		candidate = nextMonthly(s.AnchorDay, ref, 3, quarterStart(s.StartDate, ref))
	case model.CycleYearly:
		candidate = nextYearly(s.AnchorDay, ref)
	case model.CycleWeekly:
		candidate = nextWeekly(s.AnchorDay, ref)
	}

	if s.EndDate != nil && !candidate.Before(*s.EndDate) {
		return calendar.Date{}, false, nil
	}
	return candidate, true, nil
}

// nextMonthly はperiodMonthsか月ごとの周期で、monthIdxの月から始めて
// ref以降となる最初の請求日を返す。
func nextMonthly(anchorDay int, ref calendar.Date, periodMonths, monthIdx int) calendar.Date {
	for {
		year, month := calendar.FromMonthIndex(monthIdx)
		candidate := calendar.Clamped(year, month, anchorDay)
		if !candidate.Before(ref) {
			return candidate
		}
		monthIdx += periodMonths
	}
}

// quarterStart はstartDateの月を起点とした3か月周期のうち、refを含む周期の先頭月を返す。
func quarterStart(start, ref calendar.Date) int {
	startIdx := calendar.MonthIndex(start.Year, start.Month)
	refIdx := calendar.MonthIndex(ref.Year, ref.Month)
	// ref >= start なので差は0以上
	return startIdx + (refIdx-startIdx)/3*3
}

// nextYearly は年初からの通算日anchorDayで、ref以降となる最初の請求日を返す。
func nextYearly(anchorDay int, ref calendar.Date) calendar.Date {
	for year := ref.Year; ; year++ {
		candidate := calendar.YearDayClamped(year, anchorDay)
		if !candidate.Before(ref) {
			return candidate
		}
	}
}

// nextWeekly はISO曜日anchorDayで、ref以降となる最初の請求日を返す。
func nextWeekly(anchorDay int, ref calendar.Date) calendar.Date {
	diff := (anchorDay - ref.ISOWeekday() + 7) % 7
	return ref.AddDays(diff)
}
