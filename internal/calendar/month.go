package calendar

import "time"

// DaysInMonth は指定年月の日数を返す（うるう年の2月は29）。
func DaysInMonth(year int, month time.Month) int {
	// 翌月の0日目 = 当月の末日
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DaysInYear は指定年の日数（365または366）を返す。
func DaysInYear(year int) int {
	return time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC).YearDay()
}

// Clamped は年月と希望日から暦日を組み立てる。
// 希望日が月の日数を超える場合は月末日に丸める（例: 2月の31日 → 2月末日）。
// 翌月に繰り越すことはない。
func Clamped(year int, month time.Month, day int) Date {
	// monthが範囲外の場合に年をまたいで正規化する
	first := New(year, month, 1)
	last := DaysInMonth(first.Year, first.Month)
	if day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return Date{Year: first.Year, Month: first.Month, Day: day}
}

// YearDayClamped は年初からの通算日から暦日を組み立てる。
// 366日目が平年に指定された場合は12月31日に丸める。
func YearDayClamped(year, yearDay int) Date {
	if n := DaysInYear(year); yearDay > n {
		yearDay = n
	}
	if yearDay < 1 {
		yearDay = 1
	}
	return New(year, time.January, 1).AddDays(yearDay - 1)
}

// MonthIndex は年月を単調増加する月番号（year*12 + month-1）に変換する。
func MonthIndex(year int, month time.Month) int {
	return year*12 + int(month) - 1
}

// FromMonthIndex はMonthIndexの逆変換。
func FromMonthIndex(idx int) (int, time.Month) {
	year := idx / 12
	month := time.Month(idx%12 + 1)
	if idx < 0 && idx%12 != 0 {
		year--
		month = time.Month(idx%12 + 13)
	}
	return year, month
}
