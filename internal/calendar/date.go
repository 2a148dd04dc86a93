// Package calendar はタイムゾーンを持たない暦日（カレンダー日付）を扱う。
// 請求日・リマインダー判定はすべて暦日単位で行い、「今日」はデプロイごとに
// 設定された単一の正規タイムゾーンで決定する。
package calendar

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// layout は日付の文字列表現（ISO 8601 拡張形式）。
const layout = "2006-01-02"

// Date は年・月・日だけを持つ暦日。時刻とタイムゾーンを持たない。
// ゼロ値は「未設定」を表す。
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// New は指定した年月日のDateを返す。範囲外の値はtime.Dateと同様に正規化される。
func New(year int, month time.Month, day int) Date {
	return FromTime(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// FromTime はtの（t自身のロケーションでの）年月日をDateとして返す。
func FromTime(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Today はnowを正規タイムゾーンlocに変換したときの暦日を返す。
// locがnilの場合はUTCを使用する。
func Today(now time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	return FromTime(now.In(loc))
}

// Parse は "2006-01-02" 形式の文字列をDateに変換する。
func Parse(s string) (Date, error) {
	t, err := time.Parse(layout, s)
	if err != nil {
		return Date{}, fmt.Errorf("日付の形式が不正です (%q): %w", s, err)
	}
	return FromTime(t), nil
}

// MustParse はParseのパニック版。テストと定数初期化でのみ使用する。
func MustParse(s string) Date {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// IsZero はDateが未設定かどうかを返す。
func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// Time はDateをloc上の0時0分のtime.Timeに変換する。
func (d Date) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// String は "2006-01-02" 形式の文字列を返す。
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// AddDays はn日後（負数なら前）のDateを返す。
func (d Date) AddDays(n int) Date {
	return FromTime(d.Time(time.UTC).AddDate(0, 0, n))
}

// Compare はdがuより前なら-1、同じなら0、後なら+1を返す。
func (d Date) Compare(u Date) int {
	switch {
	case d.Year != u.Year:
		return cmpInt(d.Year, u.Year)
	case d.Month != u.Month:
		return cmpInt(int(d.Month), int(u.Month))
	default:
		return cmpInt(d.Day, u.Day)
	}
}

// Before はdがuより前かどうかを返す。
func (d Date) Before(u Date) bool { return d.Compare(u) < 0 }

// After はdがuより後かどうかを返す。
func (d Date) After(u Date) bool { return d.Compare(u) > 0 }

// DaysUntil はdからuまでの日数を返す（uが前なら負数）。
func (d Date) DaysUntil(u Date) int {
	return int(u.Time(time.UTC).Sub(d.Time(time.UTC)).Hours() / 24)
}

// YearDay は年初からの通算日（1〜366）を返す。
func (d Date) YearDay() int {
	return d.Time(time.UTC).YearDay()
}

// ISOWeekday はISO 8601の曜日番号（月曜=1〜日曜=7）を返す。
func (d Date) ISOWeekday() int {
	wd := int(d.Time(time.UTC).Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// MarshalText はDateを "2006-01-02" 形式でエンコードする。ゼロ値は空文字になる。
func (d Date) MarshalText() ([]byte, error) {
	if d.IsZero() {
		return []byte{}, nil
	}
	return []byte(d.String()), nil
}

// UnmarshalText は "2006-01-02" 形式をデコードする。空文字はゼロ値になる。
func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value はdatabase/sqlのDATE列への書き込み値を返す。
func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.String(), nil
}

// Scan はDATE列の値を読み込む。lib/pqはDATE列をUTC 0時のtime.Timeとして返す。
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
		return nil
	case time.Time:
		*d = FromTime(v)
		return nil
	case string:
		return d.UnmarshalText([]byte(v))
	case []byte:
		return d.UnmarshalText(v)
	default:
		return fmt.Errorf("DATE列の型に対応していません: %T", src)
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
