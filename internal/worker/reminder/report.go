package reminder

import (
	"errors"
	"sync"
	"time"

	"github.com/moonwave/sms/internal/calendar"
	"github.com/moonwave/sms/internal/metrics"
	"github.com/moonwave/sms/internal/model"
)

// RunReport は1回の実行の集計結果。
type RunReport struct {
	RunID                     string        `json:"run_id"`
	Today                     calendar.Date `json:"today"`
	StartedAt                 time.Time     `json:"started_at"`
	Duration                  time.Duration `json:"-"`
	DurationMillis            int64         `json:"duration_ms"`
	SubscriptionsScanned      int           `json:"subscriptions_scanned"`
	RemindersIssued           int           `json:"reminders_issued"`
	RemindersSkippedDuplicate int           `json:"reminders_skipped_duplicate"`
	RemindersFailed           int           `json:"reminders_failed"`
	PagesScanned              int           `json:"pages_scanned"`
	// Truncated は途中のページ取得に失敗し、以降のページを走査できなかったことを示す
	Truncated bool       `json:"truncated"`
	Cancelled bool       `json:"cancelled"`
	Errors    []RunError `json:"errors"`

	mu sync.Mutex
}

// RunError はRunReportに収集されるエラー1件。
type RunError struct {
	Category       string             `json:"category"`
	SubscriptionID string             `json:"subscription_id,omitempty"`
	Kind           model.ReminderKind `json:"kind,omitempty"`
	PageToken      string             `json:"page_token,omitempty"`
	Message        string             `json:"message"`
	Err            error              `json:"-"`
}

func (e RunError) Error() string { return e.Message }

func (e RunError) Unwrap() error { return e.Err }

func newRunError(err error) RunError {
	re := RunError{
		Category: model.ErrorCategory(err),
		Message:  err.Error(),
		Err:      err,
	}

	var (
		ds *model.DataSourceError
		st *model.DedupStoreError
		sk *model.SinkError
	)
	switch {
	case errors.As(err, &ds):
		re.SubscriptionID = ds.SubscriptionID
		re.PageToken = ds.PageToken
	case errors.As(err, &st):
		re.SubscriptionID = st.Key.SubscriptionID
		re.Kind = st.Key.Kind
	case errors.As(err, &sk):
		re.SubscriptionID = sk.Key.SubscriptionID
		re.Kind = sk.Key.Kind
	}
	return re
}

// Outcome はメトリクス用の実行結果ラベルを返す。
func (r *RunReport) Outcome() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Truncated {
		return metrics.RunOutcomeTruncated
	}
	if len(r.Errors) > 0 || r.Cancelled {
		return metrics.RunOutcomePartial
	}
	return metrics.RunOutcomeSuccess
}

func (r *RunReport) addError(err error) RunError {
	re := newRunError(err)
	r.mu.Lock()
	r.Errors = append(r.Errors, re)
	r.mu.Unlock()
	return re
}

func (r *RunReport) addScanned(n int) {
	r.mu.Lock()
	r.SubscriptionsScanned += n
	r.mu.Unlock()
}

func (r *RunReport) addIssued() {
	r.mu.Lock()
	r.RemindersIssued++
	r.mu.Unlock()
}

func (r *RunReport) addDuplicate() {
	r.mu.Lock()
	r.RemindersSkippedDuplicate++
	r.mu.Unlock()
}

func (r *RunReport) addFailed() {
	r.mu.Lock()
	r.RemindersFailed++
	r.mu.Unlock()
}

func (r *RunReport) finish(d time.Duration) {
	r.mu.Lock()
	r.Duration = d
	r.DurationMillis = d.Milliseconds()
	if r.Errors == nil {
		r.Errors = []RunError{}
	}
	r.mu.Unlock()
}
