package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/moonwave/sms/internal/billing"
	"github.com/moonwave/sms/internal/calendar"
	"github.com/moonwave/sms/internal/model"
	policy "github.com/moonwave/sms/internal/reminder"
	"github.com/moonwave/sms/internal/repository"
)

// IssuedChecker は発行済み判定のインターフェース。*dedup.Deduplicatorが満たす。
type IssuedChecker interface {
	AlreadyIssued(ctx context.Context, key model.ReminderKey) (bool, error)
}

// ScheduleHandler はサブスクリプションの請求日とリマインダー予定をプレビューするHTTPハンドラー。
// 読み取り専用で、記録の挿入や通知の送信は行わない。
type ScheduleHandler struct {
	finder repository.SubscriptionFinder
	issued IssuedChecker
	loc    *time.Location
	now    func() time.Time
}

// NewScheduleHandler はScheduleHandlerを生成する。issuedがnilの場合は発行済み状態を返さない。
func NewScheduleHandler(finder repository.SubscriptionFinder, issued IssuedChecker, loc *time.Location) *ScheduleHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &ScheduleHandler{finder: finder, issued: issued, loc: loc, now: time.Now}
}

// scheduleResponse は請求日プレビューのAPIレスポンス。
type scheduleResponse struct {
	SubscriptionID string             `json:"subscription_id"`
	Today          calendar.Date      `json:"today"`
	Cycle          string             `json:"cycle"`
	AnchorDay      int                `json:"anchor_day"`
	Active         bool               `json:"active"`
	NextOccurrence *calendar.Date     `json:"next_occurrence"`
	Reminders      []reminderResponse `json:"reminders"`
}

// reminderResponse は有効なリマインダー種別ごとの予定。
type reminderResponse struct {
	Kind           model.ReminderKind `json:"kind"`
	OccurrenceDate calendar.Date      `json:"occurrence_date"`
	FiresOn        calendar.Date      `json:"fires_on"`
	DueToday       bool               `json:"due_today"`
	Issued         *bool              `json:"issued,omitempty"`
}

// Schedule は指定日（省略時は今日）時点の次回請求日と、リマインダーの発火予定を返す。
// GET /api/subscriptions/{id}/schedule?date=YYYY-MM-DD
func (h *ScheduleHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	today, apiErr := dateParam(r, h.now(), h.loc)
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	sub, err := h.finder.FindByID(r.Context(), id)
	if err != nil {
		slog.Error("internal server error", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
		return
	}
	if sub == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewSubscriptionNotFoundError(id))
		return
	}
	if err := sub.Validate(); err != nil {
		writeAPIErrorResponse(w, http.StatusUnprocessableEntity, model.NewInvalidSubscriptionError(err.Error()))
		return
	}

	resp := scheduleResponse{
		SubscriptionID: sub.ID,
		Today:          today,
		Cycle:          string(sub.Cycle),
		AnchorDay:      sub.AnchorDay,
		Active:         sub.Active,
		Reminders:      []reminderResponse{},
	}

	occurrence, ok, err := billing.NextOccurrence(sub.Schedule(), today)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnprocessableEntity, model.NewInvalidSubscriptionError(err.Error()))
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.NextOccurrence = &occurrence

	firings, err := policy.DueFirings(sub, today)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnprocessableEntity, model.NewInvalidSubscriptionError(err.Error()))
		return
	}
	dueToday := make(map[model.ReminderKind]policy.Firing, len(firings))
	for _, f := range firings {
		dueToday[f.Kind] = f
	}

	for _, kind := range sub.ReminderWindows.Kinds() {
		// 本日発火する種別は、その発火が対象とする請求日で表示する
		target := occurrence
		f, due := dueToday[kind]
		if due {
			target = f.OccurrenceDate
		}
		rr := reminderResponse{
			Kind:           kind,
			OccurrenceDate: target,
			FiresOn:        target.AddDays(-kind.DaysBefore()),
			DueToday:       due,
		}
		if h.issued != nil {
			key := model.ReminderKey{SubscriptionID: sub.ID, Kind: kind, OccurrenceDate: target}
			// ストア障害で状態が不明な場合はissuedを省略する
			if issued, err := h.issued.AlreadyIssued(r.Context(), key); err == nil {
				rr.Issued = &issued
			}
		}
		resp.Reminders = append(resp.Reminders, rr)
	}

	writeJSON(w, http.StatusOK, resp)
}
