package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/moonwave/sms/internal/calendar"
	"github.com/moonwave/sms/internal/model"
	"github.com/moonwave/sms/internal/worker/reminder"
)

// RunnerInterface はリマインダー実行のインターフェース。*reminder.Driverが満たす。
type RunnerInterface interface {
	RunOnce(ctx context.Context, today calendar.Date) (*reminder.RunReport, error)
}

// RunHandler は手動のリマインダー実行のHTTPハンドラー。
// 外部のcronやジョブ基盤から、特定の日付で実行をやり直す用途を想定している。
type RunHandler struct {
	runner RunnerInterface
	loc    *time.Location
	now    func() time.Time
}

// NewRunHandler はRunHandlerを生成する。
func NewRunHandler(runner RunnerInterface, loc *time.Location) *RunHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &RunHandler{runner: runner, loc: loc, now: time.Now}
}

// Run は指定日（省略時は今日）でRunOnceを実行し、RunReportを返す。
// POST /api/runs?date=YYYY-MM-DD
func (h *RunHandler) Run(w http.ResponseWriter, r *http.Request) {
	today, apiErr := dateParam(r, h.now(), h.loc)
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	report, err := h.runner.RunOnce(r.Context(), today)
	if err != nil {
		if errors.Is(err, model.ErrSourceUnavailable) {
			slog.Error("manual run failed", slog.String("today", today.String()), slog.String("error", err.Error()))
			writeAPIErrorResponse(w, http.StatusServiceUnavailable,
				model.NewRunFailedError("サブスクリプションソースに到達できません"))
			return
		}
		slog.Error("internal server error", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
		return
	}

	writeJSON(w, http.StatusOK, report)
}
