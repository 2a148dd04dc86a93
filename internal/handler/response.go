package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/moonwave/sms/internal/calendar"
	"github.com/moonwave/sms/internal/middleware"
	"github.com/moonwave/sms/internal/model"
)

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// dateParam はクエリパラメータdateを暦日として解釈する。
// 未指定の場合はlocのタイムゾーンでの今日を返す。
func dateParam(r *http.Request, now time.Time, loc *time.Location) (calendar.Date, *model.APIError) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		return calendar.Today(now, loc), nil
	}
	d, err := calendar.Parse(raw)
	if err != nil {
		return calendar.Date{}, model.NewInvalidDateError(raw)
	}
	return d, nil
}
