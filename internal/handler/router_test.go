package handler

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/moonwave/sms/internal/calendar"
	"github.com/moonwave/sms/internal/metrics"
	"github.com/moonwave/sms/internal/middleware"
	"github.com/moonwave/sms/internal/model"
	"github.com/moonwave/sms/internal/worker/reminder"
)

func newTestRouter(t *testing.T, buf *bytes.Buffer, limiter *middleware.RateLimiter) (http.Handler, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	mc := metrics.NewCollector(reg)
	mc.RecordReminderIssued(model.ReminderSameDay)

	deps := &RouterDeps{
		Logger:        slog.New(slog.NewJSONHandler(buf, nil)),
		HealthChecker: &mockHealthChecker{},
		Gatherer:      reg,
		Runner:        &mockRunner{},
		RateLimiter:   limiter,
		Subscriptions: &mockFinder{findByIDFn: func(ctx context.Context, id string) (*model.Subscription, error) {
			return testSubscription(), nil
		}},
		Location: time.UTC,
	}
	return NewRouter(deps), reg
}

func TestNewRouter_Routes(t *testing.T) {
	var buf bytes.Buffer
	router, _ := newTestRouter(t, &buf, nil)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodPost, "/api/runs?date=2025-03-12", http.StatusOK},
		{http.MethodGet, "/api/subscriptions/sub-1/schedule?date=2025-03-12", http.StatusOK},
		{http.MethodGet, "/api/runs", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/feeds", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestNewRouter_MetricsExposesCollector(t *testing.T) {
	var buf bytes.Buffer
	router, _ := newTestRouter(t, &buf, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(w.Body.String(), `moonwave_reminders_issued_total{kind="sameDay"} 1`) {
		t.Errorf("metrics output does not contain issued counter:\n%s", w.Body.String())
	}
}

func TestNewRouter_NoGathererHidesMetrics(t *testing.T) {
	router := NewRouter(&RouterDeps{
		Logger:        slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)),
		HealthChecker: &mockHealthChecker{},
		Runner:        &mockRunner{},
		Subscriptions: &mockFinder{},
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestNewRouter_RateLimitsManualRuns(t *testing.T) {
	var buf bytes.Buffer
	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:            0.01,
		Burst:           1,
		CleanupInterval: time.Minute,
	}, slog.New(slog.NewJSONHandler(&buf, nil)))
	defer limiter.Stop()

	router, _ := newTestRouter(t, &buf, limiter)

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/api/runs", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first run: status = %d, want %d", first.Code, http.StatusOK)
	}

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/api/runs", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second run: status = %d, want %d", second.Code, http.StatusTooManyRequests)
	}

	// プレビューはレート制限の対象外
	preview := httptest.NewRecorder()
	router.ServeHTTP(preview, httptest.NewRequest(http.MethodGet, "/api/subscriptions/sub-1/schedule", nil))
	if preview.Code != http.StatusOK {
		t.Errorf("preview: status = %d, want %d", preview.Code, http.StatusOK)
	}
}

func TestNewRouter_RecoversFromPanic(t *testing.T) {
	var buf bytes.Buffer
	router := NewRouter(&RouterDeps{
		Logger:        slog.New(slog.NewJSONHandler(&buf, nil)),
		HealthChecker: &mockHealthChecker{},
		Runner: &mockRunner{runOnceFn: func(ctx context.Context, today calendar.Date) (*reminder.RunReport, error) {
			panic("nil map")
		}},
		Subscriptions: &mockFinder{},
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/runs", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if !strings.Contains(buf.String(), "request_id") {
		t.Errorf("request log should carry request_id: %s", buf.String())
	}
}
