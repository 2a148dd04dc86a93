package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/moonwave/sms/internal/calendar"
	"github.com/moonwave/sms/internal/model"
	"github.com/moonwave/sms/internal/worker/reminder"
)

// --- モック定義 ---

// mockHealthChecker はHealthCheckerのモック実装。
type mockHealthChecker struct {
	pingFn func(ctx context.Context) error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

// mockRunner はRunnerInterfaceのモック実装。
type mockRunner struct {
	runOnceFn func(ctx context.Context, today calendar.Date) (*reminder.RunReport, error)
}

func (m *mockRunner) RunOnce(ctx context.Context, today calendar.Date) (*reminder.RunReport, error) {
	if m.runOnceFn != nil {
		return m.runOnceFn(ctx, today)
	}
	return &reminder.RunReport{Today: today, Errors: []reminder.RunError{}}, nil
}

// mockFinder はSubscriptionFinderのモック実装。
type mockFinder struct {
	findByIDFn func(ctx context.Context, id string) (*model.Subscription, error)
}

func (m *mockFinder) FindByID(ctx context.Context, id string) (*model.Subscription, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

// mockIssuedChecker はIssuedCheckerのモック実装。
type mockIssuedChecker struct {
	alreadyIssuedFn func(ctx context.Context, key model.ReminderKey) (bool, error)
}

func (m *mockIssuedChecker) AlreadyIssued(ctx context.Context, key model.ReminderKey) (bool, error) {
	if m.alreadyIssuedFn != nil {
		return m.alreadyIssuedFn(ctx, key)
	}
	return false, nil
}

// --- テストヘルパー ---

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

func fixedNow() time.Time {
	// UTCでは3月11日だが、ソウルでは3月12日
	return time.Date(2025, 3, 11, 16, 30, 0, 0, time.UTC)
}

func seoul(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		t.Skipf("タイムゾーンデータが利用できません: %v", err)
	}
	return loc
}

func testSubscription() *model.Subscription {
	return &model.Subscription{
		ID:              "sub-1",
		OwnerID:         "user-1",
		Name:            "Netflix",
		Amount:          decimal.RequireFromString("17000"),
		Currency:        "KRW",
		Cycle:           model.CycleMonthly,
		AnchorDay:       15,
		StartDate:       calendar.MustParse("2025-01-15"),
		Active:          true,
		ReminderWindows: model.KindsOf(model.ReminderSevenDay, model.ReminderThreeDay, model.ReminderSameDay),
	}
}

// --- GET /health テスト ---

func TestHealthHandler_OK(t *testing.T) {
	h := NewHealthHandler(&mockHealthChecker{})

	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body["status"] != "ok" || body["database"] != "up" {
		t.Errorf("body = %v", body)
	}
}

func TestHealthHandler_DatabaseDown(t *testing.T) {
	h := NewHealthHandler(&mockHealthChecker{
		pingFn: func(ctx context.Context) error {
			if _, ok := ctx.Deadline(); !ok {
				t.Error("PingContextにタイムアウトが設定されていない")
			}
			return errors.New("connection refused")
		},
	})

	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

// --- POST /api/runs テスト ---

func TestRunHandler_UsesExplicitDate(t *testing.T) {
	var got calendar.Date
	h := NewRunHandler(&mockRunner{
		runOnceFn: func(ctx context.Context, today calendar.Date) (*reminder.RunReport, error) {
			got = today
			return &reminder.RunReport{
				RunID:                "run-1",
				Today:                today,
				SubscriptionsScanned: 3,
				RemindersIssued:      2,
				Errors:               []reminder.RunError{},
			}, nil
		},
	}, time.UTC)

	w := httptest.NewRecorder()
	h.Run(w, httptest.NewRequest(http.MethodPost, "/api/runs?date=2025-03-12", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	if got != calendar.MustParse("2025-03-12") {
		t.Errorf("today = %s, want 2025-03-12", got)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body["run_id"] != "run-1" || body["today"] != "2025-03-12" {
		t.Errorf("body = %v", body)
	}
	if body["reminders_issued"] != float64(2) || body["subscriptions_scanned"] != float64(3) {
		t.Errorf("counts = %v", body)
	}
}

func TestRunHandler_DefaultsToTodayInCanonicalTimezone(t *testing.T) {
	var got calendar.Date
	h := NewRunHandler(&mockRunner{
		runOnceFn: func(ctx context.Context, today calendar.Date) (*reminder.RunReport, error) {
			got = today
			return &reminder.RunReport{Today: today}, nil
		},
	}, seoul(t))
	h.now = fixedNow

	w := httptest.NewRecorder()
	h.Run(w, httptest.NewRequest(http.MethodPost, "/api/runs", nil))

	if got != calendar.MustParse("2025-03-12") {
		t.Errorf("today = %s, want 2025-03-12", got)
	}
}

func TestRunHandler_InvalidDate(t *testing.T) {
	called := false
	h := NewRunHandler(&mockRunner{
		runOnceFn: func(ctx context.Context, today calendar.Date) (*reminder.RunReport, error) {
			called = true
			return nil, nil
		},
	}, time.UTC)

	w := httptest.NewRecorder()
	h.Run(w, httptest.NewRequest(http.MethodPost, "/api/runs?date=2025-02-30", nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodeInvalidDate {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeInvalidDate)
	}
	if called {
		t.Error("不正な日付でRunOnceが呼ばれた")
	}
}

func TestRunHandler_SourceUnavailable(t *testing.T) {
	h := NewRunHandler(&mockRunner{
		runOnceFn: func(ctx context.Context, today calendar.Date) (*reminder.RunReport, error) {
			return &reminder.RunReport{}, fmt.Errorf("%w: %w", model.ErrSourceUnavailable, errors.New("dial tcp: refused"))
		},
	}, time.UTC)

	w := httptest.NewRecorder()
	h.Run(w, httptest.NewRequest(http.MethodPost, "/api/runs", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodeRunFailed {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeRunFailed)
	}
}

func TestRunHandler_UnexpectedError(t *testing.T) {
	h := NewRunHandler(&mockRunner{
		runOnceFn: func(ctx context.Context, today calendar.Date) (*reminder.RunReport, error) {
			return nil, errors.New("unexpected")
		},
	}, time.UTC)

	w := httptest.NewRecorder()
	h.Run(w, httptest.NewRequest(http.MethodPost, "/api/runs", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

// --- GET /api/subscriptions/{id}/schedule テスト ---

func TestScheduleHandler_ReturnsNextOccurrenceAndReminders(t *testing.T) {
	finder := &mockFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.Subscription, error) {
			if id != "sub-1" {
				t.Errorf("id = %q, want %q", id, "sub-1")
			}
			return testSubscription(), nil
		},
	}
	issued := &mockIssuedChecker{
		alreadyIssuedFn: func(ctx context.Context, key model.ReminderKey) (bool, error) {
			return key.Kind == model.ReminderSevenDay, nil
		},
	}
	h := NewScheduleHandler(finder, issued, time.UTC)

	req := withChiURLParam(httptest.NewRequest(http.MethodGet, "/api/subscriptions/sub-1/schedule?date=2025-03-12", nil), "id", "sub-1")
	w := httptest.NewRecorder()
	h.Schedule(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}

	var body scheduleResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.NextOccurrence == nil || *body.NextOccurrence != calendar.MustParse("2025-03-15") {
		t.Fatalf("next_occurrence = %v, want 2025-03-15", body.NextOccurrence)
	}
	if len(body.Reminders) != 3 {
		t.Fatalf("reminders = %d, want 3", len(body.Reminders))
	}

	want := map[model.ReminderKind]struct {
		firesOn string
		due     bool
		issued  bool
	}{
		model.ReminderSevenDay: {"2025-03-08", false, true},
		model.ReminderThreeDay: {"2025-03-12", true, false},
		model.ReminderSameDay:  {"2025-03-15", false, false},
	}
	for _, rr := range body.Reminders {
		exp := want[rr.Kind]
		if rr.FiresOn.String() != exp.firesOn || rr.DueToday != exp.due {
			t.Errorf("%s: fires_on = %s, due_today = %v, want %s, %v", rr.Kind, rr.FiresOn, rr.DueToday, exp.firesOn, exp.due)
		}
		if rr.Issued == nil || *rr.Issued != exp.issued {
			t.Errorf("%s: issued = %v, want %v", rr.Kind, rr.Issued, exp.issued)
		}
	}
}

func TestScheduleHandler_OmitsIssuedOnStoreFailure(t *testing.T) {
	h := NewScheduleHandler(
		&mockFinder{findByIDFn: func(ctx context.Context, id string) (*model.Subscription, error) {
			return testSubscription(), nil
		}},
		&mockIssuedChecker{alreadyIssuedFn: func(ctx context.Context, key model.ReminderKey) (bool, error) {
			return false, &model.DedupStoreError{Key: key, Err: model.ErrStoreUnavailable}
		}},
		time.UTC,
	)

	req := withChiURLParam(httptest.NewRequest(http.MethodGet, "/api/subscriptions/sub-1/schedule?date=2025-03-12", nil), "id", "sub-1")
	w := httptest.NewRecorder()
	h.Schedule(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var raw map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	for _, r := range raw["reminders"].([]interface{}) {
		if _, ok := r.(map[string]interface{})["issued"]; ok {
			t.Errorf("ストア障害時はissuedを省略するべき: %v", r)
		}
	}
}

func TestScheduleHandler_WeeklySevenDayTargetsNextWeek(t *testing.T) {
	sub := testSubscription()
	sub.Cycle = model.CycleWeekly
	sub.AnchorDay = 1 // 月曜
	sub.StartDate = calendar.MustParse("2025-01-06")

	var keys []model.ReminderKey
	h := NewScheduleHandler(
		&mockFinder{findByIDFn: func(ctx context.Context, id string) (*model.Subscription, error) {
			return sub, nil
		}},
		&mockIssuedChecker{alreadyIssuedFn: func(ctx context.Context, key model.ReminderKey) (bool, error) {
			keys = append(keys, key)
			return false, nil
		}},
		time.UTC,
	)

	req := withChiURLParam(httptest.NewRequest(http.MethodGet, "/api/subscriptions/sub-1/schedule?date=2025-01-13", nil), "id", "sub-1")
	w := httptest.NewRecorder()
	h.Schedule(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	var body scheduleResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.NextOccurrence == nil || *body.NextOccurrence != calendar.MustParse("2025-01-13") {
		t.Fatalf("next_occurrence = %v, want 2025-01-13", body.NextOccurrence)
	}

	want := map[model.ReminderKind]struct {
		occurrence string
		firesOn    string
		due        bool
	}{
		model.ReminderSevenDay: {"2025-01-20", "2025-01-13", true},
		model.ReminderThreeDay: {"2025-01-13", "2025-01-10", false},
		model.ReminderSameDay:  {"2025-01-13", "2025-01-13", true},
	}
	for _, rr := range body.Reminders {
		exp := want[rr.Kind]
		if rr.OccurrenceDate.String() != exp.occurrence || rr.FiresOn.String() != exp.firesOn || rr.DueToday != exp.due {
			t.Errorf("%s: occurrence_date = %s, fires_on = %s, due_today = %v, want %s, %s, %v",
				rr.Kind, rr.OccurrenceDate, rr.FiresOn, rr.DueToday, exp.occurrence, exp.firesOn, exp.due)
		}
	}

	for _, key := range keys {
		if key.Kind == model.ReminderSevenDay && key.OccurrenceDate != calendar.MustParse("2025-01-20") {
			t.Errorf("sevenDayの発行済み確認が %s を対象にしている, want 2025-01-20", key.OccurrenceDate)
		}
	}
}

func TestScheduleHandler_LapsedSubscription(t *testing.T) {
	sub := testSubscription()
	end := calendar.MustParse("2025-03-01")
	sub.EndDate = &end

	h := NewScheduleHandler(&mockFinder{findByIDFn: func(ctx context.Context, id string) (*model.Subscription, error) {
		return sub, nil
	}}, nil, time.UTC)

	req := withChiURLParam(httptest.NewRequest(http.MethodGet, "/api/subscriptions/sub-1/schedule?date=2025-03-12", nil), "id", "sub-1")
	w := httptest.NewRecorder()
	h.Schedule(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var raw map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if raw["next_occurrence"] != nil {
		t.Errorf("next_occurrence = %v, want null", raw["next_occurrence"])
	}
	if rs, ok := raw["reminders"].([]interface{}); !ok || len(rs) != 0 {
		t.Errorf("reminders = %v, want []", raw["reminders"])
	}
}

func TestScheduleHandler_NotFound(t *testing.T) {
	h := NewScheduleHandler(&mockFinder{}, nil, time.UTC)

	req := withChiURLParam(httptest.NewRequest(http.MethodGet, "/api/subscriptions/missing/schedule", nil), "id", "missing")
	w := httptest.NewRecorder()
	h.Schedule(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodeSubscriptionNotFound {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeSubscriptionNotFound)
	}
}

func TestScheduleHandler_InvalidSubscription(t *testing.T) {
	sub := testSubscription()
	sub.AnchorDay = 40

	h := NewScheduleHandler(&mockFinder{findByIDFn: func(ctx context.Context, id string) (*model.Subscription, error) {
		return sub, nil
	}}, nil, time.UTC)

	req := withChiURLParam(httptest.NewRequest(http.MethodGet, "/api/subscriptions/sub-1/schedule", nil), "id", "sub-1")
	w := httptest.NewRecorder()
	h.Schedule(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
	if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodeInvalidSubscription {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeInvalidSubscription)
	}
}

func TestScheduleHandler_FinderError(t *testing.T) {
	h := NewScheduleHandler(&mockFinder{findByIDFn: func(ctx context.Context, id string) (*model.Subscription, error) {
		return nil, errors.New("connection reset")
	}}, nil, time.UTC)

	req := withChiURLParam(httptest.NewRequest(http.MethodGet, "/api/subscriptions/sub-1/schedule", nil), "id", "sub-1")
	w := httptest.NewRecorder()
	h.Schedule(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestScheduleHandler_InvalidDate(t *testing.T) {
	h := NewScheduleHandler(&mockFinder{}, nil, time.UTC)

	req := withChiURLParam(httptest.NewRequest(http.MethodGet, "/api/subscriptions/sub-1/schedule?date=tomorrow", nil), "id", "sub-1")
	w := httptest.NewRecorder()
	h.Schedule(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
