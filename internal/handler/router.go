package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/moonwave/sms/internal/metrics"
	"github.com/moonwave/sms/internal/middleware"
	"github.com/moonwave/sms/internal/repository"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ヘルスチェック
	HealthChecker HealthChecker

	// メトリクス（nilの場合は/metricsを公開しない）
	Gatherer prometheus.Gatherer

	// 手動実行
	Runner      RunnerInterface
	RateLimiter *middleware.RateLimiter

	// 請求日プレビュー
	Subscriptions repository.SubscriptionFinder
	Issued        IssuedChecker

	// 「今日」を決める正規タイムゾーン
	Location *time.Location
}

// NewRouter は運用APIのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery
//
// 手動実行（POST /api/runs）にはクライアントごとのレート制限を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))

	healthHandler := NewHealthHandler(deps.HealthChecker)
	runHandler := NewRunHandler(deps.Runner, deps.Location)
	scheduleHandler := NewScheduleHandler(deps.Subscriptions, deps.Issued, deps.Location)

	r.Get("/health", healthHandler.Health)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.Middleware("manual_run"))
			}
			r.Post("/runs", runHandler.Run)
		})

		r.Get("/subscriptions/{id}/schedule", scheduleHandler.Schedule)
	})

	return r
}
