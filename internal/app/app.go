package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/moonwave/sms/internal/config"
	"github.com/moonwave/sms/internal/database"
	"github.com/moonwave/sms/internal/handler"
	"github.com/moonwave/sms/internal/logger"
	"github.com/moonwave/sms/internal/metrics"
	"github.com/moonwave/sms/internal/middleware"
	"github.com/moonwave/sms/internal/worker/cleanup"
	"github.com/moonwave/sms/internal/worker/reminder"
)

// dbPingTimeout は起動時のDB疎通確認のタイムアウト。
const dbPingTimeout = 5 * time.Second

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。ログはwに出力するが、runコマンドでは
// wを実行レポート専用とし、ログは標準エラー出力に出す。
func Run(w io.Writer, args []string) error {
	return run(w, os.Stderr, args)
}

// run はRunの本体。runコマンドのログ出力先をstderrとして受け取る。
func run(w, stderr io.Writer, args []string) error {
	cmd := ParseCommand(args)

	logw := w
	if cmd == CommandRun {
		logw = stderr
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(logw)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("timezone", cfg.Timezone),
		slog.String("dedup_backend", cfg.DedupBackend),
		slog.String("sink", cfg.Sink),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandRun:
		return runOnce(w, cfg, args)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolOptions{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := database.Ping(context.Background(), db, dbPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return db, nil
}

// newRegistry はGo/プロセスのコレクタを含むPrometheusレジストリとCollectorを生成する。
func newRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// newServer は運用APIのHTTPサーバーを構築する。
// 手動実行は全件走査を待つため、WriteTimeoutを長めに取る。
func newServer(cfg *config.Config, db *sql.DB, eng *engine, reg prometheus.Gatherer, limiter *middleware.RateLimiter) *http.Server {
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:        slog.Default(),
		HealthChecker: db,
		Gatherer:      reg,
		Runner:        eng.driver,
		RateLimiter:   limiter,
		Subscriptions: eng.subscriptions,
		Issued:        eng.dedup,
		Location:      cfg.Location,
	})

	return &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}

// runServe は運用APIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. メトリクス
	reg, collector := newRegistry()

	// 3. エンジンの構築
	eng, err := buildEngine(context.Background(), cfg, db, collector, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to build reminder engine: %w", err)
	}
	defer eng.Close()

	// 4. HTTPサーバーの起動
	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(), slog.Default())
	defer limiter.Stop()
	server := newServer(cfg, db, eng, reg, limiter)

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// cronトリガーでリマインダー実行と保持期間クリーンアップを定期実行する。
// ヘルスチェックとメトリクスのためにHTTPサーバーも併せて起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. メトリクスとエンジン
	reg, collector := newRegistry()
	eng, err := buildEngine(context.Background(), cfg, db, collector, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to build reminder engine: %w", err)
	}
	defer eng.Close()

	// 3. トリガーの構築
	trigger, err := reminder.NewTrigger(eng.driver, cfg.ReminderSchedule, cfg.Location, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create reminder trigger: %w", err)
	}

	// 4. クリーンアップジョブの登録（TTLで失効するストアでは不要）
	if eng.pruner != nil {
		job := cleanup.NewCleanupJob(eng.pruner, collector, cfg.Location, slog.Default())
		job.RetentionDays = cfg.RetentionDays
		if err := trigger.AddJob("cleanup", cfg.CleanupSchedule, job.Run); err != nil {
			return fmt.Errorf("failed to register cleanup job: %w", err)
		}
	} else {
		slog.Info("cleanup job disabled: record store expires records by TTL")
	}

	// 5. ヘルスチェック・メトリクス用HTTPサーバー
	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(), slog.Default())
	defer limiter.Stop()
	server := newServer(cfg, db, eng, reg, limiter)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("worker starting",
		slog.String("reminder_schedule", cfg.ReminderSchedule),
		slog.String("cleanup_schedule", cfg.CleanupSchedule),
		slog.Int("concurrency", cfg.WorkerConcurrency),
	)

	// トリガーをメインgoroutineで実行（ブロッキング）
	trigger.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runOnce はリマインダー実行を1回だけ行い、実行レポートをJSONでwに出力する。
// 日付引数（YYYY-MM-DD）を省略した場合は設定タイムゾーンでの今日を使う。
// 致命的エラーで中断した場合のみエラーを返す。
func runOnce(w io.Writer, cfg *config.Config, args []string) error {
	today, err := ParseRunDate(args, time.Now(), cfg.Location)
	if err != nil {
		return err
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	eng, err := buildEngine(context.Background(), cfg, db, metrics.Nop{}, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to build reminder engine: %w", err)
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := eng.driver.RunOnce(ctx, today)
	if err != nil {
		return fmt.Errorf("reminder run failed: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to write run report: %w", err)
	}
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
