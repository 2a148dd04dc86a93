package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// 重複排除ストアのバックエンド。
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// 通知の送信先。
const (
	SinkLog     = "log"
	SinkWebhook = "webhook"
	SinkNATS    = "nats"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL    string
	DBMaxOpenConns int
	DBMaxIdleConns int
	DBConnLifetime time.Duration
	PageSize       int

	// Scheduler
	Timezone          string
	Location          *time.Location
	ReminderSchedule  string
	WorkerConcurrency int
	CallTimeout       time.Duration
	ReadAttempts      int
	ReadRetryDelay    time.Duration

	// Dedup store
	DedupBackend string
	RedisURL     string
	RecordTTL    time.Duration

	// Sink
	Sink           string
	WebhookURL     string
	WebhookSecret  string
	NATSURL        string
	NATSSubject    string
	SinkRatePerSec float64
	SinkBurst      int

	// Cleanup
	RetentionDays   int
	CleanupSchedule string

	// Server
	ServerPort string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込むが、既に設定されている環境変数が優先される。
// 必須環境変数が未設定の場合や、値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf(".envファイルの読み込みに失敗しました: %w", err)
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 20)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	cfg.PageSize = getEnvInt("PAGE_SIZE", 200)
	cfg.Timezone = getEnvString("TIMEZONE", "Asia/Seoul")
	cfg.ReminderSchedule = getEnvString("REMINDER_SCHEDULE", "0 9 * * *")
	cfg.WorkerConcurrency = getEnvInt("WORKER_CONCURRENCY", 8)
	cfg.CallTimeout = getEnvDuration("CALL_TIMEOUT", 5*time.Second)
	cfg.ReadAttempts = getEnvInt("READ_ATTEMPTS", 2)
	cfg.ReadRetryDelay = getEnvDuration("READ_RETRY_DELAY", 200*time.Millisecond)
	cfg.DedupBackend = strings.ToLower(getEnvString("DEDUP_BACKEND", BackendPostgres))
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.RecordTTL = getEnvDuration("RECORD_TTL", 2160*time.Hour)
	cfg.Sink = strings.ToLower(getEnvString("SINK", SinkLog))
	cfg.WebhookURL = getEnvString("WEBHOOK_URL", "")
	cfg.WebhookSecret = getEnvString("WEBHOOK_SECRET", "")
	cfg.NATSURL = getEnvString("NATS_URL", "")
	cfg.NATSSubject = getEnvString("NATS_SUBJECT", "moonwave.reminders")
	cfg.SinkRatePerSec = getEnvFloat("SINK_RATE_PER_SEC", 20)
	cfg.SinkBurst = getEnvInt("SINK_BURST", 20)
	cfg.RetentionDays = getEnvInt("RETENTION_DAYS", 90)
	cfg.CleanupSchedule = getEnvString("CLEANUP_SCHEDULE", "30 3 * * *")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate は値の組み合わせを検証し、タイムゾーンを解決する。
func (c *Config) validate() error {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("TIMEZONE が不正です %q: %w", c.Timezone, err)
	}
	c.Location = loc

	if _, err := cron.ParseStandard(c.ReminderSchedule); err != nil {
		return fmt.Errorf("REMINDER_SCHEDULE が不正です %q: %w", c.ReminderSchedule, err)
	}
	if _, err := cron.ParseStandard(c.CleanupSchedule); err != nil {
		return fmt.Errorf("CLEANUP_SCHEDULE が不正です %q: %w", c.CleanupSchedule, err)
	}

	switch c.DedupBackend {
	case BackendPostgres, BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("DEDUP_BACKEND=redis には REDIS_URL が必要です")
		}
	default:
		return fmt.Errorf("DEDUP_BACKEND が不正です: %q", c.DedupBackend)
	}

	switch c.Sink {
	case SinkLog:
	case SinkWebhook:
		if c.WebhookURL == "" {
			return errors.New("SINK=webhook には WEBHOOK_URL が必要です")
		}
	case SinkNATS:
		if c.NATSURL == "" {
			return errors.New("SINK=nats には NATS_URL が必要です")
		}
	default:
		return fmt.Errorf("SINK が不正です: %q", c.Sink)
	}

	if c.RetentionDays < 1 {
		return fmt.Errorf("RETENTION_DAYS は1以上である必要があります: %d", c.RetentionDays)
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
