// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moonwave/sms/internal/model"
)

// 実行結果のラベル値
const (
	RunOutcomeSuccess   = "success"
	RunOutcomePartial   = "partial"
	RunOutcomeTruncated = "truncated"
	RunOutcomeFailed    = "failed"
)

// MetricsCollector はメトリクス収集のインターフェース。
// リマインダー実行とクリーンアップジョブから利用する。
type MetricsCollector interface {
	RecordRun(outcome string, duration time.Duration)
	RecordSubscriptionsScanned(count int)
	RecordReminderIssued(kind model.ReminderKind)
	RecordReminderDuplicate(kind model.ReminderKind)
	RecordRunError(category string)
	RecordSinkLatency(duration time.Duration)
	RecordRecordsPruned(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	runs                 *prometheus.CounterVec
	runDuration          prometheus.Histogram
	subscriptionsScanned prometheus.Counter
	remindersIssued      *prometheus.CounterVec
	remindersDuplicate   *prometheus.CounterVec
	runErrors            *prometheus.CounterVec
	sinkLatency          prometheus.Histogram
	recordsPruned        prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moonwave_runs_total",
			Help: "リマインダー実行の合計数（結果別）",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "moonwave_run_duration_seconds",
			Help:    "リマインダー実行1回の所要時間（秒）",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		subscriptionsScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moonwave_subscriptions_scanned_total",
			Help: "走査したサブスクリプションの合計数",
		}),
		remindersIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moonwave_reminders_issued_total",
			Help: "送信したリマインダーの合計数（種別別）",
		}, []string{"kind"}),
		remindersDuplicate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moonwave_reminders_duplicate_total",
			Help: "発行済みのためスキップしたリマインダーの合計数（種別別）",
		}, []string{"kind"}),
		runErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moonwave_run_errors_total",
			Help: "実行中に発生したエラーの合計数（分類別）",
		}, []string{"category"}),
		sinkLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "moonwave_sink_latency_seconds",
			Help:    "通知送信のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		recordsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moonwave_reminder_records_pruned_total",
			Help: "保持期間切れで削除したリマインダー記録の合計数",
		}),
	}

	reg.MustRegister(
		c.runs,
		c.runDuration,
		c.subscriptionsScanned,
		c.remindersIssued,
		c.remindersDuplicate,
		c.runErrors,
		c.sinkLatency,
		c.recordsPruned,
	)

	return c
}

// RecordRun は実行の結果と所要時間を記録する。
func (c *Collector) RecordRun(outcome string, duration time.Duration) {
	c.runs.WithLabelValues(outcome).Inc()
	c.runDuration.Observe(duration.Seconds())
}

// RecordSubscriptionsScanned は走査したサブスクリプション数を記録する。
func (c *Collector) RecordSubscriptionsScanned(count int) {
	c.subscriptionsScanned.Add(float64(count))
}

// RecordReminderIssued は送信したリマインダーを記録する。
func (c *Collector) RecordReminderIssued(kind model.ReminderKind) {
	c.remindersIssued.WithLabelValues(string(kind)).Inc()
}

// RecordReminderDuplicate は重複としてスキップしたリマインダーを記録する。
func (c *Collector) RecordReminderDuplicate(kind model.ReminderKind) {
	c.remindersDuplicate.WithLabelValues(string(kind)).Inc()
}

// RecordRunError はエラーを分類別に記録する。
func (c *Collector) RecordRunError(category string) {
	c.runErrors.WithLabelValues(category).Inc()
}

// RecordSinkLatency は通知送信のレイテンシを記録する。
func (c *Collector) RecordSinkLatency(duration time.Duration) {
	c.sinkLatency.Observe(duration.Seconds())
}

// RecordRecordsPruned は削除したリマインダー記録数を記録する。
func (c *Collector) RecordRecordsPruned(count int64) {
	c.recordsPruned.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。runコマンドなど公開先のない実行で使用する。
type Nop struct{}

func (Nop) RecordRun(string, time.Duration)            {}
func (Nop) RecordSubscriptionsScanned(int)             {}
func (Nop) RecordReminderIssued(model.ReminderKind)    {}
func (Nop) RecordReminderDuplicate(model.ReminderKind) {}
func (Nop) RecordRunError(string)                      {}
func (Nop) RecordSinkLatency(time.Duration)            {}
func (Nop) RecordRecordsPruned(int64)                  {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
