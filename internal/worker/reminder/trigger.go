package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/moonwave/sms/internal/calendar"
)

// Runner はRunOnceを持つ実行主体。*Driverが満たす。
type Runner interface {
	RunOnce(ctx context.Context, today calendar.Date) (*RunReport, error)
}

// Trigger はcron式に従ってRunOnceを定期実行する。
// 「今日」はlocのタイムゾーンで決まる。前回の実行が終わっていない場合、その回はスキップする。
type Trigger struct {
	runner Runner
	loc    *time.Location
	logger *slog.Logger
	cron   *cron.Cron
	now    func() time.Time
	ctx    context.Context
}

// NewTrigger はTriggerを生成し、scheduleでリマインダー実行を登録する。
func NewTrigger(runner Runner, schedule string, loc *time.Location, logger *slog.Logger) (*Trigger, error) {
	if loc == nil {
		loc = time.UTC
	}
	t := &Trigger{
		runner: runner,
		loc:    loc,
		logger: logger,
		now:    time.Now,
		ctx:    context.Background(),
	}

	cl := cronLogger{logger: logger}
	t.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	if _, err := t.cron.AddFunc(schedule, t.fire); err != nil {
		return nil, fmt.Errorf("リマインダースケジュールが不正です %q: %w", schedule, err)
	}
	return t, nil
}

// AddJob はリマインダー実行とは別のジョブ（クリーンアップなど）をscheduleで登録する。
// fnにはStartに渡したcontextが渡される。
func (t *Trigger) AddJob(name, schedule string, fn func(ctx context.Context) error) error {
	_, err := t.cron.AddFunc(schedule, func() {
		if err := fn(t.ctx); err != nil {
			t.logger.Error("定期ジョブの実行に失敗しました",
				slog.String("job", name),
				slog.String("error", err.Error()),
			)
		}
	})
	if err != nil {
		return fmt.Errorf("ジョブ %s のスケジュールが不正です %q: %w", name, schedule, err)
	}
	return nil
}

// Start はcronを開始し、ctxがキャンセルされるまでブロックする。
// 停止時は実行中のジョブの完了を待つ。
func (t *Trigger) Start(ctx context.Context) {
	t.ctx = ctx
	t.cron.Start()

	entries := t.cron.Entries()
	var next time.Time
	if len(entries) > 0 {
		next = entries[0].Next
	}
	t.logger.Info("リマインダートリガーを開始しました",
		slog.String("timezone", t.loc.String()),
		slog.Int("jobs", len(entries)),
		slog.Time("next_run", next),
	)

	<-ctx.Done()

	stopped := t.cron.Stop()
	<-stopped.Done()
	t.logger.Info("リマインダートリガーを停止しました")
}

// fire はcronから呼ばれ、トリガーのタイムゾーンでの今日を基準にRunOnceを実行する。
func (t *Trigger) fire() {
	today := calendar.Today(t.now(), t.loc)

	report, err := t.runner.RunOnce(t.ctx, today)
	if err != nil {
		t.logger.Error("リマインダー実行に失敗しました",
			slog.String("today", today.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if len(report.Errors) > 0 {
		t.logger.Warn("リマインダー実行は一部のエラーを伴って完了しました",
			slog.String("run_id", report.RunID),
			slog.Int("error_count", len(report.Errors)),
		)
	}
}

// cronLogger はcron.Loggerをslogに適合させる。
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	if err == nil {
		err = errors.New("unknown")
	}
	l.logger.Error("cron: "+msg, append(keysAndValues, slog.String("error", err.Error()))...)
}
