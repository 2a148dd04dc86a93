package notify

import (
	"context"
	"log/slog"
)

// LogSink は通知を構造化ログとして出力する。開発環境とドライランで使用する。
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink はLogSinkを生成する。
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Send は通知を1行のログとして出力する。常に成功する。
func (s *LogSink) Send(ctx context.Context, n Notification) error {
	s.logger.InfoContext(ctx, "リマインダー通知",
		slog.String("owner_id", n.OwnerID),
		slog.String("subscription_id", n.SubscriptionID),
		slog.String("kind", string(n.Kind)),
		slog.String("occurrence_date", n.OccurrenceDate.String()),
		slog.String("title", n.Title()),
		slog.String("body", n.Body()),
	)
	return nil
}

var _ Sink = (*LogSink)(nil)
