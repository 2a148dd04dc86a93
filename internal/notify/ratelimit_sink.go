package notify

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedSink は送信レートを制限するSinkのラッパー。
// 上限に達した場合はトークンが補充されるまで待機する。
type RateLimitedSink struct {
	next    Sink
	limiter *rate.Limiter
}

// NewRateLimitedSink はperSecond件/秒、バースト幅burstでnextへの送信を制限する。
// perSecondが0以下の場合は制限しない。
func NewRateLimitedSink(next Sink, perSecond float64, burst int) *RateLimitedSink {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedSink{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Send はレート制限の許可を待ってからnextに委譲する。
func (s *RateLimitedSink) Send(ctx context.Context, n Notification) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("送信レート制限の待機に失敗しました: %w", err)
	}
	return s.next.Send(ctx, n)
}

var _ Sink = (*RateLimitedSink)(nil)
