// Package retry は外部呼び出しのタイムアウトと、冪等な読み取りの有界リトライを提供する。
//
// 書き込み（リマインダー記録の挿入や通知の送信）は二重実行を避けるため再試行しない。
// Readは読み取り専用の呼び出しにだけ使うこと。
package retry

import (
	"context"
	"time"
)

// Policy は読み取りリトライの設定。
type Policy struct {
	// Attempts は最大試行回数。1未満は1として扱う。
	Attempts int
	// Timeout は1回の呼び出しのタイムアウト。0以下なら設定しない。
	Timeout time.Duration
	// Delay は再試行までの待機時間。
	Delay time.Duration
}

// Read はfnを最大p.Attempts回実行し、成功した時点の値と試行回数を返す。
// 親ctxがキャンセルされた場合は待機を打ち切り、最後のエラーを返す。
func Read[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, int, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var (
		zero    T
		lastErr error
	)
	for i := 1; i <= attempts; i++ {
		v, err := Call(ctx, p.Timeout, fn)
		if err == nil {
			return v, i, nil
		}
		lastErr = err

		if i == attempts || ctx.Err() != nil {
			return zero, i, lastErr
		}

		timer := time.NewTimer(p.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, i, lastErr
		case <-timer.C:
		}
	}
	return zero, attempts, lastErr
}

// Call はtimeoutを設定したcontextでfnを1回だけ呼び出す。timeoutが0以下なら設定しない。
func Call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx)
}
