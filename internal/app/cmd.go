package app

import (
	"fmt"
	"time"

	"github.com/moonwave/sms/internal/calendar"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe は運用APIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はcronトリガーでリマインダーを定期実行するワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandRun はリマインダー実行を1回だけ行うことを示す。外部のcronやジョブ基盤から起動する。
	CommandRun Command = "run"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "run":
		return CommandRun
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}

// ParseRunDate はrunコマンドの日付引数（YYYY-MM-DD）を解析する。
// 省略時はlocのタイムゾーンでの今日を返す。
func ParseRunDate(args []string, now time.Time, loc *time.Location) (calendar.Date, error) {
	if len(args) < 2 || args[1] == "" {
		return calendar.Today(now, loc), nil
	}
	d, err := calendar.Parse(args[1])
	if err != nil {
		return calendar.Date{}, fmt.Errorf("run コマンドの日付が不正です: %w", err)
	}
	return d, nil
}
