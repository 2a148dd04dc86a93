// Command moonwave はサブスクリプションの請求リマインダーエンジンを起動する。
//
// 使い方:
//
//	moonwave [serve|worker|run [YYYY-MM-DD]|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/moonwave/sms/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "moonwave: %v\n", err)
		os.Exit(1)
	}
}
