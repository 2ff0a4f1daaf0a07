// formcoach は姿勢解析アプリのクライアントとIdPサーバーを1つのバイナリで提供する。
//
//	formcoach [client]     端末UIクライアント（デフォルト）
//	formcoach serve        IdPサーバー
//	formcoach migrate      データベースマイグレーション
//	formcoach healthcheck  ヘルスチェック
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/formcoach/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
