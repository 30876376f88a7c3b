package app

import "strings"

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーを起動する。デフォルト。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションと非アクティブユーザーの定期削除を行う。
	CommandWorker Command = "worker"
	// CommandMigrate はMongoDBのインデックスマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のサーバーの/healthを確認する。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// Commands はサポートするサブコマンドの一覧。
var Commands = []Command{CommandServe, CommandWorker, CommandMigrate, CommandHealthcheck}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	for _, c := range Commands {
		if string(c) == args[0] {
			return c
		}
	}
	return CommandServe
}

// isUnknown は先頭引数がサポート外のサブコマンドかどうかを返す。
func isUnknown(args []string) bool {
	return len(args) > 0 && ParseCommand(args) != Command(args[0])
}

// commandNames はログ出力用にサブコマンド名を連結する。
func commandNames() string {
	names := make([]string, len(Commands))
	for i, c := range Commands {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
