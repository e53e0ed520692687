package app

import (
	"github.com/docopt/docopt-go"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションの掃除ジョブを起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

const usage = `LateWork API server.

Usage:
    latework [serve]
    latework worker
    latework migrate
    latework healthcheck
    latework -h | --help

Options:
    -h --help    Show this screen.`

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if args == nil {
		// nilの場合docoptはos.Argsを読むため空スライスに置き換える
		args = []string{}
	}
	parser := &docopt.Parser{HelpHandler: docopt.NoHelpHandler}
	opts, err := parser.ParseArgs(usage, args, "")
	if err != nil {
		return CommandServe
	}

	for _, cmd := range []Command{CommandWorker, CommandMigrate, CommandHealthcheck} {
		if ok, _ := opts.Bool(string(cmd)); ok {
			return cmd
		}
	}
	return CommandServe
}

// Usage は使い方の文字列を返す。
func Usage() string {
	return usage
}
