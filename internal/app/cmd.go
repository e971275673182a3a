package app

// Command はsevaプロセスの起動モード。os.Args[1]で選ぶ。
type Command string

const (
	// CommandServe はディレクトリAPIとTelegramログインを提供する。
	// AUTO_MIGRATEが有効なら起動前にマイグレーションとタグ投入を行う。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションの定期削除を行い、メトリクスだけを公開する。
	CommandWorker Command = "worker"
	// CommandMigrate はマイグレーションを適用し、既定のサービスタグを投入して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のserveの/healthを叩いて終了コードで結果を返す。
	// 設定の読み込みもDB接続も行わないため、distrolessイメージのHEALTHCHECKから呼べる。
	CommandHealthcheck Command = "healthcheck"
)

var commandSummaries = map[Command]string{
	CommandServe:       "directory API and Telegram login",
	CommandWorker:      "expired session cleanup",
	CommandMigrate:     "schema migrations and service tag seeding",
	CommandHealthcheck: "check /health of a running server",
}

// ParseCommand は引数の先頭からサブコマンドを決める。
// 引数がない場合や知らないサブコマンドの場合はserveとして扱う。2番目以降の引数は見ない。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd := Command(args[0]); cmd.known() {
		return cmd
	}
	return CommandServe
}

func (c Command) known() bool {
	_, ok := commandSummaries[c]
	return ok
}

// Summary は起動ログに出す短い説明を返す。
func (c Command) Summary() string {
	return commandSummaries[c]
}

// NeedsConfig は環境変数からの設定読み込みとDB接続が必要かを返す。
func (c Command) NeedsConfig() bool {
	return c != CommandHealthcheck
}
