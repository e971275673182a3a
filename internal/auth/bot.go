package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/singleflight"
)

// BotConfig はログインウィジェット用のボット情報の設定。
type BotConfig struct {
	Token string
	// Username が設定されている場合はBot APIを呼ばずにそのまま使う。
	Username string
	// APIEndpoint はBot APIのエンドポイント書式（tgbotapi.APIEndpoint形式）。
	APIEndpoint string
	Timeout     time.Duration
}

// BotInfo はログインウィジェットに必要なボットのユーザー名を提供する。
// Bot APIのgetMeで解決した結果は成功時のみキャッシュする。
// 同時に来た解決要求は1回のgetMeにまとめ、呼び出し側はそれぞれのctxで待ちを打ち切れる。
type BotInfo struct {
	config BotConfig
	client *http.Client
	group  singleflight.Group

	mu       sync.Mutex
	username string
}

// NewBotInfo はBotInfoを生成する。
func NewBotInfo(config BotConfig) *BotInfo {
	if config.APIEndpoint == "" {
		config.APIEndpoint = tgbotapi.APIEndpoint
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &BotInfo{
		config:   config,
		client:   &http.Client{Timeout: config.Timeout},
		username: config.Username,
	}
}

// Username はボットのユーザー名を返す。
// 設定値がなければBot APIのgetMeで取得する。トークン未設定の場合はErrSecretMissing。
func (b *BotInfo) Username(ctx context.Context) (string, error) {
	if name := b.cached(); name != "" {
		return name, nil
	}
	if b.config.Token == "" {
		return "", ErrSecretMissing
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ch := b.group.DoChan("getMe", b.resolve)
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (b *BotInfo) cached() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.username
}

// resolve はgetMeを呼び、成功した場合だけ結果を保存する。
// 呼び出し側のctxが終了しても処理は続き、HTTPクライアントのタイムアウトで打ち切られる。
func (b *BotInfo) resolve() (any, error) {
	if name := b.cached(); name != "" {
		return name, nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(b.config.Token, b.config.APIEndpoint, b.client)
	if err != nil {
		return "", fmt.Errorf("failed to resolve bot username: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.username = bot.Self.UserName
	return b.username, nil
}
