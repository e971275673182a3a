package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Telegramログイン情報の検証エラー。
var (
	// ErrSecretMissing はボットトークンが設定されていないことを示す。
	ErrSecretMissing = errors.New("telegram bot token is not configured")
	// ErrSignatureInvalid は署名が一致しない、または欠落していることを示す。
	ErrSignatureInvalid = errors.New("telegram login signature is invalid")
	// ErrAssertionStale はauth_dateが古すぎる、欠落している、または不正であることを示す。
	ErrAssertionStale = errors.New("telegram login assertion is stale")
)

// DefaultMaxAssertionAge はログイン情報を受け付ける最大経過時間。
const DefaultMaxAssertionAge = 24 * time.Hour

// hashField は署名を格納するフィールド名。署名対象からは除外する。
const hashField = "hash"

// VerifierConfig はVerifierの設定。
type VerifierConfig struct {
	// BotToken はTelegramボットのトークン。空の場合はすべての検証が失敗する。
	BotToken string
	// MaxAge はauth_dateからの許容経過時間。0の場合はDefaultMaxAssertionAge。
	MaxAge time.Duration
	// AllowMissingAuthDate はauth_dateの欠落を許容する互換モード。
	AllowMissingAuthDate bool
	// Now は現在時刻を返す。nilの場合はtime.Now。
	Now func() time.Time
}

// Verifier はTelegramログインウィジェットが返すログイン情報の署名と鮮度を検証する。
// I/Oを行わず、複数のゴルーチンから同時に使用できる。
type Verifier struct {
	secretKey    []byte
	maxAge       time.Duration
	allowMissing bool
	now          func() time.Time
}

// NewVerifier はVerifierを生成する。
// 署名鍵はボットトークンのSHA-256ハッシュとなる。
func NewVerifier(cfg VerifierConfig) *Verifier {
	v := &Verifier{
		maxAge:       cfg.MaxAge,
		allowMissing: cfg.AllowMissingAuthDate,
		now:          cfg.Now,
	}
	if cfg.BotToken != "" {
		sum := sha256.Sum256([]byte(cfg.BotToken))
		v.secretKey = sum[:]
	}
	if v.maxAge <= 0 {
		v.maxAge = DefaultMaxAssertionAge
	}
	if v.now == nil {
		v.now = time.Now
	}
	return v
}

// Verify はログイン情報が正当であればtrueを返す。
func (v *Verifier) Verify(assertion map[string]string) bool {
	return v.Check(assertion) == nil
}

// Check はログイン情報を検証し、失敗理由を型付きエラーで返す。
// 署名の比較は定数時間で行う。署名が正しくてもauth_dateが古い場合はErrAssertionStale。
func (v *Verifier) Check(assertion map[string]string) error {
	if len(v.secretKey) == 0 {
		return ErrSecretMissing
	}

	supplied, err := hex.DecodeString(strings.ToLower(assertion[hashField]))
	if err != nil || len(supplied) != sha256.Size {
		return ErrSignatureInvalid
	}

	mac := hmac.New(sha256.New, v.secretKey)
	mac.Write([]byte(DataCheckString(assertion)))
	if !hmac.Equal(mac.Sum(nil), supplied) {
		return ErrSignatureInvalid
	}

	return v.checkFreshness(assertion["auth_date"])
}

func (v *Verifier) checkFreshness(raw string) error {
	if raw == "" {
		if v.allowMissing {
			return nil
		}
		return ErrAssertionStale
	}

	authDate, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return ErrAssertionStale
	}
	if authDate == 0 {
		if v.allowMissing {
			return nil
		}
		return ErrAssertionStale
	}

	age := v.now().Sub(time.Unix(authDate, 0))
	if age > v.maxAge {
		return ErrAssertionStale
	}
	return nil
}

// DataCheckString は署名対象文字列を組み立てる。
// hash以外のフィールドを"key=value"形式でキー順に並べ、改行で連結する。
func DataCheckString(assertion map[string]string) string {
	keys := make([]string, 0, len(assertion))
	for k := range assertion {
		if k == hashField {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+assertion[k])
	}
	return strings.Join(lines, "\n")
}
