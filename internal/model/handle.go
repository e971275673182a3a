package model

import (
	"regexp"
	"strings"
)

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,64}$`)

// handlePrefixes は入力されがちなTelegramのURL形式。
var handlePrefixes = []string{
	"https://t.me/",
	"http://t.me/",
	"https://telegram.me/",
	"t.me/",
}

// NormalizeTelegramHandle はTelegramのユーザー名を正規化する。
// 前後の空白と先頭の@（またはt.meのURL）を取り除き、表示用の"@name"と
// 照合用の小文字キーを返す。ユーザー名として不正な場合はokがfalseになる。
func NormalizeTelegramHandle(raw string) (display, key string, ok bool) {
	name := strings.TrimSpace(raw)
	for _, prefix := range handlePrefixes {
		if len(name) >= len(prefix) && strings.EqualFold(name[:len(prefix)], prefix) {
			name = name[len(prefix):]
			break
		}
	}
	name = strings.TrimPrefix(name, "@")
	if !handlePattern.MatchString(name) {
		return "", "", false
	}
	return "@" + name, strings.ToLower(name), true
}
