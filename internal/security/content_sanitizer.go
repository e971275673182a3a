// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はプロフィールやプロジェクトの自由記述欄からマークアップを取り除く。
type TextSanitizer interface {
	// Sanitize はすべてのHTMLタグを除去したプレーンテキストを返す。
	// script/style要素は中身ごと除去される。前後の空白は取り除く。
	Sanitize(raw string) string
}

// contentSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはゴルーチンセーフ。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はタグを一切許可しないポリシーでTextSanitizerを生成する。
func NewContentSanitizer() *contentSanitizer {
	return &contentSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はHTMLタグを除去し、エスケープされた文字実体を元に戻す。
// 保存値はプレーンテキストとして扱い、表示側でエスケープする。
func (s *contentSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}
