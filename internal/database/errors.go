package database

import (
	"errors"
	"fmt"
)

// データアクセス層が返すエラー種別。
// 呼び出し側はerrors.Isで判定し、ドライバ固有のエラー型には依存しない。
var (
	// ErrUnavailable はバックエンドに到達できない・ビジー・ロック中であることを示す。
	ErrUnavailable = errors.New("database: backend unavailable")
	// ErrMisconfigured はスキーマ不整合やSQL文の誤りなど、設定・実装側の問題を示す。
	ErrMisconfigured = errors.New("database: adapter misconfigured")
	// ErrConflict は一意制約違反を示す。
	ErrConflict = errors.New("database: conflict")
	// ErrNotFound は外部キーの参照先が存在しないことを示す。
	ErrNotFound = errors.New("database: referenced row not found")
	// ErrClosed は終了済みのUnitOfWorkを使用したことを示す。
	ErrClosed = errors.New("database: unit of work is closed")
)

// ErrorKind はエラー種別をメトリクスやログ向けの短いラベルに変換する。
// 種別に該当しない場合は"other"を返す。
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrMisconfigured), errors.Is(err, ErrClosed):
		return "misconfigured"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "other"
	}
}

// wrapKind は元のエラーを保持したまま種別を付与する。
func wrapKind(kind, err error) error {
	return fmt.Errorf("%w: %w", kind, err)
}
