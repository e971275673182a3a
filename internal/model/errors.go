// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, directory, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeSignatureInvalid   = "SIGNATURE_INVALID"
	ErrCodeAssertionStale     = "ASSERTION_STALE"
	ErrCodeLoginDisabled      = "LOGIN_DISABLED"
	ErrCodeHandleMissing      = "HANDLE_MISSING"
	ErrCodeValidation         = "VALIDATION_FAILED"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeTagNotFound        = "TAG_NOT_FOUND"
	ErrCodeProjectNotFound    = "PROJECT_NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrCodeWebsiteUnreachable = "WEBSITE_UNREACHABLE"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	ErrCodeCSRFInvalid        = "CSRF_INVALID"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewSignatureInvalidError はログイン情報の署名検証に失敗した場合のエラーを生成する。
func NewSignatureInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeSignatureInvalid,
		Message:  "Telegramログイン情報の署名を検証できませんでした。",
		Category: "auth",
		Action:   "ログインウィジェットからもう一度ログインしてください。",
	}
}

// NewAssertionStaleError はログイン情報の有効期限（24時間）が切れている場合のエラーを生成する。
func NewAssertionStaleError() *APIError {
	return &APIError{
		Code:     ErrCodeAssertionStale,
		Message:  "Telegramログイン情報の有効期限が切れています。",
		Category: "auth",
		Action:   "ログインウィジェットからもう一度ログインしてください。",
	}
}

// NewLoginDisabledError はボットトークン未設定でログインが無効な場合のエラーを生成する。
func NewLoginDisabledError() *APIError {
	return &APIError{
		Code:     ErrCodeLoginDisabled,
		Message:  "Telegramログインは現在利用できません。",
		Category: "auth",
		Action:   "管理者に問い合わせてください。",
	}
}

// NewHandleMissingError はTelegramアカウントにユーザー名がない場合のエラーを生成する。
func NewHandleMissingError() *APIError {
	return &APIError{
		Code:     ErrCodeHandleMissing,
		Message:  "Telegramアカウントにユーザー名が設定されていません。",
		Category: "auth",
		Action:   "Telegramの設定でユーザー名を登録してから、もう一度ログインしてください。",
	}
}

// NewValidationError は入力値の検証エラーを生成する。
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力値が不正です（%s）: %s", field, reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "directory",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewTagNotFoundError は指定されたサービスタグが存在しない場合のエラーを生成する。
func NewTagNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeTagNotFound,
		Message:  "指定されたサービスタグが存在しません。",
		Category: "directory",
		Action:   "タグ一覧から選び直してください。",
	}
}

// NewProjectNotFoundError はプロジェクトが見つからない場合のエラーを生成する。
func NewProjectNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeProjectNotFound,
		Message:  "プロジェクトが見つかりません。",
		Category: "directory",
		Action:   "プロジェクトIDを確認してください。",
	}
}

// NewHandleTakenError はTelegramユーザー名が既に登録済みの場合のエラーを生成する。
func NewHandleTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeConflict,
		Message:  "このTelegramユーザー名は既に登録されています。",
		Category: "directory",
		Action:   "Telegramでログインして既存のプロフィールを確認してください。",
	}
}

// NewBackendUnavailableError はデータベースに到達できない場合のエラーを生成する。
func NewBackendUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeBackendUnavailable,
		Message:  "現在サービスを利用できません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewWebsiteUnreachableError はWebサイトURLに到達できない場合のエラーを生成する。
func NewWebsiteUnreachableError() *APIError {
	return &APIError{
		Code:     ErrCodeWebsiteUnreachable,
		Message:  "WebサイトのURLにアクセスできませんでした。",
		Category: "validation",
		Action:   "公開されているWebサイトのURLを入力してください。",
	}
}

// NewUnauthorizedError は有効なセッションがない場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "Telegramでログインしてください。",
	}
}

// NewRateLimitedError はリクエスト数が上限を超えた場合のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewCSRFInvalidError はCSRFトークンの検証に失敗した場合のエラーを生成する。
func NewCSRFInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFInvalid,
		Message:  "リクエストの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
