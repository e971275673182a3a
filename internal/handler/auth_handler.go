package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/seva/internal/auth"
	"github.com/hitoshi/seva/internal/middleware"
	"github.com/hitoshi/seva/internal/model"
)

// trackingParams はリダイレクト経路で付与されうる計測用パラメータ。署名対象には含めない。
// ウィジェットが将来フィールドを追加しても署名検証が壊れないよう、それ以外のパラメータはすべて渡す。
var trackingParams = map[string]bool{
	"fbclid":  true,
	"gclid":   true,
	"yclid":   true,
	"msclkid": true,
	"_ga":     true,
	"_gl":     true,
}

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	BindSession(ctx context.Context, assertion map[string]string) (*auth.BindResult, error)
	Logout(ctx context.Context, sessionID string) error
	GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error)
}

// BotUsernameResolver はログインウィジェット用のボットユーザー名を解決する。
type BotUsernameResolver interface {
	Username(ctx context.Context) (string, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はTelegramログイン関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	bot     BotUsernameResolver
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, bot BotUsernameResolver, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		bot:     bot,
		config:  config,
	}
}

// Callback はログインウィジェットのコールバックを処理する。
// GET|POST /auth/telegram/callback
// 成功時はセッションCookieを設定してBASE_URLへ、失敗時はlogin_error付きでBASE_URLへリダイレクトする。
// Accept: application/jsonの場合はJSONで応答する。
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.loginFailed(w, r, model.NewSignatureInvalidError())
		return
	}

	result, err := h.service.BindSession(r.Context(), assertionFrom(r.Form))
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			h.loginFailed(w, r, apiErr)
			return
		}
		handleServiceError(w, err)
		return
	}

	http.SetCookie(w, h.sessionCookie(result.Session.ID, h.config.SessionMaxAge))

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{
			"user_id": result.UserID,
			"created": result.Created,
		})
		return
	}
	http.Redirect(w, r, h.config.BaseURL, http.StatusSeeOther)
}

// Config はログインウィジェットの設定を返す。
// GET /auth/telegram/config
func (h *AuthHandler) Config(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	username, err := h.bot.Username(ctx)
	if errors.Is(err, auth.ErrSecretMissing) {
		writeJSON(w, http.StatusOK, map[string]any{
			"bot_username":  "",
			"login_enabled": false,
		})
		return
	}
	if err != nil {
		slog.Error("failed to resolve bot username", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewLoginDisabledError())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"bot_username":  username,
		"login_enabled": true,
	})
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if logoutErr := h.service.Logout(r.Context(), cookie.Value); logoutErr != nil {
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
	}

	http.SetCookie(w, h.sessionCookie("", -1))

	if wantsJSON(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, h.config.BaseURL, http.StatusSeeOther)
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err != nil || cookie.Value == "" {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	user, err := h.service.GetCurrentUser(r.Context(), cookie.Value)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeUserNotFound {
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(*user))
}

func (h *AuthHandler) loginFailed(w http.ResponseWriter, r *http.Request, apiErr *model.APIError) {
	if wantsJSON(r) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}
	http.Redirect(w, r, loginErrorURL(h.config.BaseURL, apiErr.Code), http.StatusSeeOther)
}

func (h *AuthHandler) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// assertionFrom はリクエストパラメータから計測用パラメータを除いたフィールドを取り出す。
// 同じフィールドが複数ある場合は最初の値を使う。
func assertionFrom(values url.Values) map[string]string {
	assertion := make(map[string]string, len(values))
	for field, v := range values {
		if len(v) == 0 || isTrackingParam(field) {
			continue
		}
		assertion[field] = v[0]
	}
	return assertion
}

func isTrackingParam(field string) bool {
	return strings.HasPrefix(field, "utm_") || trackingParams[field]
}

// loginErrorURL はlogin_errorクエリを付与したリダイレクト先を返す。
func loginErrorURL(baseURL, code string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "/?login_error=" + url.QueryEscape(code)
	}
	q := u.Query()
	q.Set("login_error", code)
	u.RawQuery = q.Encode()
	return u.String()
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
