package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/seva/internal/auth"
	"github.com/hitoshi/seva/internal/database/dbtest"
	"github.com/hitoshi/seva/internal/metrics"
	"github.com/hitoshi/seva/internal/middleware"
	"github.com/hitoshi/seva/internal/project"
	"github.com/hitoshi/seva/internal/security"
	"github.com/hitoshi/seva/internal/tag"
	"github.com/hitoshi/seva/internal/user"
)

const testBotToken = "123456:test-bot-token"

// testApp は実際のサービスとSQLiteで構成したルーターを保持する。
type testApp struct {
	router  http.Handler
	cookies []*http.Cookie
	csrf    string
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	db := dbtest.NewSQLite(t)
	if _, err := tag.NewService(db).Seed(context.Background(), tag.DefaultTags); err != nil {
		t.Fatalf("failed to seed tags: %v", err)
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	db.SetErrorObserver(collector.RecordStoreError)

	sanitizer := security.NewContentSanitizer()
	verifier := auth.NewVerifier(auth.VerifierConfig{BotToken: testBotToken})
	authService := auth.NewService(verifier, db, collector, auth.ServiceConfig{SessionMaxAge: 3600})

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	router := NewRouter(&RouterDeps{
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		HTTPRecorder:      collector,
		SessionFinder:     authService,
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		HealthChecker:     db,
		MetricsHandler:    metrics.Handler(reg),
		AuthService:       authService,
		BotInfo:           auth.NewBotInfo(auth.BotConfig{Token: testBotToken, Username: "seva_test_bot"}),
		AuthConfig:        testAuthConfig,
		UserService:       user.NewService(db, sanitizer, nil, collector, user.ServiceConfig{}),
		TagService:        tag.NewService(db),
		ProjectService:    project.NewService(db, sanitizer),
	})
	return &testApp{router: router}
}

// do はブラウザのように保持済みCookieとCSRFヘッダーを付けてリクエストを送る。
func (a *testApp) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Accept", "application/json")
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.csrf != "" {
		req.Header.Set("X-CSRF-Token", a.csrf)
	}
	for _, c := range a.cookies {
		req.AddCookie(c)
	}

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	a.keepCookies(w.Result().Cookies())
	return w
}

func (a *testApp) keepCookies(received []*http.Cookie) {
	for _, c := range received {
		kept := a.cookies[:0]
		for _, old := range a.cookies {
			if old.Name != c.Name {
				kept = append(kept, old)
			}
		}
		a.cookies = kept
		if c.MaxAge >= 0 && c.Value != "" {
			a.cookies = append(a.cookies, &http.Cookie{Name: c.Name, Value: c.Value})
		}
	}
}

func (a *testApp) fetchCSRFToken(t *testing.T) {
	t.Helper()

	w := a.do(t, http.MethodGet, "/api/csrf-token", "")
	if w.Code != http.StatusOK {
		t.Fatalf("csrf-token status = %d", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode csrf token: %v", err)
	}
	a.csrf = body["token"]
}

// signedLoginQuery はテスト用ボットトークンで署名したログイン情報のクエリ文字列を返す。
func signedLoginQuery(fields map[string]string) string {
	secret := sha256.Sum256([]byte(testBotToken))
	mac := hmac.New(sha256.New, secret[:])
	mac.Write([]byte(auth.DataCheckString(fields)))

	values := url.Values{}
	for k, v := range fields {
		values.Set(k, v)
	}
	values.Set("hash", hex.EncodeToString(mac.Sum(nil)))
	return values.Encode()
}

func TestRouter_Health(t *testing.T) {
	app := newTestApp(t)

	w := app.do(t, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if w.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("expected request ID header")
	}
}

func TestRouter_TelegramConfig(t *testing.T) {
	app := newTestApp(t)

	w := app.do(t, http.MethodGet, "/auth/telegram/config", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "seva_test_bot") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestRouter_PostRequiresCSRF(t *testing.T) {
	app := newTestApp(t)

	w := app.do(t, http.MethodPost, "/api/users", `{"name":"Ann"}`)
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestRouter_MeRequiresSession(t *testing.T) {
	app := newTestApp(t)

	w := app.do(t, http.MethodGet, "/api/users/me", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestRouter_DirectoryFlow(t *testing.T) {
	app := newTestApp(t)
	app.fetchCSRFToken(t)

	// 1. タグ一覧
	w := app.do(t, http.MethodGet, "/api/tags", "")
	var tags []tagResponse
	if err := json.NewDecoder(w.Body).Decode(&tags); err != nil || len(tags) == 0 {
		t.Fatalf("tags = %v, err = %v", tags, err)
	}

	// 2. プロフィール登録
	body := fmt.Sprintf(`{"name":"Ann <b>Lee</b>","telegram":"https://t.me/Ann_L","location":"Riga","service_tags":[%d]}`, tags[0].ID)
	w = app.do(t, http.MethodPost, "/api/users", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body = %s", w.Code, w.Body.String())
	}
	var registered userResponse
	if err := json.NewDecoder(w.Body).Decode(&registered); err != nil {
		t.Fatalf("failed to decode register response: %v", err)
	}
	if registered.Name != "Ann Lee" || registered.Telegram != "@Ann_L" {
		t.Errorf("registered = %+v", registered)
	}

	// 3. 同じハンドルでの再登録は競合
	w = app.do(t, http.MethodPost, "/api/users", `{"name":"Other","telegram":"@ann_l"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate register status = %d, want %d", w.Code, http.StatusConflict)
	}

	// 4. タグで絞り込んだ一覧
	w = app.do(t, http.MethodGet, "/api/users?tag="+strconv.FormatInt(tags[0].ID, 10), "")
	var listed []userResponse
	if err := json.NewDecoder(w.Body).Decode(&listed); err != nil {
		t.Fatalf("failed to decode list: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != registered.ID || listed[0].Services != tags[0].Name {
		t.Errorf("listed = %+v", listed)
	}

	// 5. 登録済みハンドルでTelegramログインすると既存ユーザーに紐づく
	query := signedLoginQuery(map[string]string{
		"id":         "777",
		"first_name": "Ann",
		"username":   "ann_l",
		"auth_date":  strconv.FormatInt(time.Now().Unix(), 10),
	})
	w = app.do(t, http.MethodGet, "/auth/telegram/callback?"+query, "")
	if w.Code != http.StatusOK {
		t.Fatalf("callback status = %d, body = %s", w.Code, w.Body.String())
	}
	var bound struct {
		UserID  int64 `json:"user_id"`
		Created bool  `json:"created"`
	}
	if err := json.NewDecoder(w.Body).Decode(&bound); err != nil {
		t.Fatalf("failed to decode callback: %v", err)
	}
	if bound.UserID != registered.ID || bound.Created {
		t.Errorf("bound = %+v, want existing user %d", bound, registered.ID)
	}

	// 6. セッションでプロフィールを取得
	w = app.do(t, http.MethodGet, "/api/users/me", "")
	if w.Code != http.StatusOK {
		t.Fatalf("me status = %d", w.Code)
	}

	// 7. 退会するとセッションとプロフィールが消える
	w = app.do(t, http.MethodDelete, "/api/users/me", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("withdraw status = %d, body = %s", w.Code, w.Body.String())
	}
	w = app.do(t, http.MethodGet, "/api/users/"+strconv.FormatInt(registered.ID, 10), "")
	if w.Code != http.StatusNotFound {
		t.Errorf("get after withdraw status = %d, want %d", w.Code, http.StatusNotFound)
	}
	w = app.do(t, http.MethodGet, "/auth/me", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("auth/me after withdraw status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestRouter_LoginCreatesUser(t *testing.T) {
	app := newTestApp(t)

	query := signedLoginQuery(map[string]string{
		"id":        "42",
		"username":  "NewUser",
		"auth_date": strconv.FormatInt(time.Now().Unix(), 10),
	})
	w := app.do(t, http.MethodGet, "/auth/telegram/callback?"+query, "")
	if w.Code != http.StatusOK {
		t.Fatalf("callback status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"created":true`) {
		t.Errorf("body = %s", w.Body.String())
	}

	w = app.do(t, http.MethodGet, "/auth/me", "")
	var me userResponse
	if err := json.NewDecoder(w.Body).Decode(&me); err != nil {
		t.Fatalf("failed to decode me: %v", err)
	}
	if me.Telegram != "@NewUser" || me.Name != "@NewUser" {
		t.Errorf("me = %+v", me)
	}

	app.fetchCSRFToken(t)
	w = app.do(t, http.MethodPost, "/auth/logout", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("logout status = %d, want %d", w.Code, http.StatusNoContent)
	}
	w = app.do(t, http.MethodGet, "/auth/me", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("auth/me after logout status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestRouter_LoginRejectsTamperedAssertion(t *testing.T) {
	app := newTestApp(t)

	query := signedLoginQuery(map[string]string{
		"id":        "42",
		"username":  "victim",
		"auth_date": strconv.FormatInt(time.Now().Unix(), 10),
	})
	query = strings.Replace(query, "username=victim", "username=attacker", 1)

	w := app.do(t, http.MethodGet, "/auth/telegram/callback?"+query, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if body := decodeError(t, w); body.Code != "SIGNATURE_INVALID" {
		t.Errorf("code = %q, want SIGNATURE_INVALID", body.Code)
	}
}

func TestRouter_Projects(t *testing.T) {
	app := newTestApp(t)
	app.fetchCSRFToken(t)

	w := app.do(t, http.MethodPost, "/api/projects", `{"title":"Food bank","owner_email":"owner@example.org"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var created projectResponse
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode project: %v", err)
	}

	w = app.do(t, http.MethodGet, "/api/projects/"+strconv.FormatInt(created.ID, 10), "")
	if w.Code != http.StatusOK {
		t.Errorf("get status = %d", w.Code)
	}

	w = app.do(t, http.MethodPost, "/api/projects", `{"title":"No owner"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid create status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestRouter_Metrics(t *testing.T) {
	app := newTestApp(t)
	app.fetchCSRFToken(t)
	app.do(t, http.MethodPost, "/api/users", `{"name":"Ann"}`)

	w := app.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	for _, name := range []string{"seva_registrations_total 1", "seva_http_status_total"} {
		if !strings.Contains(w.Body.String(), name) {
			t.Errorf("metrics output missing %q", name)
		}
	}
}
