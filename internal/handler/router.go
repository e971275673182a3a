package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/seva/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	HTTPRecorder      middleware.HTTPRecorder
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// 認証
	AuthService AuthServiceInterface
	BotInfo     BotUsernameResolver
	AuthConfig  AuthHandlerConfig

	// ディレクトリ
	UserService    UserServiceInterface
	TagService     TagServiceInterface
	ProjectService ProjectServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → (CSRF) → (RateLimit) → (Session)
//
// 認証ルート（/auth/*）はウィジェットの署名で保護されるためCSRFチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.HTTPRecorder))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.BotInfo, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService, deps.AuthConfig)
	tagHandler := NewTagHandler(deps.TagService)
	projectHandler := NewProjectHandler(deps.ProjectService)
	sessionMW := middleware.NewSessionMiddleware(deps.SessionFinder)

	// --- 運用エンドポイント ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 認証ルート ---
	r.Route("/auth", func(r chi.Router) {
		r.With(deps.RateLimiter.LoginMiddleware()).Get("/telegram/callback", authHandler.Callback)
		r.With(deps.RateLimiter.LoginMiddleware()).Post("/telegram/callback", authHandler.Callback)
		r.Get("/telegram/config", authHandler.Config)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// --- API ---
	r.Route("/api", func(r chi.Router) {
		r.Get("/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

			r.Get("/tags", tagHandler.List)

			r.Route("/users", func(r chi.Router) {
				r.Get("/", userHandler.List)
				r.With(deps.RateLimiter.RegistrationMiddleware()).Post("/", userHandler.Register)

				// ログイン中ユーザーのルート（Session必須）
				r.With(sessionMW).Get("/me", userHandler.Me)
				r.With(sessionMW).Delete("/me", userHandler.Withdraw)

				r.Get("/{id}", userHandler.Get)
			})

			r.Route("/projects", func(r chi.Router) {
				r.Get("/", projectHandler.List)
				r.With(deps.RateLimiter.RegistrationMiddleware()).Post("/", projectHandler.Create)
				r.Get("/{id}", projectHandler.Get)
			})
		})
	})

	return r
}
