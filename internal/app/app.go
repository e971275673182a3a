package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/seva/internal/auth"
	"github.com/hitoshi/seva/internal/config"
	"github.com/hitoshi/seva/internal/database"
	"github.com/hitoshi/seva/internal/handler"
	"github.com/hitoshi/seva/internal/logger"
	"github.com/hitoshi/seva/internal/metrics"
	"github.com/hitoshi/seva/internal/middleware"
	"github.com/hitoshi/seva/internal/project"
	"github.com/hitoshi/seva/internal/security"
	"github.com/hitoshi/seva/internal/tag"
	"github.com/hitoshi/seva/internal/user"
	"github.com/hitoshi/seva/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// .envがあれば読み込み、環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. .envは任意。存在しない場合は環境変数のみを使う
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", slog.String("error", err.Error()))
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetLevel(cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	if !cmd.NeedsConfig() {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("mode", cmd.Summary()),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("database", maskDatabaseURL(cfg.DatabaseTarget())),
		slog.Bool("login_enabled", cfg.LoginEnabled()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(ctx, cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// openDatabase はDBを開き、到達確認を行う。
// 到達できなくてもプロセスは停止せず、ヘルスチェックで報告する。
func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(cfg.DatabaseTarget())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.Ping(pingCtx); err != nil {
		slog.Warn("database is not reachable yet",
			slog.String("error", err.Error()),
			slog.String("kind", database.ErrorKind(err)),
		)
	} else {
		slog.Info("database connection established", slog.String("dialect", db.Dialect().Name()))
	}
	return db, nil
}

// newRegistry はアプリケーションとランタイムのメトリクスを登録したレジストリを返す。
func newRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. 自動マイグレーション（任意）
	if cfg.AutoMigrate {
		if err := migrateAndSeed(ctx, cfg); err != nil {
			return err
		}
	}

	// 2. DB接続とメトリクス
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	reg, collector := newRegistry()
	db.SetErrorObserver(collector.RecordStoreError)

	// 3. セキュリティサービスの初期化
	sanitizer := security.NewContentSanitizer()
	ssrfGuard := security.NewSSRFGuard()

	// 4. ドメインサービスの初期化
	verifier := auth.NewVerifier(auth.VerifierConfig{
		BotToken:             cfg.TelegramBotToken,
		AllowMissingAuthDate: cfg.TelegramAllowMissingAuthDate,
	})
	authService := auth.NewService(verifier, db, collector, auth.ServiceConfig{
		SessionMaxAge: cfg.SessionMaxAge,
	})
	botInfo := auth.NewBotInfo(auth.BotConfig{
		Token:       cfg.TelegramBotToken,
		Username:    cfg.TelegramBotUsername,
		APIEndpoint: cfg.TelegramAPIEndpoint,
	})
	if !cfg.LoginEnabled() {
		slog.Warn("TELEGRAM_BOT_TOKEN is not set, telegram login is disabled")
	}

	userService := user.NewService(db, sanitizer, ssrfGuard, collector, user.ServiceConfig{
		CheckWebsite:        cfg.ProfileCheckWebsite,
		WebsiteCheckTimeout: cfg.WebsiteCheckTimeout,
	})
	tagService := tag.NewService(db)
	projectService := project.NewService(db, sanitizer)

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitLogin, cfg.RateLimitRegister))
	defer rateLimiter.Stop()

	authConfig := handler.AuthHandlerConfig{
		BaseURL:       cfg.BaseURL,
		CookieDomain:  cfg.CookieDomain,
		CookieSecure:  cfg.CookieSecure,
		SessionMaxAge: cfg.SessionMaxAge,
	}
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		HTTPRecorder:      collector,
		SessionFinder:     authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter: rateLimiter,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(reg),

		AuthService: authService,
		BotInfo:     botInfo,
		AuthConfig:  authConfig,

		UserService:    userService,
		TagService:     tagService,
		ProjectService: projectService,
	})

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return serveUntilDone(ctx, server, "API server")
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションのクリーンアップをCLEANUP_SCHEDULEに従って実行する。
// METRICS_PORTが設定されている場合は/metricsを公開する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if err := cleanup.ValidateSchedule(cfg.CleanupSchedule); err != nil {
		return err
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	reg, collector := newRegistry()
	db.SetErrorObserver(collector.RecordStoreError)

	if cfg.MetricsPort != "" {
		metricsServer := &http.Server{
			Addr:              ":" + cfg.MetricsPort,
			Handler:           metrics.SetupMetricsRoute(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := serveUntilDone(ctx, metricsServer, "metrics server"); err != nil {
				slog.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	job := cleanup.NewCleanupJob(db, collector, slog.Default())
	if err := job.Start(ctx, cfg.CleanupSchedule); err != nil {
		return fmt.Errorf("cleanup worker failed: %w", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行し、サービスタグを投入する。
func runMigrate(ctx context.Context, cfg *config.Config) error {
	return migrateAndSeed(ctx, cfg)
}

// seedTimeout はタグ投入に許す最大時間。
const seedTimeout = 30 * time.Second

// migrateAndSeed はすべての未適用マイグレーションを適用し、既定のタグを冪等に投入する。
func migrateAndSeed(ctx context.Context, cfg *config.Config) error {
	target := cfg.DatabaseTarget()
	slog.Info("running database migrations",
		slog.String("database", maskDatabaseURL(target)),
	)

	if err := database.RunMigrations(target); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	db, err := database.Open(target)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	// マイグレーション適用後にシグナルを受けても、タグの投入は最後まで終える
	seedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), seedTimeout)
	defer cancel()

	inserted, err := tag.NewService(db).Seed(seedCtx, tag.DefaultTags)
	if err != nil {
		return fmt.Errorf("failed to seed service tags: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Int64("seeded_tags", inserted))
	return nil
}

// serveUntilDone はサーバーを起動し、ctxが終了したらグレースフルシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s listen error: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はPostgreSQLの接続URLから認証情報とクエリを取り除く。
// SQLiteのパスは秘密を含まないためそのまま返す。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return raw
	}
	if u.User != nil {
		u.User = url.User("redacted")
	}
	u.RawQuery = ""
	return u.String()
}
