package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/formcoach/internal/analysis"
	"github.com/hitoshi/formcoach/internal/auth"
	"github.com/hitoshi/formcoach/internal/config"
	"github.com/hitoshi/formcoach/internal/database"
	"github.com/hitoshi/formcoach/internal/handler"
	"github.com/hitoshi/formcoach/internal/identity"
	"github.com/hitoshi/formcoach/internal/logger"
	"github.com/hitoshi/formcoach/internal/metrics"
	"github.com/hitoshi/formcoach/internal/middleware"
	"github.com/hitoshi/formcoach/internal/repository"
	"github.com/hitoshi/formcoach/internal/session"
	"github.com/hitoshi/formcoach/internal/tui"
	"github.com/hitoshi/formcoach/internal/worker/cleanup"
)

// Init はサーバー側の初期化を行う。
// 環境変数からServerConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.ServerConfig, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.LoadServer()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// ローカル開発用。本番では環境変数を直接設定する
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}

	switch cmd {
	case CommandHealthcheck:
		// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	case CommandClient:
		return runClient()
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runClient は端末UIのクライアントとして起動する。
// 端末はTUIが占有するため、ログはLOG_FILEに出力する。
func runClient() error {
	cfg, err := config.LoadClient()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logFile, err := logger.Open(cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()
	logger.SetupDefault(logFile)
	log := slog.Default()

	exercise, err := analysis.ParseExerciseType(cfg.Exercise)
	if err != nil {
		return fmt.Errorf("invalid EXERCISE: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	tokens := identity.NewFileTokenStore(cfg.TokenFile)
	provider := identity.NewHTTPProvider(httpClient, log, cfg.IdPBaseURL, tokens)

	// ストアはプロセスで1つだけ生成し、UIへ引数で渡す
	store := session.NewStore(provider, log)
	defer store.Close()

	log.Info("client starting",
		slog.String("idp_base_url", cfg.IdPBaseURL),
		slog.String("analysis_url", cfg.AnalysisURL),
	)

	return tui.Run(ctx, tui.Config{
		Store:      store,
		Analyzer:   analysis.NewClient(httpClient, log, cfg.AnalysisURL),
		Logger:     log,
		Restore:    provider.Restore,
		Revalidate: provider.Revalidate,
		Exercise:   exercise,
	})
}

// server はserveモードで組み立てた依存関係。
type server struct {
	handler     http.Handler
	authService *auth.Service
	stop        func()
}

// newServer はDB接続からHTTPハンドラーまでの依存関係をワイヤリングする。
func newServer(cfg *config.ServerConfig, db *sql.DB, log *slog.Logger) *server {
	// 1. リポジトリの初期化
	accountRepo := repository.NewPostgresAccountRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)

	// 2. メトリクスの初期化
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mc := metrics.NewCollector(reg)

	// 3. 認証サービスの初期化
	lockout := auth.NewLockout(auth.LockoutConfig{
		MaxFailures: cfg.SignInMaxFailures,
		Window:      cfg.SignInLockoutWindow,
	})
	authService := auth.NewService(
		accountRepo, sessionRepo,
		auth.NewTokenIssuer(cfg.SessionSecret, cfg.TokenIssuer),
		lockout, mc, log,
		auth.ServiceConfig{
			SessionMaxAge:     cfg.SessionMaxAge,
			PasswordMinLength: cfg.PasswordMinLength,
		},
	)

	// 4. ルーターの構築
	// configのRateLimitGeneralはreq/min単位
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral), mc, log,
	)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:        log,
		Authenticator: authService,
		RateLimiter:   rateLimiter,
		Metrics:       mc,
		HealthChecker: db,
		Gatherer:      reg,
		AuthService:   authService,
	})

	return &server{
		handler:     router,
		authService: authService,
		stop: func() {
			rateLimiter.Stop()
			lockout.Stop()
		},
	}
}

// runServe はIdPサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.ServerConfig) error {
	// 1. DB接続
	connectCtx, connectCancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := database.Connect(connectCtx, cfg.DatabaseURL, database.DefaultPoolConfig())
	connectCancel()
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	srv := newServer(cfg, db, slog.Default())
	defer srv.stop()

	// 2. 期限切れセッションのクリーンアップをバックグラウンドで実行
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cleanup.NewCleanupJob(srv.authService, slog.Default()).Start(ctx)

	// 3. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("IdP server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down IdP server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("IdP server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.ServerConfig) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version)),
	)
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

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
