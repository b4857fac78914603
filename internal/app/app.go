package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/paircal/internal/availability"
	"github.com/hitoshi/paircal/internal/config"
	"github.com/hitoshi/paircal/internal/database"
	"github.com/hitoshi/paircal/internal/event"
	"github.com/hitoshi/paircal/internal/extcal"
	"github.com/hitoshi/paircal/internal/handler"
	"github.com/hitoshi/paircal/internal/link"
	"github.com/hitoshi/paircal/internal/logger"
	"github.com/hitoshi/paircal/internal/metrics"
	"github.com/hitoshi/paircal/internal/middleware"
	"github.com/hitoshi/paircal/internal/notification"
	"github.com/hitoshi/paircal/internal/repository"
	"github.com/hitoshi/paircal/internal/security"
	"github.com/hitoshi/paircal/internal/worker/purge"
	"github.com/hitoshi/paircal/internal/worker/sweep"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
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

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
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
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	linkRepo := repository.NewPostgresLinkRepo(db)
	codeRepo := repository.NewPostgresLinkCodeRepo(db)
	eventRepo := repository.NewPostgresEventRepo(db)
	excRepo := repository.NewPostgresEventExceptionRepo(db)
	calRepo := repository.NewPostgresExternalCalendarRepo(db)
	extEventRepo := repository.NewPostgresExternalEventRepo(db)

	// 3. 横断サービスの初期化
	sanitizer := security.NewTextSanitizer()
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	// 4. 通知ディスパッチャの起動
	dispatcher := notification.NewDispatcher(
		notification.NewLogSender(slog.Default()),
		slog.Default(), collector, cfg.NotificationQueueSize,
	)
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	defer stopDispatch()
	go dispatcher.Start(dispatchCtx)

	// 5. ドメインサービスの初期化
	eventService := event.NewService(
		userRepo, linkRepo, eventRepo, excRepo,
		sanitizer, dispatcher, collector,
	)
	linkService := link.NewService(userRepo, linkRepo, codeRepo, dispatcher)
	availabilityService := availability.NewService(
		eventRepo, calRepo, extEventRepo, collector, cfg.BusyStatuses,
	)
	calendarService := extcal.NewService(
		userRepo, calRepo, extEventRepo,
		sanitizer, slog.Default(), collector,
	)

	// 6. レートリミッターの構築（configはreq/min単位なのでreq/secに変換する）
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.SyncRate = rate.Limit(float64(cfg.RateLimitSync) / 60.0)
	rateLimiterCfg.SyncBurst = cfg.RateLimitSync
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	// 7. ルーターの構築
	deps := &handler.RouterDeps{
		UserFinder:        userRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		StatusRecorder: collector,

		EventService:        eventService,
		AvailabilityService: availabilityService,
		LinkService:         linkService,
		CalendarService:     calendarService,
	}

	router := handler.NewRouter(deps)

	// 外縁のミドルウェア: リカバリー → ロギング → セキュリティヘッダー
	var root http.Handler = router
	root = middleware.NewRecoveryMiddleware()(root)
	root = middleware.NewLoggingMiddleware(slog.Default())(root)
	root = middleware.NewSecurityHeadersMiddleware()(root)

	// 8. 内部メトリクスサーバーの起動
	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metrics.SetupMetricsRoute(reg),
	}
	go func() {
		slog.Info("metrics server starting", slog.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()

	// 9. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := metricsServer.Shutdown(ctx); err != nil {
		slog.Error("metrics server shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、外部イベント掃き出しと失効コード削除の定期ジョブを実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	codeRepo := repository.NewPostgresLinkCodeRepo(db)
	calRepo := repository.NewPostgresExternalCalendarRepo(db)
	extEventRepo := repository.NewPostgresExternalEventRepo(db)

	// 3. 掃き出しジョブが使うサービスの初期化
	sanitizer := security.NewTextSanitizer()
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	calendarService := extcal.NewService(
		userRepo, calRepo, extEventRepo,
		sanitizer, slog.Default(), collector,
	)

	sweepJob := sweep.NewOrphanSweepJob(calendarService, slog.Default())
	purgeJob := purge.NewCodePurgeJob(codeRepo, slog.Default())

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("orphan_sweep_interval", cfg.OrphanSweepInterval),
		slog.Duration("code_purge_interval", cfg.CodePurgeInterval),
	)

	// 失効コード削除ジョブをバックグラウンドで定期実行
	go runPeriodic(ctx, cfg.CodePurgeInterval, purgeJob.Run)

	// 外部イベント掃き出しジョブをメインgoroutineで定期実行（ブロッキング）
	runPeriodic(ctx, cfg.OrphanSweepInterval, sweepJob.Run)

	slog.Info("worker stopped gracefully")
	return nil
}

// runPeriodic は起動直後に1回、以後interval間隔でジョブを実行する。
// ctxがキャンセルされると抜ける。ジョブのエラーは各ジョブ内でログ済みのため握りつぶす。
func runPeriodic(ctx context.Context, interval time.Duration, job func(context.Context) error) {
	_ = job(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = job(ctx)
		}
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
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
