// Package app はサブコマンドごとの起動処理と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/latework/internal/auth"
	"github.com/hitoshi/latework/internal/catalog"
	"github.com/hitoshi/latework/internal/changefeed"
	"github.com/hitoshi/latework/internal/config"
	"github.com/hitoshi/latework/internal/course"
	"github.com/hitoshi/latework/internal/course/feedimport"
	"github.com/hitoshi/latework/internal/database"
	"github.com/hitoshi/latework/internal/enrollment"
	"github.com/hitoshi/latework/internal/handler"
	"github.com/hitoshi/latework/internal/livesync"
	"github.com/hitoshi/latework/internal/logger"
	"github.com/hitoshi/latework/internal/mailer"
	"github.com/hitoshi/latework/internal/media"
	"github.com/hitoshi/latework/internal/metrics"
	"github.com/hitoshi/latework/internal/middleware"
	"github.com/hitoshi/latework/internal/repository"
	"github.com/hitoshi/latework/internal/security"
	"github.com/hitoshi/latework/internal/user"
	"github.com/hitoshi/latework/internal/worker/cleanup"
)

const (
	tokenIssuer     = "latework"
	shutdownTimeout = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
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
		return runHealthcheck(fmt.Sprintf("http://localhost:%s/health", port))
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	defer zap.L().Sync()

	zap.L().Info("starting application",
		zap.String("command", string(cmd)),
		zap.String("port", cfg.ServerPort),
		zap.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// imageService はアップロードと外部URLからの取り込みをまとめる。
type imageService struct {
	*media.Uploader
	*media.Importer
}

// runServe はAPIサーバーモードで起動する。
// HTTPサーバーとPostgreSQLの変更通知リスナーを1つのerrgroupで動かし、
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	log := zap.L()

	// 1. DB接続
	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("database connection established")

	// 2. メトリクスと変更通知
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	hub := changefeed.NewHub(log)
	listener := changefeed.NewPostgresListener(cfg.DatabaseURL, hub, log)

	// 3. リポジトリの初期化
	courseRepo := repository.NewPostgresCourseRepo(db)
	lessonRepo := repository.NewPostgresLessonRepo(db)
	profileRepo := repository.NewPostgresProfileRepo(db)
	credRepo := repository.NewPostgresCredentialRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	resetTokens := repository.NewRedisResetTokenStore(redisClient)

	// 4. 認証
	var mail mailer.Mailer = mailer.NewLogMailer(log)
	if cfg.MailEnabled() {
		mail = mailer.NewSendGridMailer(cfg.SendGridAPIKey, cfg.MailFrom, cfg.MailFromName)
	} else {
		log.Warn("SENDGRID_API_KEY is not set, password reset mails are only logged")
	}

	authService := auth.NewService(auth.Deps{
		Credentials: credRepo,
		Profiles:    profileRepo,
		Sessions:    sessionRepo,
		ResetTokens: resetTokens,
		Hasher:      security.NewPasswordHasher(0),
		Tokens:      security.NewTokenManager(cfg.JWTSecret, tokenIssuer),
		Mailer:      mail,
		Changes:     hub,
		Metrics:     collector,
		Logger:      log,
	}, auth.ServiceConfig{
		SessionMaxAge: cfg.SessionMaxAge,
		ResetTokenTTL: cfg.ResetTokenTTL,
		BaseURL:       cfg.BaseURL,
	})

	// 5. カタログ・受講
	partial, err := catalog.ParsePartialPolicy(cfg.EnrollmentPartialFallback)
	if err != nil {
		return err
	}
	fallback := catalog.NewFallbackPolicy(cfg.CatalogSampleFallback, log, collector)
	enrolledLoader := catalog.NewEnrolledLoader(profileRepo, courseRepo, catalog.NewEnrolledResolver(partial, fallback, log))

	catalogService := catalog.NewService(courseRepo, lessonRepo, fallback, log)
	enrollmentService := enrollment.NewService(profileRepo, courseRepo, lessonRepo, enrolledLoader, hub, collector)
	userService := user.NewService(profileRepo, credRepo, hub, collector, log)

	// 6. 管理者機能（外部URLの取得はSSRF対策済みクライアントに限定する）
	guard := security.NewSafeFetcher(cfg.FetchTimeout, cfg.FetchMaxSize)
	courseService := course.NewService(courseRepo, lessonRepo, security.NewLessonSanitizer(),
		feedimport.NewImporter(guard, log), hub, collector, log)

	var images handler.ImageServiceInterface
	if cfg.UploadsEnabled() {
		store, err := media.NewGCSStore(ctx, media.GCSOptions{
			Bucket:          cfg.GCSBucket,
			CredentialsFile: cfg.GCSCredentialsFile,
			EmulatorHost:    cfg.StorageEmulatorHost,
		})
		if err != nil {
			return err
		}
		defer store.Close()

		uploader := media.NewUploader(store, media.PublicURLs{
			Bucket:       cfg.GCSBucket,
			CDNDomain:    cfg.GCSCDNDomain,
			EmulatorHost: cfg.StorageEmulatorHost,
		}, cfg.ImageMaxSize, log)
		images = imageService{Uploader: uploader, Importer: media.NewImporter(guard, uploader, log)}
	} else {
		log.Warn("GCS_BUCKET is not set, image endpoints are disabled")
	}

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Authenticator:     authService,
		AdminChecker:      authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            log,
		StatusObserver:    collector,

		AuthService: authService,

		Catalog:    catalogService,
		Enrollment: enrollmentService,

		CourseAdmin: courseService,
		Images:      images,

		UserService: userService,

		CatalogStream:    livesync.NewCatalogWatcher(catalogService, hub, log, collector),
		EnrollmentStream: livesync.NewEnrollmentWatcher(enrolledLoader, fallback, hub, log, collector),
		Changes:          hub,
		Sessions:         authService,

		DB:       db,
		Gatherer: reg,
	})

	// 8. HTTPサーバーと変更通知リスナーの起動
	g, gctx := errgroup.WithContext(ctx)

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		// ストリームの接続はシャットダウン時にコンテキスト経由で閉じる
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		return listener.Run(gctx)
	})

	g.Go(func() error {
		log.Info("API server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down API server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションの削除ジョブをctxがキャンセルされるまで定期実行する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	log := zap.L()

	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	log.Info("worker starting", zap.Duration("cleanup_interval", cfg.CleanupInterval))

	if err := cleanup.NewSessionCleanupJob(db, log).RunEvery(ctx, cfg.CleanupInterval); err != nil {
		return err
	}

	log.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	zap.L().Info("running database migrations",
		zap.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.MigrateUp(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	zap.L().Info("database migrations completed successfully", zap.Uint("schema_version", version))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(url string) error {
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
