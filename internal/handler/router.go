package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hitoshi/latework/internal/metrics"
	"github.com/hitoshi/latework/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Authenticator     middleware.Authenticator
	AdminChecker      middleware.AdminChecker
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *zap.Logger
	StatusObserver    middleware.StatusObserver

	// 認証
	AuthService AuthServiceInterface

	// カタログ・受講
	Catalog    CatalogReader
	Enrollment EnrollmentServiceInterface

	// 管理者
	CourseAdmin CourseAdminInterface
	// Images がnilの場合、画像APIはルーティングしない
	Images ImageServiceInterface

	// ユーザー
	UserService UserServiceInterface

	// ライブ購読
	CatalogStream    CatalogStreamer
	EnrollmentStream EnrollmentStreamer
	Changes          ChangeSubscriber
	Sessions         SessionChecker

	// 運用
	DB       Pinger
	Gatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Session → RateLimit(General) → Admin
//
// 認証ルート（/auth/*）はIP単位のレート制限で保護する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusObserver))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService)
	courseHandler := NewCourseHandler(deps.Catalog, deps.Enrollment)
	adminHandler := NewAdminHandler(deps.CourseAdmin, deps.Images)
	userHandler := NewUserHandler(deps.UserService)
	streamHandler := NewStreamHandler(deps.CatalogStream, deps.EnrollmentStream,
		deps.Changes, deps.Sessions, deps.CORSAllowedOrigin, logger)

	sessionMiddleware := middleware.NewSessionMiddleware(deps.Authenticator)

	// --- 運用エンドポイント ---
	if deps.DB != nil {
		r.Get("/health", NewHealthHandler(deps.DB))
	}
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- 認証ルート ---
	r.Route("/auth", func(r chi.Router) {
		r.Use(deps.RateLimiter.AuthMiddleware())

		r.Post("/signup", authHandler.SignUp)
		r.Post("/signin", authHandler.SignIn)
		r.Post("/password-reset", authHandler.RequestPasswordReset)
		r.Post("/password-reset/confirm", authHandler.ConfirmPasswordReset)

		r.Group(func(r chi.Router) {
			r.Use(sessionMiddleware)
			r.Post("/signout", authHandler.SignOut)
			r.Get("/me", authHandler.Me)
		})
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(sessionMiddleware)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// カタログ・受講
		r.Route("/api/courses", func(r chi.Router) {
			r.Get("/", courseHandler.ListCourses)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", courseHandler.GetCourse)
				r.Get("/lessons", courseHandler.ListLessons)
				r.Get("/lessons/{lessonID}", courseHandler.GetLesson)
				r.Post("/lessons/{lessonID}/access", courseHandler.RecordAccess)

				r.Get("/enrollment", courseHandler.GetEnrollment)
				r.Put("/enrollment", courseHandler.Enroll)
				r.Delete("/enrollment", courseHandler.Unenroll)
			})
		})
		r.Get("/api/me/courses", courseHandler.MyCourses)

		// ユーザー管理
		r.Route("/api/users/me", func(r chi.Router) {
			r.Get("/", userHandler.GetMe)
			r.Patch("/", userHandler.UpdateMe)
			r.Delete("/", userHandler.Withdraw)
		})

		// ライブ購読
		r.Route("/api/stream", func(r chi.Router) {
			r.Get("/courses", streamHandler.Courses)
			r.Get("/my-courses", streamHandler.MyCourses)
		})

		// 管理者
		r.Route("/api/admin", func(r chi.Router) {
			r.Use(middleware.NewAdminMiddleware(deps.AdminChecker))

			r.Post("/courses", adminHandler.CreateCourse)
			r.Route("/courses/{id}", func(r chi.Router) {
				r.Patch("/", adminHandler.UpdateCourse)
				r.Delete("/", adminHandler.DeleteCourse)

				r.Post("/lessons", adminHandler.CreateLesson)
				r.Post("/lessons/import", adminHandler.ImportLessons)
				r.Patch("/lessons/{lessonID}", adminHandler.UpdateLesson)
				r.Delete("/lessons/{lessonID}", adminHandler.DeleteLesson)
			})

			if deps.Images != nil {
				r.Post("/images", adminHandler.UploadImage)
				r.Post("/images/import", adminHandler.ImportImage)
			}
		})
	})

	return r
}
