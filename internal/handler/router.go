package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/paircal/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	UserFinder        middleware.ActiveUserFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig
	StatusRecorder    middleware.HTTPStatusRecorder

	// ドメインサービス
	EventService        EventServiceInterface
	AvailabilityService AvailabilityServiceInterface
	LinkService         LinkServiceInterface
	CalendarService     CalendarServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORSMiddleware → MetricsMiddleware → IdentityMiddleware → CSRFMiddleware
//	→ RateLimitMiddleware(GeneralMiddleware)
//
// ヘルスチェックとCSRFトークン取得は認証チェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	// CORSとメトリクスは最上位に適用（全ルートに効く）
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}

	eventHandler := NewEventHandler(deps.EventService)
	availHandler := NewAvailabilityHandler(deps.AvailabilityService)
	linkHandler := NewLinkHandler(deps.LinkService)
	calendarHandler := NewCalendarHandler(deps.CalendarService)

	// --- 認証不要のルート ---

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Identity → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewIdentityMiddleware(deps.UserFinder))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// イベント管理
		r.Route("/api/events", func(r chi.Router) {
			r.Post("/", eventHandler.CreateEvent)
			r.Get("/", eventHandler.ListEvents)
			r.Get("/pending", eventHandler.ListPendingEvents)
			r.Get("/pending/count", eventHandler.CountPendingEvents)

			r.Route("/{id}", func(r chi.Router) {
				r.Post("/approve", eventHandler.ApproveEvent)
				r.Post("/reject", eventHandler.RejectEvent)
				r.Patch("/", eventHandler.UpdateEvent)
				r.Delete("/", eventHandler.DeleteEvent)
				r.Post("/exceptions", eventHandler.AddEventException)
			})
		})

		// 空き時間検索
		r.Route("/api/availability", func(r chi.Router) {
			r.Get("/free", availHandler.FindFreeSlots)
			r.Get("/mutual", availHandler.FindMutualAvailability)
		})

		// ペアリング管理
		r.Route("/api/link", func(r chi.Router) {
			r.Post("/code", linkHandler.GenerateCode)
			r.Post("/redeem", linkHandler.RedeemCode)
			r.Get("/status", linkHandler.GetLinkStatus)
			r.Delete("/", linkHandler.DeleteLink)
		})

		// 外部カレンダー連携
		r.Route("/api/calendars", func(r chi.Router) {
			r.Post("/", calendarHandler.LinkCalendar)
			r.Get("/", calendarHandler.ListCalendars)
			r.Get("/events", calendarHandler.ListCalendarEvents)

			// POST /api/calendars/sync - イベント同期（同期専用レート制限を追加）
			r.With(deps.RateLimiter.SyncMiddleware()).Post("/sync", calendarHandler.SyncEvents)

			r.Route("/{deviceId}", func(r chi.Router) {
				r.Patch("/", calendarHandler.UpdateCalendarSettings)
				r.Delete("/", calendarHandler.UnlinkCalendar)
			})
		})
	})

	return r
}
