package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"inbox-hub/internal/auth"
	"inbox-hub/internal/config"
	"inbox-hub/internal/inbox"
	"inbox-hub/internal/ingest"
	"inbox-hub/internal/manager"
	"inbox-hub/internal/metrics"
	"inbox-hub/internal/model"
	"inbox-hub/internal/realtime"
)

// TenantStore is the slice of storage the tenant admin routes need.
type TenantStore interface {
	ListTenants(ctx context.Context) ([]model.Tenant, error)
	GetTenant(ctx context.Context, id uuid.UUID) (model.Tenant, error)
	SetTenantBotEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
	Ping(ctx context.Context) error
}

type API struct {
	TenantMgr *manager.TenantManager
	Storage   TenantStore
	Ingest    *ingest.Service
	Inbox     *inbox.Service
	Hub       *realtime.Hub
	Cfg       *config.Config
	logger    *slog.Logger
}

func NewAPI(tm *manager.TenantManager, db TenantStore, ing *ingest.Service, inboxSvc *inbox.Service, hub *realtime.Hub, cfg *config.Config, logger *slog.Logger) *API {
	return &API{
		TenantMgr: tm,
		Storage:   db,
		Ingest:    ing,
		Inbox:     inboxSvc,
		Hub:       hub,
		Cfg:       cfg,
		logger:    logger.With(slog.String("component", "api")),
	}
}

func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors(a.Cfg.Server.CORSOrigin))

	r.Get("/health", a.Health)
	r.Get("/dbping", a.DBPing)
	r.Handle("/metrics", metrics.Handler())

	// Channel adapters and provisioning
	r.Group(func(r chi.Router) {
		r.Use(auth.ServiceTokenMiddleware(a.Cfg.Server.IngestToken))

		r.Post("/inbound/events", a.InboundEvent)
		r.Get("/tenants", a.ListTenants)
		r.Post("/tenants", a.CreateTenant)
		r.Delete("/tenants/{id}", a.DeleteTenant)
		r.Put("/tenants/{id}/bot", a.SetTenantBot)
		r.Post("/tenants/{id}/token", a.IssueToken)
	})

	// Agent surface, scoped to the token's tenant
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.JWTAuthMiddleware)

		r.Put("/config/concurrency", a.UpdateConcurrency)
		r.Get("/inbox", a.ListInbox)
		r.Get("/ws", a.Subscribe)
		r.Route("/conversations/{id}", func(r chi.Router) {
			r.Get("/messages", a.ListMessages)
			r.Post("/reply", a.Reply)
			r.Post("/takeover", a.Takeover)
			r.Post("/return-to-bot", a.ReturnToBot)
			r.Post("/close", a.Close)
			r.Post("/reopen", a.Reopen)
			r.Post("/assign", a.Assign)
		})
	})

	return r
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("took", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func cors(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if origin == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Ingest-Token")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
