package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/campusmeet/appointments/internal/notify"
)

type RouterConfig struct {
	Service     Service
	Broadcaster *notify.Broadcaster
	PgPool      *pgxpool.Pool
	Redis       *redis.Client
	JWTSecret   string
	Env         string
	Version     string
	Logger      *zap.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	metrics := NewMetrics()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))
	r.Use(metrics.Middleware)

	// Health and metrics endpoints stay unauthenticated
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	h := newHandlers(cfg.Service)

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(cfg.JWTSecret))

		r.Get("/appointments", h.listAppointments)
		r.Post("/appointments/request", h.requestAppointment)
		r.Get("/appointments/{id}", h.getAppointment)
		r.Put("/appointments/{id}", h.updateReason)
		r.Patch("/appointments/{id}/status", h.updateStatus)

		r.Get("/faculty", h.listFaculty)
		r.Get("/faculty/search", h.searchFaculty)
		r.Put("/users/{id}/mode", h.updateUserMode)

		r.Get("/events", eventsHandler(cfg.Service, cfg.Broadcaster, log))
	})

	return r
}
