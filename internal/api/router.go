package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/eduanalytics/notify-relay/internal/api/handler"
	apimw "github.com/eduanalytics/notify-relay/internal/api/middleware"
	"github.com/eduanalytics/notify-relay/internal/notify"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(
	sys *notify.System,
	reg prometheus.Gatherer,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)         // recover panics, return 500
	r.Use(chimw.RealIP)            // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(1<<20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)     // X-Correlation-ID inject / echo
	r.Use(apimw.RequestLogger(logger))

	// --- handler instances ---
	nh := handler.NewNotificationHandler(sys, logger)
	bh := handler.NewBulkHandler(sys, logger)
	oh := handler.NewOpsHandler(sys, logger)
	hh := handler.NewHealthHandler()

	// --- routes ---
	r.Get("/health", hh.Health)

	// Raw Prometheus scrape endpoint (for Prometheus server / Grafana)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		// Notifications — note: /bulk must be registered before /{id}
		// so chi does not treat the literal string "bulk" as an ID.
		r.Post("/notifications/bulk", bh.SendBulk)
		r.Post("/notifications", nh.Send)
		r.Get("/notifications", nh.List)
		r.Get("/notifications/{id}", nh.GetStatus)

		// Operations: JSON delivery metrics, queue health, DLQ recovery
		r.Get("/metrics", oh.GetMetrics)
		r.Get("/queues", oh.GetQueues)
		r.Post("/queues/dead-letter/requeue", oh.RequeueDeadLetter)
	})

	return r
}
