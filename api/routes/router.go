package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quoteflow-io/quoteflow-backend/api/controllers"
	quotecontrollers "github.com/quoteflow-io/quoteflow-backend/api/controllers/quotes"
	validationcontrollers "github.com/quoteflow-io/quoteflow-backend/api/controllers/validation"
	"github.com/quoteflow-io/quoteflow-backend/api/middleware"
	"github.com/quoteflow-io/quoteflow-backend/internal/audit"
	internalquotes "github.com/quoteflow-io/quoteflow-backend/internal/quotes"
	internalvalidation "github.com/quoteflow-io/quoteflow-backend/internal/validation"
	"github.com/quoteflow-io/quoteflow-backend/internal/workflow"
	"github.com/quoteflow-io/quoteflow-backend/pkg/config"
	"github.com/quoteflow-io/quoteflow-backend/pkg/db"
	"github.com/quoteflow-io/quoteflow-backend/pkg/logger"
	"github.com/quoteflow-io/quoteflow-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	quoteService internalquotes.Service,
	validationService internalvalidation.Service,
	auditService audit.Service,
	engine workflow.Engine,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Route("/quotes", func(r chi.Router) {
			r.Post("/", quotecontrollers.Submit(quoteService, engine, logg))
			r.Get("/{quoteID}", quotecontrollers.Detail(quoteService, logg))
			r.Get("/{quoteID}/justification", quotecontrollers.Justification(quoteService, auditService, logg))
			r.Get("/{quoteID}/traces", quotecontrollers.Traces(auditService, logg))
			r.Get("/{quoteID}/decisions", quotecontrollers.Decisions(auditService, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireValidator(logg))
				r.Get("/{quoteID}/validation", validationcontrollers.Pending(validationService, logg))
				r.Post("/{quoteID}/validation", validationcontrollers.Decide(validationService, engine, logg))
			})
		})
	})

	return r
}
