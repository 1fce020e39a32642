package transport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/msdsdraft/internal/config"
	"github.com/pitabwire/msdsdraft/internal/observability"
	"github.com/pitabwire/msdsdraft/internal/questionnaire"
	"github.com/pitabwire/msdsdraft/internal/schema"
	draftsync "github.com/pitabwire/msdsdraft/internal/sync"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Manager      *questionnaire.Manager
	Schema       *schema.Schema
	Connectivity *draftsync.Connectivity
	Readiness    observability.ReadinessChecks
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	Gatherer     prometheus.Gatherer
	// Authenticate replaces the bearer forwarder, mainly in tests.
	Authenticate func(http.Handler) http.Handler
	Now          func() time.Time
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes bypass authentication.
	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled {
		r.Handle(deps.Config.Observability.Metrics.Path, observability.Handler(deps.Gatherer))
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = BearerForwarder(deps.Now)
	}

	r.Group(func(r chi.Router) {
		r.Use(observability.TracingMiddleware)
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}
		r.Use(auth)
		r.Use(BuildRequestContext)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		r.Get("/api/schema", handleSchema(deps.Schema))
		r.Post("/api/connectivity", handleConnectivity(deps.Connectivity))

		m := deps.Manager
		r.Route("/api/questionnaires/{workflowId}", func(r chi.Router) {
			r.Post("/open", handleOpen(m))
			r.Get("/", withController(m, handleView))
			r.Delete("/", handleClose(m))

			r.Patch("/answers", withController(m, handleSetAnswers))
			r.Put("/answers/{field}", withController(m, handleSetAnswer))
			r.Delete("/answers/{field}", withController(m, handleClearAnswer))

			r.Post("/steps/next", withController(m, handleNext))
			r.Post("/steps/previous", withController(m, handlePrevious))
			r.Post("/steps/{index}", withController(m, handleGoToStep))

			r.Post("/save", withController(m, handleSave))
			r.Post("/submit", withController(m, handleSubmit))

			r.Get("/queries", withController(m, handleListQueries))
			r.Post("/queries", withController(m, handleRaiseQuery))
			r.Post("/queries/{queryId}/resolve", withController(m, handleResolveQuery))
			r.Post("/fields/{field}/viewed", withController(m, handleFieldViewed))
		})
	})

	return r
}
