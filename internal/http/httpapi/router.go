package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"stockgen/internal/http/handlers"
	"stockgen/internal/infra"
	"stockgen/internal/middleware"
)

type Options struct {
	APIToken        string
	RateLimitPerMin int
	CORSOrigins     []string
	Logger          *infra.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(*logger),
		middleware.CORS(opts.CORSOrigins),
	)

	// Health
	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	r.Group(func(r chi.Router) {
		r.Use(
			middleware.RateLimit(opts.RateLimitPerMin, time.Minute),
			middleware.BearerToken(opts.APIToken),
		)
		r.Route("/v1/batches", func(r chi.Router) {
			r.Post("/", app.CreateBatch)
			r.Get("/", app.ListBatches)
			r.Get("/{id}", app.GetBatch)
			r.Get("/{id}/archive", app.BatchArchive)
		})
	})

	return r
}
