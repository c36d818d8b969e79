package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"sorapixel/internal/http/handlers"
	"sorapixel/internal/middleware"
)

// Options carries the router's cross-cutting settings.
type Options struct {
	JWTSecret       string
	AdminToken      string
	CORSOrigins     []string
	RateLimitPerMin int
	DefaultLocale   string
	CountryLookup   middleware.CountryLookup
	Logger          zerolog.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.CORSOrigins),
		middleware.I18N(opts.DefaultLocale, opts.CountryLookup),
	)

	r.Get("/v1/healthz", app.Health)
	r.Method(http.MethodGet, "/metrics", app.Metrics())
	r.Get("/v1/catalog", app.Catalog)
	r.Get("/v1/credits/bundles", app.Bundles)

	r.Group(func(r chi.Router) {
		r.Use(
			middleware.AuthRequired(opts.JWTSecret),
			middleware.RateLimit(opts.RateLimitPerMin, time.Minute),
			app.EnsureAccount,
		)

		r.Get("/v1/credits", app.Credits)
		r.Post("/v1/credits/daily-reward", app.DailyReward)

		r.Post("/v1/studio/generate", app.Studio)
		r.Post("/v1/pack/generate", app.Pack)
		r.Post("/v1/pack/download", app.PackDownload)
		r.Post("/v1/recolor", app.Recolor)
		r.Post("/v1/hd", app.HD)
		r.Post("/v1/info/generate", app.Info)
		r.Post("/v1/listing", app.Listing)
		r.Post("/v1/tryon", app.TryOn)
	})

	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(middleware.AdminToken(opts.AdminToken))
		r.Post("/credits/add", app.AdminAddTokens)
		r.Post("/credits/adjust", app.AdminAdjustTokens)
	})

	return r
}
