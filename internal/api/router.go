package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/nearby/internal/auth"
	"github.com/onnwee/nearby/internal/middleware"
)

// RouterConfig holds everything the HTTP surface needs. Services and
// Health are required; the rest may be left zero.
type RouterConfig struct {
	Feed   *FeedHandlers
	Search *SearchHandlers
	Health *HealthHandlers

	Logger      *slog.Logger
	ServiceName string
	// TracingEnabled wraps requests in server spans.
	TracingEnabled bool

	// Metrics records HTTP and rate limit metrics. Gatherer backs /metrics;
	// nil disables the endpoint.
	Metrics  *middleware.Metrics
	Gatherer prometheus.Gatherer

	CORS     middleware.CORSConfig
	Resolver auth.ViewerResolver

	RateLimitStore middleware.RateLimitStore
	GlobalLimit    middleware.RateLimitConfig
	SearchLimit    middleware.RateLimitConfig
}

// NewRouter builds the service's HTTP handler.
//
// Middleware order: RequestID -> Logging -> Tracing -> HTTPMetrics -> CORS -> Viewer -> RateLimiter.
// The rate limiters are attached per route group so their metrics carry the
// route pattern.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "nearby-api"
	}
	if cfg.GlobalLimit.Validate() != nil {
		cfg.GlobalLimit = middleware.DefaultGlobalLimit()
	}
	if cfg.SearchLimit.Validate() != nil {
		cfg.SearchLimit = middleware.DefaultSearchLimit()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(logger))
	if cfg.TracingEnabled {
		r.Use(middleware.Tracing(cfg.ServiceName))
	}
	if cfg.Metrics != nil {
		r.Use(middleware.HTTPMetrics(cfg.Metrics))
	}
	r.Use(middleware.CORS(cfg.CORS))
	if cfg.Resolver != nil {
		r.Use(middleware.Viewer(cfg.Resolver))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "Method not allowed", nil)
	})

	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)
	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		if cfg.RateLimitStore != nil {
			r.Use(middleware.RateLimiter(cfg.RateLimitStore, cfg.GlobalLimit, middleware.ViewerKeyFunc(), cfg.Metrics))
		}
		r.Get("/feed", cfg.Feed.GetFeed)
		r.Get("/api/mobile/posts/feed", cfg.Feed.GetFeed)

		search := r.With()
		if cfg.RateLimitStore != nil {
			search = r.With(middleware.RateLimiter(cfg.RateLimitStore, cfg.SearchLimit, middleware.ScopedKeyFunc("search", middleware.ViewerKeyFunc()), cfg.Metrics))
		}
		search.Post("/search", cfg.Search.Search)
		search.Post("/api/mobile/search", cfg.Search.Search)
	})

	return r
}
