package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig carries the router's non-handler settings.
type RouterConfig struct {
	Token              string
	RateLimitPerMinute int
	// Metrics serves /metrics; nil disables the endpoint.
	Metrics http.Handler
}

// NewRouter builds and returns the Chi router with all routes configured.
// Health and metrics are unauthenticated; weather, forecast and settings routes
// require bearer auth. Rate limiting is applied per IP.
func NewRouter(handlers *Handlers, cfg RouterConfig, db dbPinger, redisClient redisPinger, log *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(log))
	r.Use(httprate.LimitByIP(cfg.RateLimitPerMinute, time.Minute))

	r.Get("/api/v1/health", HealthHandlerFunc(db, redisClient, log))
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(cfg.Token))

		r.Get("/api/v1/weather", handlers.GetWeather)
		r.Post("/api/v1/weather/refresh", handlers.RefreshWeather)
		r.Get("/api/v1/forecast", handlers.GetForecast)
		r.Post("/api/v1/forecast/refresh", handlers.RefreshForecast)

		r.Get("/api/v1/settings", handlers.GetSettings)
		r.Put("/api/v1/settings/cache-duration", handlers.SetCacheDuration)
		r.Put("/api/v1/settings/search-location", handlers.SetSearchLocation)
	})

	return r
}

// MetricsHandler exposes the default Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// Ensure chi.Mux implements http.Handler.
var _ http.Handler = (*chi.Mux)(nil)
