package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"reverse-proxy-go/internal/config"
	"reverse-proxy-go/internal/metrics"
	"reverse-proxy-go/internal/middleware"
)

// RegisterRoutes wires all route handlers onto the Echo instance. The proxy's
// own endpoints take precedence; every other path is forwarded upstream.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, proxy *ProxyHandler, health *HealthHandler) {
	admin := middleware.SecurityHeaders()

	e.GET("/healthz", health.Healthz, admin)
	e.GET("/proxy/status", health.Status, admin)
	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})), admin)
	}

	e.Any("/*", proxy.Handle)
}
