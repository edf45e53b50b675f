package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"reverse-proxy-go/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	proxy   service.ProxyConfig
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(pc service.ProxyConfig, v Version) *HealthHandler {
	return &HealthHandler{proxy: pc, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns proxy status information. Credentials in the upstream URL
// are masked.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":           "ok",
		"version":          string(h.version),
		"upstream_url":     h.proxy.Redacted(),
		"upstream_timeout": h.proxy.Timeout.String(),
	})
}
