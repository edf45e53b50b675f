package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// RequestIDKey is the echo context key holding the request ID.
const RequestIDKey = "request_id"

// RequestID assigns each request an ID, reusing an inbound X-Request-Id. The
// ID is also kept in the echo context, since the proxy handler replaces the
// response header set with the upstream's.
func RequestID() echo.MiddlewareFunc {
	return echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Generator: uuid.NewString,
		RequestIDHandler: func(c echo.Context, id string) {
			c.Set(RequestIDKey, id)
		},
	})
}

// requestIDFrom returns the ID stored by RequestID, falling back to the
// response header.
func requestIDFrom(c echo.Context) string {
	if id, ok := c.Get(RequestIDKey).(string); ok {
		return id
	}
	return c.Response().Header().Get(echo.HeaderXRequestID)
}
