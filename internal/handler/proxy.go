package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"

	"github.com/labstack/echo/v4"

	"reverse-proxy-go/internal/client"
	"reverse-proxy-go/internal/model"
	"reverse-proxy-go/internal/service"
)

// secretParamPattern matches credential-like query parameter values in URLs
// embedded in error messages.
var secretParamPattern = regexp.MustCompile(`(?i)((?:api_?key|access_token|token|password|secret|sig|signature)=)[^&\s"]+`)

// relayBufferSize is the chunk size for streaming response bodies.
const relayBufferSize = 32 * 1024

// ProxyHandler forwards requests to the upstream and streams the response back.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle proxies the request to the upstream and streams the response back.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()
	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Path:          req.URL.EscapedPath(),
		RawQuery:      req.URL.RawQuery,
		ForceQuery:    req.URL.ForceQuery,
		Header:        req.Header,
		RemoteAddr:    req.RemoteAddr,
		ContentLength: req.ContentLength,
		Body:          req.Body,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// The downstream header set is exactly the upstream's; anything
	// middleware put there (X-Request-Id) is dropped.
	dst := c.Response().Header()
	for key := range dst {
		delete(dst, key)
	}
	for key, vals := range resp.Header {
		dst[key] = vals
	}
	c.Response().WriteHeader(resp.StatusCode)

	// Once the status line is out, the only way to signal a failed copy is
	// to abort the connection. Returning normally would let net/http end the
	// body cleanly and hide the truncation.
	if err := relay(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", sanitizeError(err),
			"path", req.URL.Path,
		)
		panic(http.ErrAbortHandler)
	}

	for key, vals := range resp.Trailer {
		for _, v := range vals {
			dst.Add(http.TrailerPrefix+key, v)
		}
	}
	return nil
}

// relay copies src to the response, flushing after every chunk so the
// caller sees data as soon as the upstream produces it.
func relay(w *echo.Response, src io.Reader) error {
	buf := make([]byte, relayBufferSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			w.Flush()
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", sanitizeError(err),
		"method", c.Request().Method,
		"path", c.Request().URL.Path,
	)

	if errors.Is(err, service.ErrBuildRequest) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "invalid upstream request",
		})
	}
	if errors.Is(err, client.ErrUpstreamTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "upstream request timed out",
		})
	}
	if errors.Is(err, context.Canceled) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream host unreachable",
		})
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return c.JSON(http.StatusGatewayTimeout, map[string]string{
				"error": "upstream request timed out",
			})
		}
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream connection failed",
		})
	}
	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "upstream request failed",
	})
}

// sanitizeError redacts credentials from error messages that may contain upstream URLs.
func sanitizeError(err error) string {
	return secretParamPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]")
}
