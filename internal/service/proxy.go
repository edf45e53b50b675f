// Package service implements the core proxy forwarding logic.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/net/http/httpguts"

	"reverse-proxy-go/internal/client"
	"reverse-proxy-go/internal/header"
	"reverse-proxy-go/internal/metrics"
	"reverse-proxy-go/internal/model"
)

// ErrBuildRequest is returned when a valid outbound request cannot be built
// from the inbound one. Only that exchange fails.
var ErrBuildRequest = errors.New("build upstream request")

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	client  *client.UpstreamClient
	cfg     ProxyConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewProxyService creates a ProxyService.
// The metrics parameter is optional; pass nil to disable outcome recording.
func NewProxyService(c *client.UpstreamClient, cfg ProxyConfig, logger *slog.Logger, m *metrics.Metrics) *ProxyService {
	return &ProxyService{
		client:  c,
		cfg:     cfg,
		logger:  logger.With("component", "proxy_service"),
		metrics: m,
	}
}

// Config returns the forwarding configuration.
func (s *ProxyService) Config() ProxyConfig {
	return s.cfg
}

// Forward sends a ProxyRequest to the upstream and returns the response with
// hop-by-hop headers already removed. The caller is responsible for closing
// the response body.
//
// Exactly one upstream attempt is made. Errors wrap ErrBuildRequest,
// client.ErrUpstreamTimeout or the transport failure.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	req, err := s.buildRequest(pr)
	if err != nil {
		s.recordOutcome(metrics.OutcomeBuildFailed)
		return nil, err
	}

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
	)

	resp, err := s.client.Do(req, s.cfg.Timeout)
	if err != nil {
		if errors.Is(err, client.ErrUpstreamTimeout) {
			s.recordOutcome(metrics.OutcomeTimedOut)
		} else {
			s.recordOutcome(metrics.OutcomeTransportFailed)
		}
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}
	s.recordOutcome(metrics.OutcomeCompleted)

	header.SanitizeResponse(resp.Header)
	return resp, nil
}

// buildRequest creates the outbound request. The inbound chain is read
// before hygiene runs, so a Connection directive naming X-Forwarded-For
// cannot erase it.
func (s *ProxyService) buildRequest(pr *model.ProxyRequest) (*http.Request, error) {
	target := ForwardURI(s.cfg.BaseURL, pr.Path, pr.RawQuery, pr.ForceQuery)

	h := pr.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	chain := header.ForwardedFor(h.Values(string(header.XForwardedFor)), pr.RemoteAddr, s.logger)
	header.SanitizeRequest(h)
	if chain != "" {
		h.Set(string(header.XForwardedFor), chain)
	}
	if err := validateHeader(h); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuildRequest, err)
	}

	body := pr.Body
	if pr.ContentLength == 0 || body == nil {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(pr.Ctx, pr.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuildRequest, err)
	}
	if body != http.NoBody {
		// -1 makes the transport chunk a body of unknown length.
		req.ContentLength = pr.ContentLength
	}
	req.Header = h
	return req, nil
}

func (s *ProxyService) recordOutcome(outcome string) {
	if s.metrics != nil {
		s.metrics.UpstreamOutcomes.WithLabelValues(outcome).Inc()
	}
}

// validateHeader rejects names and values net/http would refuse to send.
func validateHeader(h http.Header) error {
	for name, vals := range h {
		if !httpguts.ValidHeaderFieldName(name) {
			return fmt.Errorf("invalid header name %q", name)
		}
		for _, v := range vals {
			if !httpguts.ValidHeaderFieldValue(v) {
				return fmt.Errorf("invalid value for header %q", name)
			}
		}
	}
	return nil
}
