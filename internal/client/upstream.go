// Package client provides the upstream HTTP client.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"reverse-proxy-go/internal/config"
	"reverse-proxy-go/internal/metrics"
	"reverse-proxy-go/internal/model"
)

// ErrUpstreamTimeout is returned when response headers do not arrive in time.
var ErrUpstreamTimeout = errors.New("upstream timed out awaiting response headers")

// UpstreamClient sends requests to the upstream server.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
//
// The client never follows redirects and never negotiates gzip on its own,
// so the caller sees exactly what the upstream sent. There is no overall
// client timeout; Do bounds the wait for response headers only.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		MaxIdleConns:          cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost:   cfg.Upstream.IdleConnections,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DisableCompression:    true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}
}

// Do sends req and waits at most timeout for the response headers; a
// non-positive timeout waits indefinitely. When the timeout fires the request
// context is canceled, which abandons any in-progress upload and releases the
// connection, and the returned error wraps ErrUpstreamTimeout.
//
// The response body stays readable after Do returns. The caller must close
// it; closing releases the exchange.
func (c *UpstreamClient) Do(req *http.Request, timeout time.Duration) (*model.ProxyResponse, error) {
	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)

	var timer *time.Timer
	if timeout > 0 {
		timer = time.AfterFunc(timeout, cancel)
	}

	c.logger.Debug("upstream request",
		"method", req.Method,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	// Stop reports false once the timer has fired and canceled ctx.
	fired := timer != nil && !timer.Stop()

	method := metrics.NormalizeMethod(req.Method)
	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
	}

	if err != nil {
		cancel()
		if fired {
			return nil, fmt.Errorf("%w after %s: %w", ErrUpstreamTimeout, timeout, err)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	if fired {
		// Headers raced the timer; the body is already unusable.
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w after %s", ErrUpstreamTimeout, timeout)
	}

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Trailer:    resp.Trailer,
		Body:       &cancelOnClose{ReadCloser: resp.Body, cancel: cancel},
	}, nil
}

// cancelOnClose releases the exchange context once the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
