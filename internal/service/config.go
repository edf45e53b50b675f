package service

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"reverse-proxy-go/internal/config"
)

// DefaultTimeout bounds the wait for upstream response headers.
const DefaultTimeout = 60 * time.Second

// ProxyConfig is the immutable per-proxy forwarding configuration. It is
// shared read-only by every exchange.
type ProxyConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Option adjusts a ProxyConfig under construction.
type Option func(*ProxyConfig)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(pc *ProxyConfig) { pc.Timeout = d }
}

// NewProxyConfig validates baseURL and returns a ProxyConfig. A trailing
// slash is trimmed so that appending an inbound path never yields "//".
func NewProxyConfig(baseURL string, opts ...Option) (ProxyConfig, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return ProxyConfig{}, fmt.Errorf("parse upstream base_url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return ProxyConfig{}, fmt.Errorf("upstream base_url %q is not an absolute URL", baseURL)
	}

	pc := ProxyConfig{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&pc)
	}
	return pc, nil
}

// Redacted returns BaseURL with any userinfo password masked.
func (pc ProxyConfig) Redacted() string {
	u, err := url.Parse(pc.BaseURL)
	if err != nil {
		return pc.BaseURL
	}
	return u.Redacted()
}

// ProxyConfigFromConfig builds the ProxyConfig from application config.
func ProxyConfigFromConfig(cfg *config.Config) (ProxyConfig, error) {
	var opts []Option
	if d := cfg.Upstream.Timeout(); d > 0 {
		opts = append(opts, WithTimeout(d))
	}
	return NewProxyConfig(cfg.Upstream.BaseURL, opts...)
}
