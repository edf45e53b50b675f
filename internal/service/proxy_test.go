package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"reverse-proxy-go/internal/client"
	"reverse-proxy-go/internal/config"
	"reverse-proxy-go/internal/metrics"
	"reverse-proxy-go/internal/model"
)

// newTestService returns a ProxyService pointed at baseURL.
func newTestService(t *testing.T, baseURL string, timeout time.Duration, m *metrics.Metrics) *ProxyService {
	t.Helper()
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			BaseURL:         baseURL,
			IdleConnections: 10,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pc, err := NewProxyConfig(baseURL, WithTimeout(timeout))
	if err != nil {
		t.Fatalf("NewProxyConfig: %v", err)
	}
	return NewProxyService(client.NewUpstreamClient(cfg, logger, m), pc, logger, m)
}

func newProxyRequest(method, path, rawQuery string, h http.Header, body string) *model.ProxyRequest {
	pr := &model.ProxyRequest{
		Ctx:        context.Background(),
		Method:     method,
		Path:       path,
		RawQuery:   rawQuery,
		Header:     h,
		RemoteAddr: "127.0.0.1:8000",
		Body:       http.NoBody,
	}
	if body != "" {
		pr.Body = io.NopCloser(strings.NewReader(body))
		pr.ContentLength = int64(len(body))
	}
	return pr
}

func TestForward_HappyPath(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RequestURI() != "/base/items/42?sort=desc&x=%2F" {
			t.Errorf("RequestURI = %q, want %q", r.URL.RequestURI(), "/base/items/42?sort=desc&x=%2F")
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"name":"widget"}` {
			t.Errorf("upstream body = %q, want %q", body, `{"name":"widget"}`)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Set-Cookie", "session=abc")
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"ok"}`))
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream.URL+"/base", 5*time.Second, nil)

	pr := newProxyRequest(http.MethodPost, "/items/42", "sort=desc&x=%2F",
		http.Header{"Content-Type": {"application/json"}}, `{"name":"widget"}`)

	resp, err := svc.Forward(pr)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	for key, want := range map[string]string{
		"Content-Type": "application/json",
		"Set-Cookie":   "session=abc",
		"X-Upstream":   "yes",
	} {
		if got := resp.Header.Get(key); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != `{"result":"ok"}` {
		t.Errorf("body = %q, want %q", string(body), `{"result":"ok"}`)
	}
}

func TestForward_RequestHeaderHygiene(t *testing.T) {
	got := make(chan http.Header, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Clone()
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream.URL, 5*time.Second, nil)

	pr := newProxyRequest(http.MethodGet, "/", "", http.Header{
		"Connection":          {"X-Secret, keep-alive"},
		"Keep-Alive":          {"timeout=5"},
		"Proxy-Authorization": {"Basic abc"},
		"Te":                  {"trailers"},
		"Upgrade":             {"h2c"},
		"X-Secret":            {"hop"},
		"Authorization":       {"Bearer end-to-end"},
		"X-Forwarded-For":     {"192.168.25.12"},
	}, "")

	resp, err := svc.Forward(pr)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	_ = resp.Body.Close()

	h := <-got
	tests := []struct {
		name string
		key  string
		want string
	}{
		{"Connection-named header stripped", "X-Secret", ""},
		{"Proxy-Authorization stripped", "Proxy-Authorization", ""},
		{"Keep-Alive stripped", "Keep-Alive", ""},
		{"Upgrade stripped", "Upgrade", ""},
		{"Te trailers kept", "Te", "trailers"},
		{"Authorization kept", "Authorization", "Bearer end-to-end"},
		{"chain appended", "X-Forwarded-For", "192.168.25.12, 127.0.0.1"},
		{"no default user agent", "User-Agent", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if v := h.Get(tt.key); v != tt.want {
				t.Errorf("%s = %q, want %q", tt.key, v, tt.want)
			}
		})
	}
}

func TestForward_UserAgentPreserved(t *testing.T) {
	got := make(chan string, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.UserAgent()
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream.URL, 5*time.Second, nil)

	resp, err := svc.Forward(newProxyRequest(http.MethodGet, "/", "",
		http.Header{"User-Agent": {"curl/8.0"}}, ""))
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	_ = resp.Body.Close()

	if ua := <-got; ua != "curl/8.0" {
		t.Errorf("User-Agent = %q, want %q", ua, "curl/8.0")
	}
}

func TestForward_ConnectionCannotDropChain(t *testing.T) {
	got := make(chan string, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("X-Forwarded-For")
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream.URL, 5*time.Second, nil)

	resp, err := svc.Forward(newProxyRequest(http.MethodGet, "/", "", http.Header{
		"Connection":      {"X-Forwarded-For"},
		"X-Forwarded-For": {"10.0.0.1"},
	}, ""))
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	_ = resp.Body.Close()

	if xff := <-got; xff != "10.0.0.1, 127.0.0.1" {
		t.Errorf("X-Forwarded-For = %q, want %q", xff, "10.0.0.1, 127.0.0.1")
	}
}

func TestForward_ResponseHeaderHygiene(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Connection", "X-Internal")
		w.Header().Set("X-Internal", "hop")
		w.Header().Set("Keep-Alive", "timeout=5")
		w.Header().Set("Proxy-Authenticate", "Basic")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream.URL, 5*time.Second, nil)

	resp, err := svc.Forward(newProxyRequest(http.MethodGet, "/", "", nil, ""))
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	for _, key := range []string{"Connection", "X-Internal", "Keep-Alive", "Proxy-Authenticate"} {
		if v := resp.Header.Get(key); v != "" {
			t.Errorf("%s should be stripped, got %q", key, v)
		}
	}
	if v := resp.Header.Get("Cache-Control"); v != "no-store" {
		t.Errorf("Cache-Control = %q, want %q", v, "no-store")
	}
}

func TestForward_EmptyBody(t *testing.T) {
	type seen struct {
		contentLength int64
		body          string
	}
	got := make(chan seen, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got <- seen{r.ContentLength, string(b)}
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream.URL, 2*time.Second, nil)

	// A body reader that would block forever must not be touched when the
	// inbound content length is zero.
	blocking, _ := io.Pipe()
	pr := newProxyRequest(http.MethodPost, "/", "", nil, "")
	pr.Body = blocking

	resp, err := svc.Forward(pr)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	_ = resp.Body.Close()

	s := <-got
	if s.contentLength != 0 || s.body != "" {
		t.Errorf("upstream saw content length %d body %q, want empty", s.contentLength, s.body)
	}
}

func TestForward_StreamsUnknownLengthBody(t *testing.T) {
	got := make(chan string, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got <- string(b)
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream.URL, 5*time.Second, nil)

	pipeR, pipeW := io.Pipe()
	go func() {
		for _, chunk := range []string{"alpha-", "beta-", "gamma"} {
			_, _ = pipeW.Write([]byte(chunk))
		}
		_ = pipeW.Close()
	}()

	pr := newProxyRequest(http.MethodPut, "/upload", "", nil, "")
	pr.Body = pipeR
	pr.ContentLength = -1

	resp, err := svc.Forward(pr)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	_ = resp.Body.Close()

	if body := <-got; body != "alpha-beta-gamma" {
		t.Errorf("upstream body = %q, want %q", body, "alpha-beta-gamma")
	}
}

func TestForward_Timeout(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()
	defer close(release)

	m := metrics.New()
	svc := newTestService(t, upstream.URL, 100*time.Millisecond, m)

	start := time.Now()
	_, err := svc.Forward(newProxyRequest(http.MethodGet, "/slow", "", nil, ""))
	if err == nil {
		t.Fatal("Forward() expected timeout error, got nil")
	}
	if !errors.Is(err, client.ErrUpstreamTimeout) {
		t.Errorf("Forward() error = %v, want ErrUpstreamTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Forward() took %v, want within one timeout interval", elapsed)
	}
	if v := outcomeCount(t, m, metrics.OutcomeTimedOut); v != 1 {
		t.Errorf("timed_out outcomes = %v, want 1", v)
	}
}

func TestForward_TransportFailure(t *testing.T) {
	m := metrics.New()
	svc := newTestService(t, "http://127.0.0.1:1", 5*time.Second, m)

	_, err := svc.Forward(newProxyRequest(http.MethodGet, "/", "", nil, ""))
	if err == nil {
		t.Fatal("Forward() expected error for unreachable upstream, got nil")
	}
	if errors.Is(err, client.ErrUpstreamTimeout) || errors.Is(err, ErrBuildRequest) {
		t.Errorf("Forward() error = %v, want transport failure", err)
	}
	if v := outcomeCount(t, m, metrics.OutcomeTransportFailed); v != 1 {
		t.Errorf("transport_failed outcomes = %v, want 1", v)
	}
}

func TestForward_BuildFailure(t *testing.T) {
	tests := []struct {
		name string
		pr   *model.ProxyRequest
	}{
		{"invalid header value", newProxyRequest(http.MethodGet, "/", "",
			http.Header{"X-Bad": {"line\r\nbreak"}}, "")},
		{"invalid header name", newProxyRequest(http.MethodGet, "/", "",
			http.Header{"Bad Name": {"v"}}, "")},
		{"invalid method", newProxyRequest("BAD METHOD", "/", "", nil, "")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, "http://127.0.0.1:1", time.Second, nil)
			_, err := svc.Forward(tt.pr)
			if !errors.Is(err, ErrBuildRequest) {
				t.Errorf("Forward() error = %v, want ErrBuildRequest", err)
			}
		})
	}
}

func TestProxyConfigFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		seconds int
		want    time.Duration
	}{
		{"explicit", 12, 12 * time.Second},
		{"zero uses default", 0, DefaultTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Upstream: config.UpstreamConfig{
				BaseURL:        "http://up/",
				TimeoutSeconds: tt.seconds,
			}}
			pc, err := ProxyConfigFromConfig(cfg)
			if err != nil {
				t.Fatalf("ProxyConfigFromConfig() error = %v", err)
			}
			if pc.Timeout != tt.want {
				t.Errorf("Timeout = %v, want %v", pc.Timeout, tt.want)
			}
			if pc.BaseURL != "http://up" {
				t.Errorf("BaseURL = %q, want %q", pc.BaseURL, "http://up")
			}
		})
	}
}

func outcomeCount(t *testing.T, m *metrics.Metrics, outcome string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != "reverse_proxy_upstream_exchanges_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "outcome" && lp.GetValue() == outcome {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
