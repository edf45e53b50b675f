// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest represents an inbound request to be forwarded upstream.
type ProxyRequest struct {
	Ctx        context.Context
	Method     string
	Path       string // escaped form, relayed verbatim
	RawQuery   string
	ForceQuery bool // request target ended in a bare '?'
	Header     http.Header
	RemoteAddr string
	// ContentLength follows net/http: -1 unknown, 0 empty.
	ContentLength int64
	Body          io.ReadCloser
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	// Trailer is populated only after Body has been read to EOF.
	Trailer http.Header
	Body    io.ReadCloser
}
