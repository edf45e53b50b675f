// Package header implements proxy header hygiene: hop-by-hop removal and the
// X-Forwarded-For client chain.
package header

import (
	"net/http"
	"strings"
)

// Name is a header field name in canonical MIME form.
//
// http.Header is a plain map, so indexing it with a non-canonical key
// ("connection" instead of "Connection") silently misses entries. Always
// compare header names with Equal or through a Name, never with ==.
type Name string

// Header names used by the proxy.
const (
	Connection       Name = "Connection"
	ProxyConnection  Name = "Proxy-Connection"
	KeepAlive        Name = "Keep-Alive"
	ProxyAuthn       Name = "Proxy-Authenticate"
	ProxyAuthz       Name = "Proxy-Authorization"
	Te               Name = "Te"
	Trailer          Name = "Trailer"
	TransferEncoding Name = "Transfer-Encoding"
	Upgrade          Name = "Upgrade"
	UserAgent        Name = "User-Agent"
	XForwardedFor    Name = "X-Forwarded-For"
)

// HopByHop lists the connection-scoped headers that never cross a proxy hop.
var HopByHop = []Name{
	Connection,
	ProxyConnection,
	KeepAlive,
	ProxyAuthn,
	ProxyAuthz,
	Te,
	Trailer,
	TransferEncoding,
	Upgrade,
}

// NewName returns the canonical Name for s.
func NewName(s string) Name {
	return Name(http.CanonicalHeaderKey(strings.TrimSpace(s)))
}

// String implements fmt.Stringer.
func (n Name) String() string { return string(n) }

// Equal reports whether n and other name the same header, ignoring ASCII case.
func (n Name) Equal(other string) bool {
	return strings.EqualFold(string(n), strings.TrimSpace(other))
}

// IsHopByHop reports whether name is in the HopByHop catalog.
func IsHopByHop(name string) bool {
	for _, h := range HopByHop {
		if h.Equal(name) {
			return true
		}
	}
	return false
}

// SanitizeRequest strips hop-by-hop headers from an outbound request header
// set and defaults a missing User-Agent to the empty string, which stops
// net/http from sending its own Go-http-client identity.
func SanitizeRequest(h http.Header) {
	stripHopByHop(h)
	if _, ok := h[string(UserAgent)]; !ok {
		h[string(UserAgent)] = []string{""}
	}
}

// SanitizeResponse strips hop-by-hop headers from a relayed response header set.
func SanitizeResponse(h http.Header) {
	stripHopByHop(h)
}

// stripHopByHop mutates h in place. Connection must be read before the
// catalog pass removes it.
func stripHopByHop(h http.Header) {
	canonicalize(h)

	for _, v := range h[string(Connection)] {
		for _, token := range strings.Split(v, ",") {
			if token = strings.TrimSpace(token); token != "" {
				delete(h, string(NewName(token)))
			}
		}
	}

	for key, vals := range h {
		if !IsHopByHop(key) || allEmpty(vals) {
			continue
		}
		if Te.Equal(key) && len(vals) == 1 && vals[0] == "trailers" {
			continue
		}
		delete(h, key)
	}
}

// canonicalize folds keys that differ only by case into their canonical form.
func canonicalize(h http.Header) {
	for key, vals := range h {
		ck := http.CanonicalHeaderKey(key)
		if ck == key {
			continue
		}
		delete(h, key)
		h[ck] = append(h[ck], vals...)
	}
}

func allEmpty(vals []string) bool {
	for _, v := range vals {
		if v != "" {
			return false
		}
	}
	return true
}
