package header

import (
	"log/slog"
	"net/netip"
	"strings"
)

// ForwardedFor returns the X-Forwarded-For value for an outbound request:
// the inbound chain (multiple header lines joined in order) followed by the
// IP of the immediate peer. The chain is only ever appended to. A peer
// address that is neither ip:port nor a bare IP is logged and skipped.
func ForwardedFor(existing []string, peer string, logger *slog.Logger) string {
	var parts []string
	for _, v := range existing {
		if v = strings.TrimSpace(v); v != "" {
			parts = append(parts, v)
		}
	}
	chain := strings.Join(parts, ", ")

	if peer == "" {
		logger.Debug("no peer address for forwarding chain")
		return chain
	}

	ip, ok := peerIP(peer)
	if !ok {
		logger.Warn("cannot parse peer address; forwarding chain left unchanged",
			"peer", peer,
		)
		return chain
	}

	if chain == "" {
		return ip
	}
	return chain + ", " + ip
}

// peerIP extracts the IP from an ip:port socket address or a bare IP. A
// bracketed bare IPv6 address is accepted too.
func peerIP(addr string) (string, bool) {
	if ap, err := netip.ParseAddrPort(addr); err == nil {
		return ap.Addr().String(), true
	}
	if ip, err := netip.ParseAddr(strings.TrimSuffix(strings.TrimPrefix(addr, "["), "]")); err == nil {
		return ip.String(), true
	}
	return "", false
}
