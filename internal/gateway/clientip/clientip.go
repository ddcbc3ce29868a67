// Package clientip resolves the real client address for click telemetry.
// The gateway usually sits behind a load balancer, so the configured
// forwarding headers are consulted before the socket address.
package clientip

import (
	"net"
	"strings"

	"github.com/valyala/fasthttp"
)

// Extract returns the client IP from the first non-empty configured header,
// falling back to the connection's remote address. Comma-separated header
// values (X-Forwarded-For chains) yield the leftmost entry.
func Extract(ctx *fasthttp.RequestCtx, headers []string) string {
	for _, header := range headers {
		value := strings.TrimSpace(string(ctx.Request.Header.Peek(header)))
		if value == "" {
			continue
		}
		if idx := strings.IndexByte(value, ','); idx >= 0 {
			value = strings.TrimSpace(value[:idx])
		}
		if value != "" {
			return normalize(value)
		}
	}

	addr := ctx.RemoteAddr().String()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return normalize(addr)
	}
	return normalize(host)
}

// normalize strips IPv6 brackets and zone identifiers and canonicalizes
// the textual form. Unparseable input passes through untouched so the
// event still carries whatever the proxy sent.
func normalize(raw string) string {
	raw = strings.TrimPrefix(raw, "[")
	raw = strings.TrimSuffix(raw, "]")
	if idx := strings.IndexByte(raw, '%'); idx >= 0 {
		raw = raw[:idx]
	}
	ip := net.ParseIP(raw)
	if ip == nil {
		return raw
	}
	return ip.String()
}
