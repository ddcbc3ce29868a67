// Package canonical normalizes URLs to a single byte-exact form so that
// surface-variant inputs collapse onto one short link. The canonical form is
// also the first component of the short-code hash input, so every step here
// must be deterministic and idempotent.
package canonical

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/linkmesh/engine/pkg/types"
)

const (
	defaultPortHTTP  = "80"
	defaultPortHTTPS = "443"
)

// Canonicalize normalizes a raw URL string:
//
//   - scheme and host lowercased, scheme restricted to http/https
//   - userinfo dropped, default ports dropped, fragment dropped
//   - path: empty becomes "/", slash runs collapsed, unreserved
//     percent-escapes decoded, trailing slash stripped; "." and ".."
//     segments are preserved as written
//   - query: pairs stably sorted by name (byte-wise), duplicate names keep
//     their original order; an empty query disappears
//
// Returns types.ErrInvalidURL when the input cannot be parsed or the scheme
// is not http(s).
func Canonicalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrInvalidURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: missing scheme or host", types.ErrInvalidURL)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", types.ErrInvalidURL, u.Scheme)
	}

	// Userinfo never participates in the canonical form: credentials must
	// not leak into hash inputs.
	host := strings.ToLower(u.Host)
	host = stripDefaultPort(scheme, host)

	path := normalizePath(u.EscapedPath())
	query := normalizeQuery(u.RawQuery)

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(path)
	if query != "" {
		b.WriteByte('?')
		b.WriteString(query)
	}
	return b.String(), nil
}

func stripDefaultPort(scheme, host string) string {
	idx := strings.LastIndexByte(host, ':')
	if idx < 0 || strings.HasSuffix(host, "]") {
		return host
	}
	port := host[idx+1:]
	if (scheme == "http" && port == defaultPortHTTP) ||
		(scheme == "https" && port == defaultPortHTTPS) {
		return host[:idx]
	}
	return host
}

func normalizePath(path string) string {
	if path == "" {
		return "/"
	}

	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}

	path = decodeUnreserved(path)

	if len(path) > 1 && strings.HasSuffix(path, "/") {
		path = path[:len(path)-1]
	}
	return path
}

// decodeUnreserved rewrites percent-escapes of RFC 3986 unreserved
// characters (ALPHA / DIGIT / "-" / "." / "_" / "~") to their literal form.
// Reserved escapes like %2F stay encoded: decoding them would change the
// URL's meaning.
func decodeUnreserved(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			hi, okHi := unhex(s[i+1])
			lo, okLo := unhex(s[i+2])
			if okHi && okLo {
				if c := hi<<4 | lo; isUnreserved(c) {
					b.WriteByte(c)
					i += 2
					continue
				}
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '-' || c == '.' || c == '_' || c == '~'
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

type queryPair struct {
	name  string
	value string
	hasEq bool
}

// normalizeQuery sorts query pairs stably by name with byte-wise comparison.
// Pairs are kept in their raw encoded form; only their order changes, so
// equal names retain the order the author wrote them in.
func normalizeQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	var pairs []queryPair
	for _, part := range strings.Split(rawQuery, "&") {
		if part == "" {
			continue
		}
		name, value, hasEq := strings.Cut(part, "=")
		pairs = append(pairs, queryPair{name: name, value: value, hasEq: hasEq})
	}
	if len(pairs) == 0 {
		return ""
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].name < pairs[j].name
	})

	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if p.hasEq {
			parts = append(parts, p.name+"="+p.value)
		} else {
			parts = append(parts, p.name)
		}
	}
	return strings.Join(parts, "&")
}
