// Package tenant maps the request Host to a tenant id. Every gateway
// surface is tenant-scoped; the redirect path carries no credentials, so
// the host is the only tenant selector available there.
package tenant

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/linkmesh/engine/pkg/pattern"
)

type rule struct {
	pattern  *pattern.Pattern
	tenantID int64
}

// Resolver answers host-to-tenant lookups. Exact hosts win over pattern
// rules; pattern rules are tried longest-first so the most specific one
// applies.
type Resolver struct {
	exact     map[string]int64
	rules     []rule
	defaultID int64 // 0 means no default
}

// NewResolver compiles the host mapping. Keys containing pattern syntax
// ("*" or a "~" prefix) become rules, everything else is an exact host.
func NewResolver(hosts map[string]int64, defaultID int64) (*Resolver, error) {
	r := &Resolver{exact: make(map[string]int64), defaultID: defaultID}

	// Deterministic rule order regardless of map iteration.
	keys := make([]string, 0, len(hosts))
	for k := range hosts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	for _, host := range keys {
		tenantID := hosts[host]
		if tenantID <= 0 {
			return nil, fmt.Errorf("host %q maps to invalid tenant id %d", host, tenantID)
		}
		if strings.Contains(host, "*") || strings.HasPrefix(host, "~") {
			p, err := pattern.Compile(host)
			if err != nil {
				return nil, fmt.Errorf("invalid host rule %q: %w", host, err)
			}
			r.rules = append(r.rules, rule{pattern: p, tenantID: tenantID})
			continue
		}
		r.exact[strings.ToLower(host)] = tenantID
	}
	return r, nil
}

// Resolve returns the tenant for a request host. The port, if any, is
// ignored. Returns (0, false) when no mapping and no default apply.
func (r *Resolver) Resolve(host string) (int64, bool) {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	if id, ok := r.exact[host]; ok {
		return id, true
	}
	for _, rule := range r.rules {
		if rule.pattern.Match(host) {
			return rule.tenantID, true
		}
	}
	if r.defaultID > 0 {
		return r.defaultID, true
	}
	return 0, false
}
