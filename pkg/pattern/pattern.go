// Package pattern matches strings against operator-supplied rules.
//
// Rule syntax, chosen by prefix:
//
//   - no prefix, no "*": case-insensitive exact match
//   - "*" anywhere: case-insensitive wildcard, * spans any characters
//   - "~": case-sensitive regular expression
//   - "~*": case-insensitive regular expression
//
// Rules appear in the config for bot detection and host-to-tenant routing,
// so compilation happens once at load time and Match stays allocation-free.
package pattern

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind says how a compiled rule matches.
type Kind int

const (
	KindExact Kind = iota
	KindWildcard
	KindRegexp
)

// Pattern is one compiled rule.
type Pattern struct {
	source string
	kind   Kind
	text   string // prefix-stripped body
	re     *regexp.Regexp
}

// Compile parses a rule. Call once at config load.
func Compile(rule string) (*Pattern, error) {
	if rule == "" {
		return nil, fmt.Errorf("pattern cannot be empty")
	}

	switch {
	case strings.HasPrefix(rule, "~*"):
		re, err := regexp.Compile("(?i)" + rule[2:])
		if err != nil {
			return nil, fmt.Errorf("invalid regexp pattern %q: %w", rule, err)
		}
		return &Pattern{source: rule, kind: KindRegexp, text: rule[2:], re: re}, nil

	case strings.HasPrefix(rule, "~"):
		re, err := regexp.Compile(rule[1:])
		if err != nil {
			return nil, fmt.Errorf("invalid regexp pattern %q: %w", rule, err)
		}
		return &Pattern{source: rule, kind: KindRegexp, text: rule[1:], re: re}, nil

	case strings.Contains(rule, "*"):
		return &Pattern{source: rule, kind: KindWildcard, text: strings.ToLower(rule)}, nil

	default:
		return &Pattern{source: rule, kind: KindExact, text: rule}, nil
	}
}

// String returns the original rule text.
func (p *Pattern) String() string { return p.source }

// Kind returns how the rule matches.
func (p *Pattern) Kind() Kind { return p.kind }

// Match reports whether input satisfies the rule.
func (p *Pattern) Match(input string) bool {
	if p == nil {
		return false
	}
	switch p.kind {
	case KindRegexp:
		return p.re.MatchString(input)
	case KindWildcard:
		return matchWildcard(strings.ToLower(input), p.text)
	default:
		return strings.EqualFold(input, p.text)
	}
}

// Set is an ordered collection of rules.
type Set struct {
	patterns []*Pattern
}

// CompileSet compiles every rule, failing on the first invalid one.
func CompileSet(rules []string) (*Set, error) {
	s := &Set{patterns: make([]*Pattern, 0, len(rules))}
	for _, rule := range rules {
		p, err := Compile(rule)
		if err != nil {
			return nil, err
		}
		s.patterns = append(s.patterns, p)
	}
	return s, nil
}

// MatchAny reports whether any rule matches input.
func (s *Set) MatchAny(input string) bool {
	if s == nil {
		return false
	}
	for _, p := range s.patterns {
		if p.Match(input) {
			return true
		}
	}
	return false
}

// Len returns the number of compiled rules.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.patterns)
}

// matchWildcard matches text against a lowercased wildcard pattern where
// each * spans any run of characters, including none.
func matchWildcard(text, pattern string) bool {
	if !strings.Contains(pattern, "*") {
		return text == pattern
	}

	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(text, parts[0]) {
		return false
	}
	text = text[len(parts[0]):]

	last := parts[len(parts)-1]
	if !strings.HasSuffix(text, last) {
		return false
	}
	text = text[:len(text)-len(last)]

	for _, part := range parts[1 : len(parts)-1] {
		if part == "" {
			continue
		}
		idx := strings.Index(text, part)
		if idx == -1 {
			return false
		}
		text = text[idx+len(part):]
	}
	return true
}
