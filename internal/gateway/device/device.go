// Package device buckets User-Agents into coarse device classes for the
// click rollup breakdowns. Built-in heuristics cover the common families;
// operators can add bot rules in the config for crawlers the heuristics
// miss.
package device

import (
	"strings"

	"github.com/linkmesh/engine/pkg/pattern"
	"github.com/linkmesh/engine/pkg/types"
)

// Classifier derives device class, browser family and OS family from a
// User-Agent string.
type Classifier struct {
	extraBots *pattern.Set
}

// NewClassifier compiles the additional bot rules (pattern syntax; may be
// empty).
func NewClassifier(botRules []string) (*Classifier, error) {
	set, err := pattern.CompileSet(botRules)
	if err != nil {
		return nil, err
	}
	return &Classifier{extraBots: set}, nil
}

// builtinBotMarkers are lowercase substrings that identify automated
// clients.
var builtinBotMarkers = []string{
	"bot", "crawler", "spider", "slurp", "curl/", "wget/",
	"python-requests", "go-http-client", "headlesschrome",
}

// Classify returns the device class for one User-Agent.
func (c *Classifier) Classify(userAgent string) types.DeviceClass {
	if userAgent == "" {
		return types.DeviceUnknown
	}

	lower := strings.ToLower(userAgent)
	for _, marker := range builtinBotMarkers {
		if strings.Contains(lower, marker) {
			return types.DeviceBot
		}
	}
	if c.extraBots.MatchAny(userAgent) {
		return types.DeviceBot
	}

	switch {
	case strings.Contains(lower, "ipad"),
		strings.Contains(lower, "tablet"),
		strings.Contains(lower, "android") && !strings.Contains(lower, "mobile"):
		return types.DeviceTablet
	case strings.Contains(lower, "mobile"),
		strings.Contains(lower, "iphone"),
		strings.Contains(lower, "android"):
		return types.DeviceMobile
	case strings.Contains(lower, "windows"),
		strings.Contains(lower, "macintosh"),
		strings.Contains(lower, "x11"),
		strings.Contains(lower, "linux"):
		return types.DeviceDesktop
	}
	return types.DeviceUnknown
}

// Families returns the browser and OS family names, "unknown" when the
// User-Agent gives nothing to go on.
func (c *Classifier) Families(userAgent string) (browser, os string) {
	lower := strings.ToLower(userAgent)

	// Order matters: Chrome's UA contains "Safari", Edge's contains both.
	switch {
	case strings.Contains(lower, "edg/"), strings.Contains(lower, "edge/"):
		browser = "Edge"
	case strings.Contains(lower, "opr/"), strings.Contains(lower, "opera"):
		browser = "Opera"
	case strings.Contains(lower, "firefox/"):
		browser = "Firefox"
	case strings.Contains(lower, "chrome/"), strings.Contains(lower, "crios/"):
		browser = "Chrome"
	case strings.Contains(lower, "safari/"):
		browser = "Safari"
	case strings.Contains(lower, "msie"), strings.Contains(lower, "trident/"):
		browser = "IE"
	default:
		browser = "unknown"
	}

	switch {
	case strings.Contains(lower, "iphone"), strings.Contains(lower, "ipad"), strings.Contains(lower, "ios"):
		os = "iOS"
	case strings.Contains(lower, "android"):
		os = "Android"
	case strings.Contains(lower, "windows"):
		os = "Windows"
	case strings.Contains(lower, "mac os x"), strings.Contains(lower, "macintosh"):
		os = "macOS"
	case strings.Contains(lower, "linux"), strings.Contains(lower, "x11"):
		os = "Linux"
	default:
		os = "unknown"
	}
	return browser, os
}
