// Package requestid generates the per-request ids echoed back to clients
// and threaded through logs. Callers may supply their own id; it is
// sanitized and prefixed with random characters so colliding client ids
// still trace uniquely.
package requestid

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	// MaxRequestIDLength caps the total length at a UUID's 36 characters.
	MaxRequestIDLength = 36
	// PrefixLength is the length of the random prefix.
	PrefixLength = 5
	// MaxCustomIDLength bounds the sanitized custom portion:
	// 36 total - 5 prefix - 1 hyphen.
	MaxCustomIDLength = MaxRequestIDLength - PrefixLength - 1
)

var (
	sanitizeRegex           = regexp.MustCompile(`[^a-zA-Z0-9-]+`)
	consecutiveHyphensRegex = regexp.MustCompile(`-+`)
)

// Generate builds a request id. With a custom id the result is
// {5-random-hex}-{sanitized-custom-id}; without one (or when sanitization
// leaves nothing) it is a plain UUID.
func Generate(customID string) string {
	sanitized := strings.ReplaceAll(customID, " ", "-")
	sanitized = sanitizeRegex.ReplaceAllString(sanitized, "")
	sanitized = consecutiveHyphensRegex.ReplaceAllString(sanitized, "-")
	sanitized = strings.Trim(sanitized, "-")

	if sanitized == "" {
		return uuid.New().String()
	}

	if len(sanitized) > MaxCustomIDLength {
		sanitized = sanitized[:MaxCustomIDLength]
	}
	return randomPrefix() + "-" + sanitized
}

func randomPrefix() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return uuid.New().String()[:PrefixLength]
	}
	return hex.EncodeToString(bytes)[:PrefixLength]
}
