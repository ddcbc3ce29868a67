package tenant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveExactHost(t *testing.T) {
	r, err := NewResolver(map[string]int64{
		"links.acme.com": 1,
		"go.example.org": 2,
		"*.shortens.dev": 3,
	}, 0)
	require.NoError(t, err)

	id, ok := r.Resolve("links.acme.com")
	require.True(t, ok)
	assert.Equal(t, int64(1), id)

	// Host matching ignores case and port.
	id, ok = r.Resolve("Links.ACME.com:8080")
	require.True(t, ok)
	assert.Equal(t, int64(1), id)

	// Wildcard rule.
	id, ok = r.Resolve("eu.shortens.dev")
	require.True(t, ok)
	assert.Equal(t, int64(3), id)

	// No mapping, no default.
	_, ok = r.Resolve("unknown.example.net")
	assert.False(t, ok)
}

func TestResolveDefaultTenant(t *testing.T) {
	r, err := NewResolver(map[string]int64{"links.acme.com": 1}, 42)
	require.NoError(t, err)

	id, ok := r.Resolve("anything.example.net")
	require.True(t, ok)
	assert.Equal(t, int64(42), id)
}

func TestResolveSpecificRuleWins(t *testing.T) {
	r, err := NewResolver(map[string]int64{
		"*.shortens.dev":    1,
		"*.eu.shortens.dev": 2,
	}, 0)
	require.NoError(t, err)

	id, ok := r.Resolve("go.eu.shortens.dev")
	require.True(t, ok)
	assert.Equal(t, int64(2), id, "the longer rule is tried first")
}

func TestNewResolverValidation(t *testing.T) {
	_, err := NewResolver(map[string]int64{"links.acme.com": 0}, 0)
	assert.Error(t, err, "tenant ids must be positive")

	_, err = NewResolver(map[string]int64{"~[bad": 1}, 0)
	assert.Error(t, err, "invalid patterns fail at startup")
}
