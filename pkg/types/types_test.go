package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestShortLinkLiveAt(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		link ShortLink
		want bool
	}{
		{
			name: "active link with no expiry",
			link: ShortLink{IsActive: true},
			want: true,
		},
		{
			name: "deleted",
			link: ShortLink{IsActive: true, Deleted: true},
			want: false,
		},
		{
			name: "deactivated",
			link: ShortLink{IsActive: false},
			want: false,
		},
		{
			name: "expired",
			link: ShortLink{IsActive: true, ExpiresAt: &past},
			want: false,
		},
		{
			name: "expires exactly now",
			link: ShortLink{IsActive: true, ExpiresAt: &now},
			want: false,
		},
		{
			name: "expires in the future",
			link: ShortLink{IsActive: true, ExpiresAt: &future},
			want: true,
		},
		{
			name: "under click limit",
			link: ShortLink{IsActive: true, ClickCount: 9, Metadata: LinkMetadata{"maxClicks": 10}},
			want: true,
		},
		{
			name: "at click limit",
			link: ShortLink{IsActive: true, ClickCount: 10, Metadata: LinkMetadata{"maxClicks": 10}},
			want: false,
		},
		{
			name: "invalid maxClicks value ignored",
			link: ShortLink{IsActive: true, ClickCount: 100, Metadata: LinkMetadata{"maxClicks": "lots"}},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.link.LiveAt(now))
		})
	}
}

func TestLinkMetadataMaxClicks(t *testing.T) {
	// JSON round-trip turns numbers into float64; MaxClicks must still read them.
	var m LinkMetadata
	require.NoError(t, json.Unmarshal([]byte(`{"maxClicks": 25, "campaign": "spring"}`), &m))

	limit, ok := m.MaxClicks()
	require.True(t, ok)
	assert.Equal(t, int64(25), limit)

	_, ok = LinkMetadata{"maxClicks": -1}.MaxClicks()
	assert.False(t, ok)

	_, ok = LinkMetadata{"maxClicks": 2.5}.MaxClicks()
	assert.False(t, ok)

	_, ok = LinkMetadata{}.MaxClicks()
	assert.False(t, ok)
}

func TestLinkMetadataClone(t *testing.T) {
	orig := LinkMetadata{"a": 1}
	clone := orig.Clone()
	clone["a"] = 2

	assert.Equal(t, 1, orig["a"])
	assert.Nil(t, LinkMetadata(nil).Clone())
}

func TestWindowStartFor(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// Windows are always UTC hours, regardless of the input zone.
	emitted := time.Date(2026, 3, 14, 9, 45, 12, 0, loc)
	want := emitted.UTC().Truncate(time.Hour)
	assert.Equal(t, want, WindowStartFor(emitted))
	assert.Equal(t, time.UTC, WindowStartFor(emitted).Location())
}

func TestDurationParsing(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"15s", 15 * time.Second},
		{"1h", time.Hour},
		{"30d", 30 * 24 * time.Hour},
		{"2w", 14 * 24 * time.Hour},
		{"1.5d", 36 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var d Duration
			require.NoError(t, yaml.Unmarshal([]byte("\""+tt.in+"\""), &d))
			assert.Equal(t, tt.want, d.ToDuration())
		})
	}

	var d Duration
	assert.Error(t, yaml.Unmarshal([]byte(`"banana"`), &d))

	// JSON accepts raw nanoseconds for backward compatibility.
	require.NoError(t, json.Unmarshal([]byte("1000000000"), &d))
	assert.Equal(t, time.Second, d.ToDuration())
}
