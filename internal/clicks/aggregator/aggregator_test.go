package aggregator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/linkmesh/engine/internal/clicks/rollup"
	"github.com/linkmesh/engine/internal/shortener/store"
	"github.com/linkmesh/engine/pkg/types"
)

var emitted = time.Date(2026, 3, 14, 15, 20, 0, 0, time.UTC)

func clickAt(id string, linkID int64, at time.Time) *types.ClickEvent {
	return &types.ClickEvent{
		EventID:   id,
		EmittedAt: at,
		LinkID:    linkID,
		TenantID:  1,
		Code:      "abc123defg",
		ClientIP:  "203.0.113." + id,
	}
}

func TestApplyDeduplicatesByEventID(t *testing.T) {
	rollups := rollup.NewMemoryStore()
	agg := New(rollups, nil, 0, zap.NewNop())

	// 1000 events, ten delivered twice.
	for i := 0; i < 1000; i++ {
		ev := clickAt(fmt.Sprintf("ev-%d", i), 7, emitted)
		assert.True(t, agg.Apply(ev))
	}
	for i := 0; i < 10; i++ {
		ev := clickAt(fmt.Sprintf("ev-%d", i), 7, emitted)
		assert.False(t, agg.Apply(ev), "replay must be a no-op")
	}

	require.NoError(t, agg.Flush(context.Background(), emitted))

	got, err := rollups.Get(context.Background(), 7, types.WindowStartFor(emitted))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1000), got.TotalClicks, "duplicates are not double counted")
}

func TestApplyAssignsHourWindows(t *testing.T) {
	rollups := rollup.NewMemoryStore()
	agg := New(rollups, nil, 0, zap.NewNop())

	agg.Apply(clickAt("a", 1, emitted))
	agg.Apply(clickAt("b", 1, emitted.Add(30*time.Minute)))
	agg.Apply(clickAt("c", 1, emitted.Add(time.Hour)))
	require.NoError(t, agg.Flush(context.Background(), emitted))

	first, err := rollups.Get(context.Background(), 1, types.WindowStartFor(emitted))
	require.NoError(t, err)
	assert.Equal(t, int64(2), first.TotalClicks)

	second, err := rollups.Get(context.Background(), 1, types.WindowStartFor(emitted.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, int64(1), second.TotalClicks)
}

func TestApplyBreakdowns(t *testing.T) {
	rollups := rollup.NewMemoryStore()
	agg := New(rollups, nil, 5, zap.NewNop())

	for i := 0; i < 10; i++ {
		ev := clickAt(fmt.Sprintf("us-%d", i), 1, emitted)
		ev.Country = "US"
		ev.Referrer = "https://news.example/"
		ev.DeviceClass = types.DeviceMobile
		agg.Apply(ev)
	}
	for i := 0; i < 3; i++ {
		ev := clickAt(fmt.Sprintf("de-%d", i), 1, emitted)
		ev.Country = "DE"
		ev.DeviceClass = types.DeviceDesktop
		agg.Apply(ev)
	}
	// No device class reported.
	agg.Apply(clickAt("x", 1, emitted))

	require.NoError(t, agg.Flush(context.Background(), emitted))
	got, err := rollups.Get(context.Background(), 1, types.WindowStartFor(emitted))
	require.NoError(t, err)

	require.NotEmpty(t, got.TopCountries)
	assert.Equal(t, "US", got.TopCountries[0].Key)
	assert.Equal(t, int64(10), got.TopCountries[0].Count)

	assert.Equal(t, int64(10), got.DeviceCounts[types.DeviceMobile])
	assert.Equal(t, int64(3), got.DeviceCounts[types.DeviceDesktop])
	assert.Equal(t, int64(1), got.DeviceCounts[types.DeviceUnknown])

	require.NotEmpty(t, got.TopReferrers)
	assert.Equal(t, "https://news.example/", got.TopReferrers[0].Key)
}

func TestApplyUniqueSessions(t *testing.T) {
	rollups := rollup.NewMemoryStore()
	agg := New(rollups, nil, 0, zap.NewNop())

	// 50 distinct visitors, each clicking 4 times.
	for visitor := 0; visitor < 50; visitor++ {
		for click := 0; click < 4; click++ {
			ev := clickAt(fmt.Sprintf("v%d-c%d", visitor, click), 1, emitted)
			ev.ClientIP = fmt.Sprintf("198.51.100.%d", visitor)
			ev.UserAgent = "Mozilla/5.0"
			agg.Apply(ev)
		}
	}

	require.NoError(t, agg.Flush(context.Background(), emitted))
	got, err := rollups.Get(context.Background(), 1, types.WindowStartFor(emitted))
	require.NoError(t, err)
	assert.Equal(t, int64(200), got.TotalClicks)
	assert.InDelta(t, 50, float64(got.UniqueSessions), 3)
}

func TestFlushForwardsClickCountDelta(t *testing.T) {
	ctx := context.Background()
	links := store.NewMemoryStore()
	seeded, err := links.InsertIfAbsent(ctx, &types.ShortLink{
		TenantID: 1, Code: "abc123defg", OriginalURL: "https://example.com/x",
		CanonicalURL: "https://example.com/x", IsActive: true,
	})
	require.NoError(t, err)
	linkID := seeded.Link.ID

	agg := New(rollup.NewMemoryStore(), links, 0, zap.NewNop())
	for i := 0; i < 5; i++ {
		agg.Apply(clickAt(fmt.Sprintf("a-%d", i), linkID, emitted))
	}
	require.NoError(t, agg.Flush(ctx, emitted))

	link, err := links.GetByID(ctx, 1, linkID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), link.ClickCount)

	// A second flush without new events adds nothing.
	require.NoError(t, agg.Flush(ctx, emitted))
	link, err = links.GetByID(ctx, 1, linkID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), link.ClickCount)

	// New events only forward the delta.
	for i := 0; i < 3; i++ {
		agg.Apply(clickAt(fmt.Sprintf("b-%d", i), linkID, emitted))
	}
	require.NoError(t, agg.Flush(ctx, emitted))
	link, err = links.GetByID(ctx, 1, linkID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), link.ClickCount)
}

func TestFlushPrunesSealedWindows(t *testing.T) {
	agg := New(rollup.NewMemoryStore(), nil, 0, zap.NewNop())

	agg.Apply(clickAt("old", 1, emitted))
	agg.Apply(clickAt("new", 1, emitted.Add(4*time.Hour)))

	// Both flushed, the old window well past retention.
	require.NoError(t, agg.Flush(context.Background(), emitted.Add(4*time.Hour)))
	assert.Equal(t, 1, agg.WindowCount(), "sealed window state is released")
}

func TestDecodeEventValidation(t *testing.T) {
	good := []byte(`{"event_id":"e1","emitted_at":"2026-03-14T15:20:00Z","link_id":7,"tenant_id":1}`)
	ev, err := decodeEvent(good)
	require.NoError(t, err)
	assert.Equal(t, "e1", ev.EventID)

	for name, data := range map[string][]byte{
		"not json":        []byte("{nope"),
		"missing id":      []byte(`{"emitted_at":"2026-03-14T15:20:00Z","link_id":7}`),
		"missing link":    []byte(`{"event_id":"e1","emitted_at":"2026-03-14T15:20:00Z"}`),
		"missing emitted": []byte(`{"event_id":"e1","link_id":7}`),
	} {
		_, err := decodeEvent(data)
		assert.Error(t, err, name)
	}
}
