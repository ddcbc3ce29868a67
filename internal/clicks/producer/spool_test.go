package producer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/linkmesh/engine/pkg/types"
)

func spoolEvents(n int) []*types.ClickEvent {
	events := make([]*types.ClickEvent, n)
	for i := range events {
		events[i] = &types.ClickEvent{
			EventID:   "ev-" + string(rune('a'+i)),
			EmittedAt: time.Date(2026, 3, 14, 15, 4, 5, 0, time.UTC),
			LinkID:    int64(i + 1),
			TenantID:  1,
			Code:      "abc123defg",
			ClientIP:  "203.0.113.7",
		}
	}
	return events
}

func TestSpoolRoundTrip(t *testing.T) {
	for _, algorithm := range []string{CompressionNone, CompressionSnappy, CompressionLZ4} {
		t.Run(algorithm, func(t *testing.T) {
			spool, err := NewSpool(t.TempDir(), algorithm, zap.NewNop())
			require.NoError(t, err)

			in := spoolEvents(3)
			require.NoError(t, spool.Append(in...))

			var out []*types.ClickEvent
			n, err := spool.Drain(context.Background(), func(_ context.Context, ev *types.ClickEvent) error {
				out = append(out, ev)
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, 3, n)
			require.Len(t, out, 3)
			assert.Equal(t, in[0].EventID, out[0].EventID)
			assert.Equal(t, in[2].LinkID, out[2].LinkID)
			assert.True(t, in[0].EmittedAt.Equal(out[0].EmittedAt))

			pending, err := spool.Pending()
			require.NoError(t, err)
			assert.Zero(t, pending)
		})
	}
}

func TestSpoolDrainStopsOnPublishFailure(t *testing.T) {
	spool, err := NewSpool(t.TempDir(), CompressionSnappy, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, spool.Append(spoolEvents(3)...))

	calls := 0
	_, err = spool.Drain(context.Background(), func(context.Context, *types.ClickEvent) error {
		calls++
		if calls == 2 {
			return errors.New("broker down")
		}
		return nil
	})
	require.Error(t, err)

	// The file survives for the next pass.
	pending, err := spool.Pending()
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestSpoolCorruptFileSetAside(t *testing.T) {
	dir := t.TempDir()
	spool, err := NewSpool(dir, CompressionSnappy, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "spool-bad.ndjson.sz"), []byte("garbage"), 0o644))
	require.NoError(t, spool.Append(spoolEvents(1)...))

	n, err := spool.Drain(context.Background(), func(context.Context, *types.ClickEvent) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, n, "the healthy file drains despite the corrupt one")

	// The corrupt file is renamed out of the drain set, not retried.
	pending, err := spool.Pending()
	require.NoError(t, err)
	assert.Zero(t, pending)
	_, statErr := os.Stat(filepath.Join(dir, "spool-bad.ndjson.sz.corrupt"))
	assert.NoError(t, statErr)
}

func TestSpoolIgnoresTempFiles(t *testing.T) {
	dir := t.TempDir()
	spool, err := NewSpool(dir, CompressionNone, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "spool-x.ndjson.tmp"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("{}"), 0o644))

	pending, err := spool.Pending()
	require.NoError(t, err)
	assert.Zero(t, pending)
}
