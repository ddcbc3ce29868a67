package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/linkmesh/engine/internal/common/redis"
	"github.com/linkmesh/engine/internal/shortener/code"
	"github.com/linkmesh/engine/internal/shortener/linkcache"
	"github.com/linkmesh/engine/internal/shortener/store"
	"github.com/linkmesh/engine/pkg/types"
)

func seedLink(t *testing.T, s store.Store, link *types.ShortLink) *types.ShortLink {
	t.Helper()
	res, err := s.InsertIfAbsent(context.Background(), link)
	require.NoError(t, err)
	require.Equal(t, store.Inserted, res.Outcome)
	return res.Link
}

func validCode(seed string) string {
	return code.NewDeriver(code.DefaultLength).Derive(seed, 1, 0)
}

func newCachedResolver(t *testing.T, s store.Store) (*Resolver, *linkcache.Cache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClientFromRDB(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), zap.NewNop())
	cache := linkcache.New(client, time.Hour, 30*time.Second, zap.NewNop())
	return New(s, cache, code.NewDeriver(code.DefaultLength), zap.NewNop()), cache
}

func TestResolveHappyPath(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	s := store.NewMemoryStore()
	c := validCode("https://example.com/page")
	seeded := seedLink(t, s, &types.ShortLink{
		TenantID:     1,
		Code:         c,
		OriginalURL:  "https://example.com/page?utm=x",
		CanonicalURL: "https://example.com/page",
		IsActive:     true,
	})

	r := New(s, nil, code.NewDeriver(code.DefaultLength), zap.NewNop())

	res, err := r.Resolve(ctx, 1, c, now)
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, res.LinkID)
	// The redirect destination is the original URL as submitted.
	assert.Equal(t, "https://example.com/page?utm=x", res.Destination)
	assert.False(t, res.FromCache)
}

func TestResolveNotFoundAndTenantIsolation(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	s := store.NewMemoryStore()
	c := validCode("https://example.com/page")
	seedLink(t, s, &types.ShortLink{
		TenantID: 1, Code: c, OriginalURL: "https://example.com/page",
		CanonicalURL: "https://example.com/page", IsActive: true,
	})

	r := New(s, nil, code.NewDeriver(code.DefaultLength), zap.NewNop())

	// The right tenant resolves; the wrong tenant gets NotFound.
	_, err := r.Resolve(ctx, 1, c, now)
	require.NoError(t, err)
	_, err = r.Resolve(ctx, 2, c, now)
	assert.True(t, errors.Is(err, types.ErrNotFound))

	// A valid code that was never created is NotFound.
	_, err = r.Resolve(ctx, 1, validCode("https://never.example/"), now)
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestResolveInvalidCode(t *testing.T) {
	ctx := context.Background()
	r := New(store.NewMemoryStore(), nil, code.NewDeriver(code.DefaultLength), zap.NewNop())

	for _, bad := range []string{"", "short", "with-dash!", "0000000000"} {
		_, err := r.Resolve(ctx, 1, bad, time.Now())
		assert.True(t, errors.Is(err, types.ErrInvalidCode), "code %q: %v", bad, err)
	}
}

func TestResolveGone(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)

	tests := []struct {
		name  string
		mut   func(link *types.ShortLink)
		after func(t *testing.T, s store.Store, id int64)
	}{
		{
			name: "expired",
			mut:  func(l *types.ShortLink) { l.ExpiresAt = &past },
		},
		{
			name: "deactivated",
			mut:  func(l *types.ShortLink) { l.IsActive = false },
		},
		{
			name: "click limit reached",
			mut:  func(l *types.ShortLink) { l.Metadata = types.LinkMetadata{"maxClicks": 3} },
			after: func(t *testing.T, s store.Store, id int64) {
				require.NoError(t, s.IncrementClickCount(ctx, id, 3))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := store.NewMemoryStore()
			c := validCode("https://example.com/" + tt.name)
			link := &types.ShortLink{
				TenantID: 1, Code: c, OriginalURL: "https://example.com/x",
				CanonicalURL: "https://example.com/" + tt.name, IsActive: true,
			}
			tt.mut(link)
			seeded := seedLink(t, s, link)
			if tt.after != nil {
				tt.after(t, s, seeded.ID)
			}

			r := New(s, nil, code.NewDeriver(code.DefaultLength), zap.NewNop())
			_, err := r.Resolve(ctx, 1, c, now)
			assert.True(t, errors.Is(err, types.ErrGone), "got %v", err)
		})
	}
}

func TestResolveSoftDeletedIsNotFound(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	c := validCode("https://example.com/gone")
	seeded := seedLink(t, s, &types.ShortLink{
		TenantID: 1, Code: c, OriginalURL: "https://example.com/gone",
		CanonicalURL: "https://example.com/gone", IsActive: true,
	})
	require.NoError(t, s.SoftDelete(ctx, 1, seeded.ID))

	r := New(s, nil, code.NewDeriver(code.DefaultLength), zap.NewNop())
	_, err := r.Resolve(ctx, 1, c, time.Now().UTC())
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestResolveThroughCache(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	s := store.NewMemoryStore()
	c := validCode("https://example.com/cached")
	seedLink(t, s, &types.ShortLink{
		TenantID: 1, Code: c, OriginalURL: "https://example.com/cached",
		CanonicalURL: "https://example.com/cached", IsActive: true,
	})

	r, cache := newCachedResolver(t, s)

	// First resolve misses the cache and populates it.
	first, err := r.Resolve(ctx, 1, c, now)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	// Second resolve is served from the cache.
	second, err := r.Resolve(ctx, 1, c, now)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.LinkID, second.LinkID)
	assert.Equal(t, first.Destination, second.Destination)

	// After explicit invalidation the store is consulted again.
	require.NoError(t, cache.Invalidate(ctx, 1, c))
	third, err := r.Resolve(ctx, 1, c, now)
	require.NoError(t, err)
	assert.False(t, third.FromCache)
}

func TestResolveNegativeCaching(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	s := store.NewMemoryStore()
	r, cache := newCachedResolver(t, s)

	missing := validCode("https://example.com/missing")
	_, err := r.Resolve(ctx, 1, missing, now)
	require.True(t, errors.Is(err, types.ErrNotFound))

	// The miss is remembered.
	snap := cache.Get(ctx, 1, missing)
	require.NotNil(t, snap)
	assert.True(t, snap.NotFound)

	// And served from cache without consulting the store.
	_, err = r.Resolve(ctx, 1, missing, now)
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

// A stale cached snapshot that fails liveness yields Gone even though the
// row is already deactivated in the store; strict consistency is restored
// by the admin invalidation path.
func TestResolveCachedGone(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	s := store.NewMemoryStore()
	c := validCode("https://example.com/limit")
	seeded := seedLink(t, s, &types.ShortLink{
		TenantID: 1, Code: c, OriginalURL: "https://example.com/limit",
		CanonicalURL: "https://example.com/limit", IsActive: true,
		Metadata: types.LinkMetadata{"maxClicks": 1},
	})
	require.NoError(t, s.IncrementClickCount(ctx, seeded.ID, 1))

	r, _ := newCachedResolver(t, s)
	_, err := r.Resolve(ctx, 1, c, now)
	assert.True(t, errors.Is(err, types.ErrGone))
	// The snapshot is cached; the cached evaluation still says Gone.
	_, err = r.Resolve(ctx, 1, c, now)
	assert.True(t, errors.Is(err, types.ErrGone))
}
