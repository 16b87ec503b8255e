package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/domain"
)

var (
	chrono   = domain.FeedKey{Kind: domain.FeedChronological}
	trending = domain.FeedKey{Kind: domain.FeedTrending}
)

func newRedisCache(t *testing.T, ttl time.Duration) (*RedisFeedCache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisFeedCache(client, ttl), s
}

func TestRedisFeedCache_MissThenHit(t *testing.T) {
	ctx := context.Background()
	c, _ := newRedisCache(t, time.Hour)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	_, ok, err := c.Get(ctx, chrono)
	require.NoError(t, err)
	assert.False(t, ok)

	posts := []domain.Post{{ID: "a", Likes: 3}, {ID: "b"}}
	require.NoError(t, c.Set(ctx, chrono, posts))

	entry, ok, err := c.Get(ctx, chrono)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, chrono.String(), entry.Key)
	assert.Len(t, entry.Posts, 2)
	assert.Equal(t, 3, entry.Posts[0].Likes)
	assert.True(t, fixed.Equal(entry.FetchedAt))

	_, ok, err = c.Get(ctx, trending)
	require.NoError(t, err)
	assert.False(t, ok, "entries never leak across keys")
}

func TestRedisFeedCache_GroupOrderIsIrrelevant(t *testing.T) {
	ctx := context.Background()
	c, _ := newRedisCache(t, time.Hour)
	a := domain.FeedKey{Kind: domain.FeedFollowing, Filter: domain.FilterSelectedGroups, GroupIDs: []string{"g2", "g1"}}
	b := domain.FeedKey{Kind: domain.FeedFollowing, Filter: domain.FilterSelectedGroups, GroupIDs: []string{"g1", "g2", "g1"}}

	require.NoError(t, c.Set(ctx, a, []domain.Post{{ID: "x"}}))
	_, ok, err := c.Get(ctx, b)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisFeedCache_DelimiterInGroupIDStaysIsolated(t *testing.T) {
	ctx := context.Background()
	c, _ := newRedisCache(t, time.Hour)
	joined := domain.FeedKey{Kind: domain.FeedFollowing, Filter: domain.FilterSelectedGroups, GroupIDs: []string{"a,b"}}
	split := domain.FeedKey{Kind: domain.FeedFollowing, Filter: domain.FilterSelectedGroups, GroupIDs: []string{"a", "b"}}

	require.NoError(t, c.Set(ctx, joined, []domain.Post{{ID: "x"}}))
	_, ok, err := c.Get(ctx, split)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisFeedCache_EmptyListIsStored(t *testing.T) {
	ctx := context.Background()
	c, s := newRedisCache(t, time.Hour)
	require.NoError(t, c.Set(ctx, chrono, nil))

	raw, err := s.Get(cacheKey(chrono))
	require.NoError(t, err)
	assert.Contains(t, raw, `"posts":[]`)

	entry, ok, err := c.Get(ctx, chrono)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, entry.Posts)
}

func TestRedisFeedCache_CorruptOrForeignEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	c, s := newRedisCache(t, time.Hour)

	require.NoError(t, s.Set(cacheKey(chrono), "{not json"))
	_, ok, err := c.Get(ctx, chrono)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(cacheKey(trending), `{"key":"other","posts":[]}`))
	_, ok, err = c.Get(ctx, trending)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisFeedCache_ExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	c, s := newRedisCache(t, time.Minute)
	require.NoError(t, c.Set(ctx, chrono, []domain.Post{{ID: "a"}}))
	assert.Equal(t, time.Minute, s.TTL(cacheKey(chrono)))

	s.FastForward(2 * time.Minute)
	_, ok, err := c.Get(ctx, chrono)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisFeedCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	c, s := newRedisCache(t, time.Hour)
	require.NoError(t, c.Set(ctx, chrono, []domain.Post{{ID: "a"}}))
	require.NoError(t, c.Invalidate(ctx, chrono))
	assert.False(t, s.Exists(cacheKey(chrono)))
	require.NoError(t, c.Invalidate(ctx, chrono), "invalidating a missing key is fine")
}

func TestRedisFeedCache_BackendDown(t *testing.T) {
	c, s := newRedisCache(t, time.Hour)
	s.Close()
	_, _, err := c.Get(context.Background(), chrono)
	assert.Error(t, err)
}
