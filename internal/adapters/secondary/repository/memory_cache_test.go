package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/domain"
)

func TestMemoryFeedCache(t *testing.T) {
	ctx := context.Background()
	c, err := NewMemoryFeedCache(2)
	require.NoError(t, err)

	posts := []domain.Post{{ID: "a"}}
	require.NoError(t, c.Set(ctx, chrono, posts))
	posts[0].ID = "mutated"

	entry, ok, err := c.Get(ctx, chrono)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", entry.Posts[0].ID, "stored list is a copy")
	assert.Equal(t, chrono.String(), entry.Key)

	require.NoError(t, c.Invalidate(ctx, chrono))
	_, ok, _ = c.Get(ctx, chrono)
	assert.False(t, ok)
}

func TestMemoryFeedCache_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c, err := NewMemoryFeedCache(2)
	require.NoError(t, err)
	following := domain.FeedKey{Kind: domain.FeedFollowing}

	require.NoError(t, c.Set(ctx, chrono, nil))
	require.NoError(t, c.Set(ctx, trending, nil))
	_, _, _ = c.Get(ctx, chrono)
	require.NoError(t, c.Set(ctx, following, nil))

	assert.Equal(t, 2, c.Len())
	_, ok, _ := c.Get(ctx, trending)
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, chrono)
	assert.True(t, ok)
}

func TestNewMemoryFeedCache_DefaultSize(t *testing.T) {
	c, err := NewMemoryFeedCache(0)
	require.NoError(t, err)
	assert.Zero(t, c.Len())
}
