package repository

import (
	"context"
	"slices"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/domain"
)

// DefaultMemoryEntries borne le nombre de feeds distincts gardés en mémoire.
const DefaultMemoryEntries = 256

// MemoryFeedCache est utilisé quand aucun Redis n'est configuré.
type MemoryFeedCache struct {
	entries *lru.Cache[string, domain.CacheEntry]
	now     func() time.Time
}

func NewMemoryFeedCache(size int) (*MemoryFeedCache, error) {
	if size <= 0 {
		size = DefaultMemoryEntries
	}
	entries, err := lru.New[string, domain.CacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &MemoryFeedCache{entries: entries, now: time.Now}, nil
}

func (c *MemoryFeedCache) Get(_ context.Context, key domain.FeedKey) (domain.CacheEntry, bool, error) {
	entry, ok := c.entries.Get(key.String())
	return entry, ok, nil
}

func (c *MemoryFeedCache) Set(_ context.Context, key domain.FeedKey, posts []domain.Post) error {
	c.entries.Add(key.String(), domain.CacheEntry{
		Key:       key.String(),
		Posts:     slices.Clone(posts),
		FetchedAt: c.now().UTC(),
	})
	return nil
}

func (c *MemoryFeedCache) Invalidate(_ context.Context, key domain.FeedKey) error {
	c.entries.Remove(key.String())
	return nil
}

func (c *MemoryFeedCache) Len() int {
	return c.entries.Len()
}
