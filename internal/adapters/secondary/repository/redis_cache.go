package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/domain"
)

const DefaultCacheTTL = 24 * time.Hour

type RedisFeedCache struct {
	client redis.UniversalClient
	ttl    time.Duration // expiration : le cache n'est pas un stockage hors-ligne
	now    func() time.Time
}

func NewRedisFeedCache(client redis.UniversalClient, ttl time.Duration) *RedisFeedCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisFeedCache{client: client, ttl: ttl, now: time.Now}
}

// Format de la clé : "feedcache:KIND|FILTER|g1,g2|CONTEXT"
func cacheKey(key domain.FeedKey) string {
	return fmt.Sprintf("feedcache:%s", key.String())
}

func (c *RedisFeedCache) Get(ctx context.Context, key domain.FeedKey) (domain.CacheEntry, bool, error) {
	raw, err := c.client.Get(ctx, cacheKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.CacheEntry{}, false, nil
	}
	if err != nil {
		return domain.CacheEntry{}, false, err
	}

	var entry domain.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// Donnée corrompue : on la traite comme une absence
		return domain.CacheEntry{}, false, nil
	}
	// Une entrée n'est jamais visible sous une autre clé
	if entry.Key != key.String() {
		return domain.CacheEntry{}, false, nil
	}
	return entry, true, nil
}

// Set remplace l'entrée en entier et rafraîchit le TTL.
func (c *RedisFeedCache) Set(ctx context.Context, key domain.FeedKey, posts []domain.Post) error {
	entry := domain.CacheEntry{
		Key:       key.String(),
		Posts:     posts,
		FetchedAt: c.now().UTC(),
	}
	if entry.Posts == nil {
		entry.Posts = []domain.Post{}
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshalling error: %w", err)
	}
	return c.client.Set(ctx, cacheKey(key), data, c.ttl).Err()
}

func (c *RedisFeedCache) Invalidate(ctx context.Context, key domain.FeedKey) error {
	return c.client.Del(ctx, cacheKey(key)).Err()
}
