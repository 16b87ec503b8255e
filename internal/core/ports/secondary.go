package ports

import (
	"context"

	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/domain"
)

// --- DRIVEN (Ce dont le moteur a besoin) ---

type PageFetcher interface {
	// FetchPage renvoie une page ; pas de retry, pas d'accès au cache.
	FetchPage(ctx context.Context, key domain.FeedKey, page, size int) (domain.Page, error)
}

type FeedCache interface {
	Get(ctx context.Context, key domain.FeedKey) (domain.CacheEntry, bool, error)
	// Set remplace toujours l'entrée, ne fusionne jamais.
	Set(ctx context.Context, key domain.FeedKey, posts []domain.Post) error
	Invalidate(ctx context.Context, key domain.FeedKey) error
}

type EventHandler func(domain.Event)

type EventSource interface {
	// EnsureConnection est idempotent : une connexion partagée par session.
	EnsureConnection(ctx context.Context) error
	Subscribe(family domain.EventFamily, h EventHandler) (unsubscribe func(), err error)
}

type InteractionClient interface {
	Like(ctx context.Context, postID, mutationID string) error
	Unlike(ctx context.Context, postID, mutationID string) error
	Bookmark(ctx context.Context, postID, mutationID string) error
	Unbookmark(ctx context.Context, postID, mutationID string) error
	Delete(ctx context.Context, postID, mutationID string) error
}

type ImpressionSink interface {
	RecordImpressions(ctx context.Context, postIDs []string) error
	// Beacon : envoi best-effort à échéance courte, utilisé à l'arrêt.
	Beacon(postIDs []string) bool
}

type Metrics interface {
	FetchCompleted(kind domain.FeedKind, err error)
	EventApplied(family domain.EventFamily, outcome string)
	MutationCompleted(kind domain.MutationKind, rolledBack bool)
	CacheAccess(hit bool)
}
