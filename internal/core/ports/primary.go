package ports

import (
	"context"

	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/domain"
)

// --- DRIVING (Ce que le moteur expose) ---

type FeedEngine interface {
	// Activate bascule sur un feed : peinture depuis le cache puis refetch silencieux.
	Activate(ctx context.Context, key domain.FeedKey) error
	Refresh(ctx context.Context) error
	LoadMore(ctx context.Context) error

	// ApplyLocalUpdate applique une mutation optimiste puis attend la confirmation.
	ApplyLocalUpdate(ctx context.Context, postID string, kind domain.MutationKind) error

	SetScrollOffset(offset float64)
	CheckForNewer(ctx context.Context) error

	Snapshot() domain.Snapshot
	Subscribe() (<-chan domain.Snapshot, func())
}

// Refresher est tout ce dont le Gesture Controller a besoin.
type Refresher interface {
	Refresh(ctx context.Context) error
}
