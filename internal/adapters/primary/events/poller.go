package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/domain"
	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/ports"
)

const DefaultPollInterval = 30 * time.Second

// FeedView donne la clé active et la liste canonique courante.
type FeedView interface {
	Snapshot() domain.Snapshot
}

// Poller est le mode dégradé : il refetch la première page à intervalle fixe
// et traduit l'écart avec la liste canonique en événements. Les nouveaux
// posts sont repérés par rapport au passage précédent.
//
// Les compteurs sont comparés à la liste canonique, jamais au passage
// précédent : un refresh entre deux passages ne produit donc aucun delta.
//
// Les suppressions ne sont pas déduites : un id absent peut simplement être
// sorti de la fenêtre de pagination.
type Poller struct {
	fetcher  ports.PageFetcher
	view     FeedView
	interval time.Duration
	size     int

	mu      sync.Mutex
	baseKey domain.FeedKey
	base    map[string]domain.Post
	primed  bool
}

func NewPoller(fetcher ports.PageFetcher, view FeedView, interval time.Duration, size int) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if size <= 0 {
		size = 20
	}
	return &Poller{fetcher: fetcher, view: view, interval: interval, size: size}
}

func (p *Poller) Run(ctx context.Context, emit ports.EventHandler) {
	slog.Info("🐢 Polling fallback started", "interval", p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	if err := p.Poll(ctx, emit); err != nil {
		slog.Debug("Poll failed", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			slog.Info("Polling fallback stopped")
			return
		case <-ticker.C:
			if err := p.Poll(ctx, emit); err != nil {
				slog.Debug("Poll failed", "error", err)
			}
		}
	}
}

// Poll effectue un passage. Le premier passage sur un feed ne fait que
// poser la référence.
func (p *Poller) Poll(ctx context.Context, emit ports.EventHandler) error {
	key := p.view.Snapshot().Key
	if key.IsZero() {
		return nil
	}
	page, err := p.fetcher.FetchPage(ctx, key, 0, p.size)
	if err != nil {
		return err
	}

	// Relu après le fetch : un refresh pendant l'appel y est déjà visible.
	snap := p.view.Snapshot()
	p.mu.Lock()
	var events []domain.Event
	if snap.Key.Equal(key) {
		events = p.diffLocked(key, page.Items, snap.Posts)
	} else {
		// Bascule de feed pendant l'appel : le prochain passage repart de zéro.
		p.primed = false
	}
	p.mu.Unlock()

	for _, ev := range events {
		emit(ev)
	}
	return nil
}

func (p *Poller) diffLocked(key domain.FeedKey, items, canonical []domain.Post) []domain.Event {
	defer p.rebaseLocked(key, items)
	if !p.primed || !p.baseKey.Equal(key) {
		return nil
	}

	shown := make(map[string]domain.Post, len(canonical))
	for _, c := range canonical {
		shown[c.ID] = c
	}

	// Nouveaux posts : tout ce qui précède le premier id déjà connu.
	top := len(items)
	for i, it := range items {
		_, seen := p.base[it.ID]
		_, ok := shown[it.ID]
		if seen || ok {
			top = i
			break
		}
	}

	var out []domain.Event
	for i := top - 1; i >= 0; i-- {
		post := items[i]
		out = append(out, domain.LifecycleEvent{Type: domain.PostCreated, Post: &post, PostID: post.ID})
	}
	for _, it := range items[top:] {
		if cur, ok := shown[it.ID]; ok {
			out = append(out, counterDeltas(cur, it)...)
		}
	}
	return out
}

func (p *Poller) rebaseLocked(key domain.FeedKey, items []domain.Post) {
	p.baseKey = key
	p.primed = true
	p.base = make(map[string]domain.Post, len(items))
	for _, it := range items {
		p.base[it.ID] = it
	}
}

// counterDeltas émet un événement par unité, marqué synthétique pour que
// l'écho des mutations locales puisse être écarté.
func counterDeltas(old, cur domain.Post) []domain.Event {
	var out []domain.Event
	interaction := func(t domain.InteractionType, n int) {
		for range n {
			out = append(out, domain.InteractionEvent{Type: t, PostID: cur.ID, Synthetic: true})
		}
	}
	comment := func(t domain.CommentType, n int) {
		for range n {
			out = append(out, domain.CommentEvent{Type: t, PostID: cur.ID})
		}
	}

	switch d := cur.Likes - old.Likes; {
	case d > 0:
		interaction(domain.InteractionLike, d)
	case d < 0:
		interaction(domain.InteractionUnlike, -d)
	}
	switch d := cur.Bookmarks - old.Bookmarks; {
	case d > 0:
		interaction(domain.InteractionBookmark, d)
	case d < 0:
		interaction(domain.InteractionUnbookmark, -d)
	}
	if d := cur.Shares - old.Shares; d > 0 {
		interaction(domain.InteractionShare, d)
	}
	switch d := cur.Comments - old.Comments; {
	case d > 0:
		comment(domain.CommentCreated, d)
	case d < 0:
		comment(domain.CommentDeleted, -d)
	}
	return out
}
