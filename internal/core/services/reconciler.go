package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/domain"
	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/ports"
)

const (
	DefaultPageSize     = 20
	DefaultInitialBatch = 5
	DefaultEchoWindow   = 2 * time.Minute
)

type Options struct {
	PageSize int
	// InitialBatch : taille du premier lot affiché lors d'un chargement à froid
	// (0 = DefaultInitialBatch, négatif = désactivé).
	InitialBatch int
	// RefetchAfter : âge minimal d'une entrée de cache avant refetch silencieux (0 = toujours).
	RefetchAfter time.Duration
	EchoWindow   time.Duration
	Metrics      ports.Metrics
	Now          func() time.Time
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	switch {
	case o.InitialBatch == 0:
		o.InitialBatch = DefaultInitialBatch
	case o.InitialBatch < 0:
		o.InitialBatch = 0
	}
	if o.InitialBatch >= o.PageSize {
		o.InitialBatch = 0
	}
	if o.EchoWindow <= 0 {
		o.EchoWindow = DefaultEchoWindow
	}
	if o.Metrics == nil {
		o.Metrics = noopMetrics{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Reconciler possède la liste canonique du feed actif et y fusionne fetchs,
// événements push et mutations optimistes.
type Reconciler struct {
	fetcher ports.PageFetcher
	cache   ports.FeedCache
	actions ports.InteractionClient
	opts    Options
	metrics ports.Metrics
	echoes  *echoLog

	mu      sync.Mutex
	state   feedState
	subs    map[int]chan domain.Snapshot
	nextSub int
	unsubs  []func()

	atTop atomic.Bool

	persistMu sync.Mutex
	persisted map[string]uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ ports.FeedEngine = (*Reconciler)(nil)

func NewReconciler(fetcher ports.PageFetcher, cache ports.FeedCache, actions ports.InteractionClient, opts Options) *Reconciler {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reconciler{
		fetcher:   fetcher,
		cache:     cache,
		actions:   actions,
		opts:      opts,
		metrics:   opts.Metrics,
		echoes:    newEchoLog(opts.EchoWindow, opts.Now),
		state:     feedState{phase: domain.PhaseIdle},
		subs:      map[int]chan domain.Snapshot{},
		persisted: map[string]uint64{},
		ctx:       ctx,
		cancel:    cancel,
	}
	r.atTop.Store(true)
	return r
}

// Attach branche le moteur sur une source d'événements (push ou polling).
func (r *Reconciler) Attach(ctx context.Context, src ports.EventSource) error {
	if err := src.EnsureConnection(ctx); err != nil {
		return fmt.Errorf("event source: %w", err)
	}
	for _, family := range domain.Families {
		unsub, err := src.Subscribe(family, r.HandleEvent)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", family, err)
		}
		r.mu.Lock()
		r.unsubs = append(r.unsubs, unsub)
		r.mu.Unlock()
	}
	return nil
}

// Close arrête les tâches de fond et ferme les abonnements.
func (r *Reconciler) Close() {
	r.cancel()
	r.mu.Lock()
	unsubs := r.unsubs
	r.unsubs = nil
	r.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ch := range r.subs {
		close(ch)
		delete(r.subs, id)
	}
}

// Wait bloque jusqu'à la fin des tâches de fond en cours.
func (r *Reconciler) Wait() { r.wg.Wait() }

func (r *Reconciler) ActiveKey() domain.FeedKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.key
}

func (r *Reconciler) Snapshot() domain.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.snapshot()
}

// Subscribe renvoie un canal qui contient toujours le dernier snapshot publié.
func (r *Reconciler) Subscribe() (<-chan domain.Snapshot, func()) {
	ch := make(chan domain.Snapshot, 1)
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	ch <- r.state.snapshot()
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if _, ok := r.subs[id]; ok {
				delete(r.subs, id)
				close(ch)
			}
		})
	}
}

func (r *Reconciler) Activate(ctx context.Context, key domain.FeedKey) error {
	key = key.Normalize()
	if !key.Kind.Valid() {
		return fmt.Errorf("%w: kind %q", domain.ErrInvalidFeedKey, key.Kind)
	}
	if r.ActiveKey().Equal(key) {
		return nil
	}

	entry, hit, err := r.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("Cache read failed, loading from network", "key", key.String(), "error", err)
		hit = false
	}
	r.metrics.CacheAccess(hit)

	var cached *domain.CacheEntry
	if hit {
		cached = &entry
	}
	r.dispatch(activateAction{key: key, cached: cached})
	slog.Debug("Feed activated", "key", key.String(), "cache_hit", hit)

	if !hit {
		return r.load(ctx, false)
	}
	if r.opts.RefetchAfter > 0 && entry.Age(r.opts.Now()) < r.opts.RefetchAfter {
		return nil
	}
	r.spawn(func(ctx context.Context) {
		if err := r.load(ctx, true); err != nil {
			slog.Warn("Background refetch failed", "key", key.String(), "error", err)
		}
	})
	return nil
}

func (r *Reconciler) Refresh(ctx context.Context) error {
	return r.load(ctx, false)
}

func (r *Reconciler) load(ctx context.Context, silent bool) error {
	started, err := r.dispatch(loadStartAction{silent: silent})
	if err != nil {
		if errors.Is(err, errBusy) {
			return nil
		}
		return err
	}

	size := r.opts.PageSize
	partial := false
	if !silent && len(started.posts) == 0 && r.opts.InitialBatch > 0 {
		size = r.opts.InitialBatch
		partial = true
	}

	page, ferr := r.fetcher.FetchPage(ctx, started.key, 0, size)
	r.metrics.FetchCompleted(started.key.Kind, ferr)
	ferr = asFetchError(started.key, 0, ferr)

	done, derr := r.dispatch(loadDoneAction{
		gen:     started.gen,
		since:   started.seq,
		result:  page,
		size:    size,
		partial: partial,
		err:     ferr,
	})
	if errors.Is(derr, errStaleResult) {
		slog.Debug("Discarding superseded page", "key", started.key.String())
		return nil
	}
	if ferr != nil {
		return ferr
	}

	if partial && done.phase == domain.PhaseLoadingMore {
		// Le reste de la première page arrive en tâche de fond.
		r.spawn(func(ctx context.Context) {
			if err := r.fetchMore(ctx, done.key, done.gen, done.seq, 0); err != nil {
				slog.Warn("Progressive load failed", "key", done.key.String(), "error", err)
			}
		})
	}
	return nil
}

func (r *Reconciler) LoadMore(ctx context.Context) error {
	started, err := r.dispatch(moreStartAction{})
	if err != nil {
		if errors.Is(err, errBusy) || errors.Is(err, errNoMore) {
			return nil
		}
		return err
	}
	return r.fetchMore(ctx, started.key, started.gen, started.seq, started.cursor.Page)
}

func (r *Reconciler) fetchMore(ctx context.Context, key domain.FeedKey, gen, since uint64, pageNum int) error {
	page, ferr := r.fetcher.FetchPage(ctx, key, pageNum, r.opts.PageSize)
	r.metrics.FetchCompleted(key.Kind, ferr)
	ferr = asFetchError(key, pageNum, ferr)

	_, derr := r.dispatch(moreDoneAction{
		gen:    gen,
		since:  since,
		page:   pageNum,
		result: page,
		size:   r.opts.PageSize,
		err:    ferr,
	})
	if errors.Is(derr, errStaleResult) {
		slog.Debug("Discarding superseded page", "key", key.String(), "page", pageNum)
		return nil
	}
	return ferr
}

// HandleEvent applique un événement push quel que soit l'état de chargement.
func (r *Reconciler) HandleEvent(ev domain.Event) {
	if ie, ok := ev.(domain.InteractionEvent); ok && r.echoes.suppress(ie) {
		r.metrics.EventApplied(ev.Family(), "echo")
		slog.Debug("Suppressed self-originated event", "post_id", ie.PostID, "type", ie.Type)
		return
	}
	_, err := r.dispatch(pushAction{event: ev})
	switch {
	case err == nil:
		r.metrics.EventApplied(ev.Family(), "applied")
	case errors.Is(err, domain.ErrStaleReference):
		r.metrics.EventApplied(ev.Family(), "stale")
		slog.Debug("Dropped event for post outside the window", "family", ev.Family(), "post_id", ev.TargetID())
	default:
		r.metrics.EventApplied(ev.Family(), "ignored")
	}
}

// ApplyLocalUpdate applique la mutation avant la confirmation réseau et
// l'annule si le serveur la rejette.
func (r *Reconciler) ApplyLocalUpdate(ctx context.Context, postID string, kind domain.MutationKind) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown mutation %q", kind)
	}

	r.mu.Lock()
	s := r.state
	if s.key.IsZero() {
		r.mu.Unlock()
		return domain.ErrNoActiveFeed
	}
	idx := indexOf(s.posts, postID)
	if idx < 0 {
		r.mu.Unlock()
		return domain.ErrPostNotFound
	}
	prior := s.posts[idx]
	a, changed := optimistic(prior, kind)
	if !changed {
		r.mu.Unlock()
		return nil
	}
	job := r.commitLocked(a)
	mutationID := uuid.NewString()
	r.echoes.add(mutationID, postID, kind)
	r.mu.Unlock()
	r.persist(job)

	err := r.confirm(ctx, kind, postID, mutationID)
	r.metrics.MutationCompleted(kind, err != nil)
	if err == nil {
		r.echoes.confirm(mutationID)
		return nil
	}

	r.echoes.remove(mutationID)
	r.rollback(s.key, prior, idx, kind)
	slog.Warn("Optimistic update rolled back", "post_id", postID, "kind", kind, "error", err)
	return &domain.MutationError{PostID: postID, Kind: kind, Err: err}
}

func optimistic(p domain.Post, kind domain.MutationKind) (action, bool) {
	switch kind {
	case domain.MutationLike:
		if p.LikedByViewer {
			return nil, false
		}
		n := p.Adjust(domain.CounterLikes, 1)
		n.LikedByViewer = true
		return replaceAction{post: n}, true
	case domain.MutationUnlike:
		if !p.LikedByViewer {
			return nil, false
		}
		n := p.Adjust(domain.CounterLikes, -1)
		n.LikedByViewer = false
		return replaceAction{post: n}, true
	case domain.MutationBookmark:
		if p.BookmarkedByViewer {
			return nil, false
		}
		n := p.Adjust(domain.CounterBookmarks, 1)
		n.BookmarkedByViewer = true
		return replaceAction{post: n}, true
	case domain.MutationUnbookmark:
		if !p.BookmarkedByViewer {
			return nil, false
		}
		n := p.Adjust(domain.CounterBookmarks, -1)
		n.BookmarkedByViewer = false
		return replaceAction{post: n}, true
	case domain.MutationDelete:
		return removeAction{id: p.ID}, true
	}
	return nil, false
}

func (r *Reconciler) confirm(ctx context.Context, kind domain.MutationKind, postID, mutationID string) error {
	switch kind {
	case domain.MutationLike:
		return r.actions.Like(ctx, postID, mutationID)
	case domain.MutationUnlike:
		return r.actions.Unlike(ctx, postID, mutationID)
	case domain.MutationBookmark:
		return r.actions.Bookmark(ctx, postID, mutationID)
	case domain.MutationUnbookmark:
		return r.actions.Unbookmark(ctx, postID, mutationID)
	case domain.MutationDelete:
		return r.actions.Delete(ctx, postID, mutationID)
	}
	return fmt.Errorf("unknown mutation %q", kind)
}

// rollback restaure exactement le drapeau et le compteur d'avant la mutation.
func (r *Reconciler) rollback(key domain.FeedKey, prior domain.Post, idx int, kind domain.MutationKind) {
	r.mu.Lock()
	s := r.state
	if !s.key.Equal(key) {
		r.mu.Unlock()
		// L'entrée de cache de l'ancien feed contient la valeur optimiste.
		if err := r.cache.Invalidate(r.ctx, key); err != nil {
			slog.Warn("Cache invalidation failed", "key", key.String(), "error", err)
		}
		return
	}

	var a action
	if kind == domain.MutationDelete {
		a = restoreAction{post: prior, index: idx}
	} else {
		i := indexOf(s.posts, prior.ID)
		if i < 0 {
			r.mu.Unlock()
			return
		}
		restored := s.posts[i]
		switch kind {
		case domain.MutationLike, domain.MutationUnlike:
			restored.Likes = prior.Likes
			restored.LikedByViewer = prior.LikedByViewer
		case domain.MutationBookmark, domain.MutationUnbookmark:
			restored.Bookmarks = prior.Bookmarks
			restored.BookmarkedByViewer = prior.BookmarkedByViewer
		}
		a = replaceAction{post: restored}
	}
	job := r.commitLocked(a)
	r.mu.Unlock()
	r.persist(job)
}

// SetScrollOffset : la sonde de nouveautés ne tourne que tout en haut de la liste.
func (r *Reconciler) SetScrollOffset(offset float64) {
	r.atTop.Store(offset <= 0)
}

// CheckForNewer compare le premier id d'une page sonde d'un élément au premier
// id de la liste canonique. Ne fusionne jamais.
func (r *Reconciler) CheckForNewer(ctx context.Context) error {
	if !r.atTop.Load() {
		return nil
	}
	r.mu.Lock()
	s := r.state
	r.mu.Unlock()
	if s.key.IsZero() || s.phase == domain.PhaseLoading || s.phase == domain.PhaseIdle {
		return nil
	}

	page, err := r.fetcher.FetchPage(ctx, s.key, 0, 1)
	if err != nil {
		return asFetchError(s.key, 0, err)
	}
	first := ""
	if len(page.Items) > 0 {
		first = page.Items[0].ID
	}
	r.dispatch(newerAction{gen: s.gen, firstID: first})
	return nil
}

// WatchNewer lance la sonde périodique basse fréquence.
func (r *Reconciler) WatchNewer(interval time.Duration) {
	if interval <= 0 {
		return
	}
	r.spawn(func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.CheckForNewer(ctx); err != nil {
					slog.Debug("New content probe failed", "error", err)
				}
			}
		}
	})
}

// --- internals ---

type persistJob struct {
	key   domain.FeedKey
	posts []domain.Post
	seq   uint64
}

func (r *Reconciler) dispatch(a action) (feedState, error) {
	r.mu.Lock()
	prev := r.state
	next, err := reduce(prev, a)
	r.state = next
	job := r.publishLocked(prev, next)
	r.mu.Unlock()
	r.persist(job)
	return next, err
}

func (r *Reconciler) commitLocked(a action) *persistJob {
	prev := r.state
	next, err := reduce(prev, a)
	if err != nil {
		slog.Debug("Transition rejected", "action", fmt.Sprintf("%T", a), "error", err)
	}
	r.state = next
	return r.publishLocked(prev, next)
}

func (r *Reconciler) publishLocked(prev, next feedState) *persistJob {
	if next.version != prev.version {
		snap := next.snapshot()
		for _, ch := range r.subs {
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
	// Une activation depuis le cache ne réécrit pas l'entrée qu'elle vient de lire.
	if !next.synced || !prev.key.Equal(next.key) || next.seq == prev.seq || sameList(prev.posts, next.posts) {
		return nil
	}
	return &persistJob{key: next.key, posts: next.posts, seq: next.seq}
}

// persist écrit hors verrou ; un snapshot plus ancien n'écrase jamais un plus récent.
func (r *Reconciler) persist(job *persistJob) {
	if job == nil {
		return
	}
	r.persistMu.Lock()
	defer r.persistMu.Unlock()
	k := job.key.String()
	if job.seq <= r.persisted[k] {
		return
	}
	if err := r.cache.Set(r.ctx, job.key, job.posts); err != nil {
		slog.Warn("Cache write failed", "key", k, "error", err)
		return
	}
	r.persisted[k] = job.seq
}

func (r *Reconciler) spawn(f func(ctx context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		f(r.ctx)
	}()
}

func sameList(a, b []domain.Post) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || &a[0] == &b[0]
}

func asFetchError(key domain.FeedKey, page int, err error) error {
	if err == nil {
		return nil
	}
	var fe *domain.FetchError
	if errors.As(err, &fe) {
		return err
	}
	return &domain.FetchError{Key: key.String(), Page: page, Err: err}
}

type noopMetrics struct{}

func (noopMetrics) FetchCompleted(domain.FeedKind, error)       {}
func (noopMetrics) EventApplied(domain.EventFamily, string)     {}
func (noopMetrics) MutationCompleted(domain.MutationKind, bool) {}
func (noopMetrics) CacheAccess(bool)                            {}
