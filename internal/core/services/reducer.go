package services

import (
	"errors"
	"fmt"
	"maps"

	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/domain"
)

var (
	errBusy        = errors.New("transition already in progress")
	errNoMore      = errors.New("feed exhausted")
	errStaleResult = errors.New("result for a superseded feed generation")
	errIgnored     = errors.New("event ignored")
)

// feedState est l'état complet du moteur pour la clé active.
// gen change à chaque reset complet (activation, refresh) ; seq à chaque
// modification de la liste. arrivals et tombstones mémorisent le seq des
// créations/suppressions push pour fusionner les fetchs en vol.
type feedState struct {
	key       domain.FeedKey
	phase     domain.Phase
	posts     []domain.Post
	cursor    domain.Cursor
	err       error
	hasNewer  bool
	fromCache bool
	syncing   bool
	synced    bool

	gen     uint64
	seq     uint64
	version uint64

	arrivals   map[string]uint64
	tombstones map[string]uint64
}

type action interface{ isAction() }

type activateAction struct {
	key    domain.FeedKey
	cached *domain.CacheEntry
}

type loadStartAction struct{ silent bool }

type loadDoneAction struct {
	gen, since uint64
	result     domain.Page
	size       int
	partial    bool
	err        error
}

type moreStartAction struct{}

type moreDoneAction struct {
	gen, since uint64
	page       int
	result     domain.Page
	size       int
	err        error
}

type pushAction struct{ event domain.Event }

type replaceAction struct{ post domain.Post }

type removeAction struct{ id string }

type restoreAction struct {
	post  domain.Post
	index int
}

type newerAction struct {
	gen     uint64
	firstID string
}

func (activateAction) isAction()  {}
func (loadStartAction) isAction() {}
func (loadDoneAction) isAction()  {}
func (moreStartAction) isAction() {}
func (moreDoneAction) isAction()  {}
func (pushAction) isAction()      {}
func (replaceAction) isAction()   {}
func (removeAction) isAction()    {}
func (restoreAction) isAction()   {}
func (newerAction) isAction()     {}

// reduce est l'unique fonction de transition. En cas de refus, l'état
// d'entrée est renvoyé tel quel avec l'erreur.
func reduce(s feedState, a action) (feedState, error) {
	switch a := a.(type) {
	case activateAction:
		n := feedState{
			key:        a.key.Normalize(),
			phase:      domain.PhaseIdle,
			gen:        s.gen + 1,
			seq:        s.seq + 1,
			version:    s.version + 1,
			arrivals:   map[string]uint64{},
			tombstones: map[string]uint64{},
		}
		if a.cached != nil {
			n.posts = dedupe(a.cached.Posts)
			n.phase = domain.PhaseDisplaying
			n.fromCache = true
			n.synced = true
		}
		return n, nil

	case loadStartAction:
		if s.key.IsZero() {
			return s, domain.ErrNoActiveFeed
		}
		if s.phase == domain.PhaseLoading {
			return s, errBusy
		}
		if a.silent && s.phase != domain.PhaseDisplaying {
			return s, fmt.Errorf("silent refetch from %s: %w", s.phase, errBusy)
		}
		n := s
		n.gen++
		n.version++
		n.cursor = domain.Cursor{}
		n.err = nil
		if a.silent {
			n.syncing = true
		} else {
			n.phase = domain.PhaseLoading
			n.syncing = false
		}
		return n, nil

	case loadDoneAction:
		if a.gen != s.gen {
			return s, errStaleResult
		}
		n := s
		n.version++
		n.syncing = false
		if a.err != nil {
			n.phase = domain.PhaseError
			n.err = a.err
			return n, nil
		}
		incoming := dedupe(a.result.Items)
		fresh := make([]domain.Post, 0, len(incoming))
		for _, p := range incoming {
			if seq, ok := s.tombstones[p.ID]; ok && seq > a.since {
				continue
			}
			fresh = append(fresh, p)
		}
		// Les posts arrivés par push pendant le fetch survivent au remplacement.
		var kept []domain.Post
		for _, p := range s.posts {
			if seq, ok := s.arrivals[p.ID]; ok && seq > a.since && indexOf(fresh, p.ID) < 0 {
				kept = append(kept, p)
			}
		}
		n.posts = append(kept, fresh...)
		n.arrivals = pruneBefore(s.arrivals, a.since)
		n.tombstones = pruneBefore(s.tombstones, a.since)
		n.seq++
		n.err = nil
		n.fromCache = false
		n.synced = true
		n.hasNewer = false

		last := a.result.IsLastPage || len(a.result.Items) < a.size
		if a.partial && !last {
			n.phase = domain.PhaseLoadingMore
			n.cursor = domain.Cursor{Page: 0, IsLoadingMore: true}
		} else {
			n.phase = domain.PhaseDisplaying
			n.cursor = domain.Cursor{Page: 1, IsLastPage: last}
		}
		return n, nil

	case moreStartAction:
		if s.key.IsZero() {
			return s, domain.ErrNoActiveFeed
		}
		if s.cursor.IsLastPage {
			return s, errNoMore
		}
		switch {
		case s.syncing:
			return s, errBusy
		case s.phase == domain.PhaseDisplaying:
		case s.phase == domain.PhaseError && len(s.posts) > 0:
		default:
			return s, fmt.Errorf("load more from %s: %w", s.phase, errBusy)
		}
		n := s
		n.version++
		n.phase = domain.PhaseLoadingMore
		n.cursor.IsLoadingMore = true
		n.err = nil
		return n, nil

	case moreDoneAction:
		if a.gen != s.gen || s.phase != domain.PhaseLoadingMore {
			return s, errStaleResult
		}
		n := s
		n.version++
		n.cursor.IsLoadingMore = false
		if a.err != nil {
			n.phase = domain.PhaseError
			n.err = a.err
			return n, nil
		}
		n.posts = mergePage(s.posts, a.result.Items, func(id string) bool {
			_, dead := s.tombstones[id]
			return dead
		})
		n.seq++
		n.phase = domain.PhaseDisplaying
		n.cursor = domain.Cursor{
			Page:       a.page + 1,
			IsLastPage: a.result.IsLastPage || len(a.result.Items) < a.size,
		}
		return n, nil

	case pushAction:
		if s.key.IsZero() {
			return s, domain.ErrNoActiveFeed
		}
		return applyEvent(s, a.event)

	case replaceAction:
		i := indexOf(s.posts, a.post.ID)
		if i < 0 {
			return s, domain.ErrPostNotFound
		}
		n := s
		n.posts = replaceAt(s.posts, i, a.post)
		n.seq++
		n.version++
		return n, nil

	case removeAction:
		i := indexOf(s.posts, a.id)
		if i < 0 {
			return s, domain.ErrPostNotFound
		}
		n := s
		n.seq++
		n.version++
		n.posts = removeAt(s.posts, i)
		n.tombstones = with(s.tombstones, a.id, n.seq)
		return n, nil

	case restoreAction:
		if indexOf(s.posts, a.post.ID) >= 0 {
			return s, errIgnored
		}
		n := s
		n.seq++
		n.version++
		n.posts = insertAt(s.posts, a.index, a.post)
		n.tombstones = without(s.tombstones, a.post.ID)
		return n, nil

	case newerAction:
		if a.gen != s.gen {
			return s, errStaleResult
		}
		newer := a.firstID != "" && (len(s.posts) == 0 || s.posts[0].ID != a.firstID)
		if newer == s.hasNewer {
			return s, nil
		}
		n := s
		n.hasNewer = newer
		n.version++
		return n, nil
	}
	return s, fmt.Errorf("unknown action %T", a)
}

func applyEvent(s feedState, ev domain.Event) (feedState, error) {
	switch e := ev.(type) {
	case domain.LifecycleEvent:
		id := e.TargetID()
		if id == "" {
			return s, errIgnored
		}
		switch e.Type {
		case domain.PostCreated:
			if e.Post == nil {
				return s, errIgnored
			}
			if _, dead := s.tombstones[id]; dead || indexOf(s.posts, id) >= 0 {
				return s, errIgnored
			}
			n := s
			n.seq++
			n.version++
			n.posts = prepend(s.posts, *e.Post)
			n.arrivals = with(s.arrivals, id, n.seq)
			return n, nil
		case domain.PostDeleted:
			n := s
			n.seq++
			n.tombstones = with(s.tombstones, id, n.seq)
			i := indexOf(s.posts, id)
			if i < 0 {
				// La pierre tombale protège quand même les fetchs en vol.
				return n, domain.ErrStaleReference
			}
			n.version++
			n.posts = removeAt(s.posts, i)
			return n, nil
		}
		return s, errIgnored

	case domain.InteractionEvent:
		c, delta, ok := e.Delta()
		if !ok {
			return s, errIgnored
		}
		return adjust(s, e.PostID, c, delta)

	case domain.CommentEvent:
		delta := e.Delta()
		if delta == 0 {
			return s, errIgnored
		}
		return adjust(s, e.PostID, domain.CounterComments, delta)
	}
	return s, errIgnored
}

func adjust(s feedState, id string, c domain.Counter, delta int) (feedState, error) {
	i := indexOf(s.posts, id)
	if i < 0 {
		return s, domain.ErrStaleReference
	}
	n := s
	n.posts = replaceAt(s.posts, i, s.posts[i].Adjust(c, delta))
	n.seq++
	n.version++
	return n, nil
}

func (s feedState) snapshot() domain.Snapshot {
	snap := domain.Snapshot{
		Key:            s.key,
		Posts:          s.posts,
		Phase:          s.phase,
		Cursor:         s.cursor,
		Loading:        s.phase == domain.PhaseLoading,
		LoadingMore:    s.phase == domain.PhaseLoadingMore,
		Syncing:        s.syncing,
		FromCache:      s.fromCache,
		HasUnseenNewer: s.hasNewer,
		Version:        s.version,
	}
	if snap.Posts == nil {
		snap.Posts = []domain.Post{}
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	return snap
}

func with(m map[string]uint64, k string, v uint64) map[string]uint64 {
	out := maps.Clone(m)
	if out == nil {
		out = map[string]uint64{}
	}
	out[k] = v
	return out
}

func without(m map[string]uint64, k string) map[string]uint64 {
	if _, ok := m[k]; !ok {
		return m
	}
	out := maps.Clone(m)
	delete(out, k)
	return out
}

func pruneBefore(m map[string]uint64, since uint64) map[string]uint64 {
	out := make(map[string]uint64, len(m))
	for k, v := range m {
		if v > since {
			out[k] = v
		}
	}
	return out
}
