package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/domain"
	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/ports"
)

type fetchCall struct {
	key        string
	page, size int
}

type pageFunc func(page, size int) (domain.Page, error)

// fakeFetcher sert des pages par clé ; pause() bloque les appels suivants.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   []fetchCall
	pages   map[string]pageFunc
	hold    chan struct{}
	started chan fetchCall
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: map[string]pageFunc{}}
}

func (f *fakeFetcher) serve(key domain.FeedKey, fn pageFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[key.String()] = fn
}

func (f *fakeFetcher) pause() (<-chan fetchCall, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hold = make(chan struct{})
	f.started = make(chan fetchCall, 16)
	hold := f.hold
	var once sync.Once
	return f.started, func() {
		once.Do(func() {
			f.mu.Lock()
			f.hold = nil
			f.mu.Unlock()
			close(hold)
		})
	}
}

func (f *fakeFetcher) FetchPage(ctx context.Context, key domain.FeedKey, page, size int) (domain.Page, error) {
	c := fetchCall{key: key.String(), page: page, size: size}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	fn := f.pages[c.key]
	hold, started := f.hold, f.started
	f.mu.Unlock()

	if started != nil {
		select {
		case started <- c:
		default:
		}
	}
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return domain.Page{}, ctx.Err()
		}
	}
	if fn == nil {
		return domain.Page{}, nil
	}
	return fn(page, size)
}

func (f *fakeFetcher) callsFor(key domain.FeedKey) []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fetchCall
	for _, c := range f.calls {
		if c.key == key.String() {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// listing découpe posts en pages, comme le backend.
func listing(posts []domain.Post) pageFunc {
	return func(page, size int) (domain.Page, error) {
		start := min(page*size, len(posts))
		end := min(start+size, len(posts))
		items := append([]domain.Post(nil), posts[start:end]...)
		return domain.Page{Items: items, IsLastPage: end >= len(posts), TotalElements: len(posts)}, nil
	}
}

func failing(err error) pageFunc {
	return func(int, int) (domain.Page, error) { return domain.Page{}, err }
}

func mkPosts(prefix string, n int) []domain.Post {
	out := make([]domain.Post, n)
	for i := range out {
		out[i] = domain.Post{ID: fmt.Sprintf("%s-%02d", prefix, i), Body: "post"}
	}
	return out
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]domain.CacheEntry
	sets    int
	now     func() time.Time
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]domain.CacheEntry{}, now: time.Now}
}

func (c *fakeCache) Get(_ context.Context, key domain.FeedKey) (domain.CacheEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	return e, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key domain.FeedKey, posts []domain.Post) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.entries[key.String()] = domain.CacheEntry{
		Key:       key.String(),
		Posts:     append([]domain.Post(nil), posts...),
		FetchedAt: c.now(),
	}
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, key domain.FeedKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key.String())
	return nil
}

func (c *fakeCache) seed(key domain.FeedKey, posts []domain.Post, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key.String()] = domain.CacheEntry{Key: key.String(), Posts: posts, FetchedAt: at}
}

func (c *fakeCache) posts(key domain.FeedKey) ([]domain.Post, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	return e.Posts, ok
}

type actionCall struct {
	kind       domain.MutationKind
	postID     string
	mutationID string
}

type fakeActions struct {
	mu    sync.Mutex
	calls []actionCall
	err   error
	hold  chan struct{}
}

func (a *fakeActions) record(kind domain.MutationKind, postID, mutationID string) error {
	a.mu.Lock()
	a.calls = append(a.calls, actionCall{kind: kind, postID: postID, mutationID: mutationID})
	err, hold := a.err, a.hold
	a.mu.Unlock()
	if hold != nil {
		<-hold
	}
	return err
}

func (a *fakeActions) Like(_ context.Context, id, m string) error {
	return a.record(domain.MutationLike, id, m)
}

func (a *fakeActions) Unlike(_ context.Context, id, m string) error {
	return a.record(domain.MutationUnlike, id, m)
}

func (a *fakeActions) Bookmark(_ context.Context, id, m string) error {
	return a.record(domain.MutationBookmark, id, m)
}

func (a *fakeActions) Unbookmark(_ context.Context, id, m string) error {
	return a.record(domain.MutationUnbookmark, id, m)
}

func (a *fakeActions) Delete(_ context.Context, id, m string) error {
	return a.record(domain.MutationDelete, id, m)
}

func (a *fakeActions) last() actionCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[len(a.calls)-1]
}

type fakeSource struct {
	mu       sync.Mutex
	err      error
	handlers map[domain.EventFamily][]ports.EventHandler
}

func (s *fakeSource) EnsureConnection(context.Context) error { return s.err }

func (s *fakeSource) Subscribe(family domain.EventFamily, h ports.EventHandler) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers == nil {
		s.handlers = map[domain.EventFamily][]ports.EventHandler{}
	}
	s.handlers[family] = append(s.handlers[family], h)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, family)
	}, nil
}

func (s *fakeSource) emit(ev domain.Event) {
	s.mu.Lock()
	hs := append([]ports.EventHandler{}, s.handlers[ev.Family()]...)
	s.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (s *fakeSource) subscribed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

func ids(posts []domain.Post) []string {
	out := make([]string, len(posts))
	for i, p := range posts {
		out[i] = p.ID
	}
	return out
}
