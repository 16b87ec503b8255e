package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/domain"
	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/ports"
)

// --- fakes ---

type stubFetcher struct {
	mu    sync.Mutex
	pages []domain.Page
	calls atomic.Int32
	err   error
}

func (f *stubFetcher) FetchPage(_ context.Context, _ domain.FeedKey, _, _ int) (domain.Page, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.Page{}, f.err
	}
	if len(f.pages) == 0 {
		return domain.Page{}, nil
	}
	p := f.pages[0]
	if len(f.pages) > 1 {
		f.pages = f.pages[1:]
	}
	return p, nil
}

// fakeView joue le rôle du Reconciler : clé active et liste canonique.
type fakeView struct {
	mu    sync.Mutex
	key   domain.FeedKey
	posts []domain.Post
}

func (v *fakeView) Snapshot() domain.Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return domain.Snapshot{Key: v.key, Posts: v.posts}
}

func (v *fakeView) set(key domain.FeedKey) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.key = key
}

func (v *fakeView) show(posts ...domain.Post) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.posts = posts
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) handle(ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

type fakePush struct {
	mu       sync.Mutex
	err      error
	calls    int
	d        *Dispatcher
	onClosed []func()
	closed   bool
}

func newFakePush(err error) *fakePush { return &fakePush{err: err, d: NewDispatcher()} }

func (f *fakePush) EnsureConnection(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakePush) Subscribe(family domain.EventFamily, h ports.EventHandler) (func(), error) {
	return f.d.Subscribe(family, h), nil
}

func (f *fakePush) OnClosed(h func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onClosed = append(f.onClosed, h)
}

func (f *fakePush) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakePush) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakePush) lose() {
	f.mu.Lock()
	hooks := append([]func(){}, f.onClosed...)
	f.mu.Unlock()
	for _, h := range hooks {
		h()
	}
}

var chrono = domain.FeedKey{Kind: domain.FeedChronological}.Normalize()

// --- Dispatcher ---

func TestDispatcher_OrderAndUnsubscribe(t *testing.T) {
	d := NewDispatcher()
	var got []string
	u1 := d.Subscribe(domain.FamilyComment, func(domain.Event) { got = append(got, "first") })
	d.Subscribe(domain.FamilyComment, func(domain.Event) { got = append(got, "second") })
	d.Subscribe(domain.FamilyLifecycle, func(domain.Event) { got = append(got, "lifecycle") })

	d.Dispatch(domain.CommentEvent{Type: domain.CommentCreated, PostID: "p"})
	assert.Equal(t, []string{"first", "second"}, got)
	assert.Equal(t, 2, d.Len(domain.FamilyComment))

	u1()
	u1()
	got = nil
	d.Dispatch(domain.CommentEvent{Type: domain.CommentCreated, PostID: "p"})
	assert.Equal(t, []string{"second"}, got)
	assert.Equal(t, 1, d.Len(domain.FamilyComment))
}

// --- Decode ---

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		family  domain.EventFamily
		data    string
		want    domain.Event
		wantErr bool
	}{
		{
			name:   "created carries the post",
			family: domain.FamilyLifecycle,
			data:   `{"type":"created","post":{"id":"p1","content":"hello"}}`,
			want: domain.LifecycleEvent{
				Type:   domain.PostCreated,
				Post:   &domain.Post{ID: "p1", Body: "hello"},
				PostID: "p1",
			},
		},
		{
			name:   "deleted by id",
			family: domain.FamilyLifecycle,
			data:   `{"type":"deleted","post_id":"p2"}`,
			want:   domain.LifecycleEvent{Type: domain.PostDeleted, PostID: "p2"},
		},
		{name: "created without post", family: domain.FamilyLifecycle, data: `{"type":"created"}`, wantErr: true},
		{name: "unknown lifecycle", family: domain.FamilyLifecycle, data: `{"type":"edited","post_id":"x"}`, wantErr: true},
		{
			name:   "interaction with mutation id",
			family: domain.FamilyInteraction,
			data:   `{"type":"like","post_id":"p1","mutation_id":"m-1"}`,
			want:   domain.InteractionEvent{Type: domain.InteractionLike, PostID: "p1", MutationID: "m-1"},
		},
		{name: "interaction unknown type", family: domain.FamilyInteraction, data: `{"type":"poke","post_id":"p1"}`, wantErr: true},
		{name: "interaction without post", family: domain.FamilyInteraction, data: `{"type":"like"}`, wantErr: true},
		{
			name:   "comment updated",
			family: domain.FamilyComment,
			data:   `{"type":"updated","post_id":"p1","comment_id":"c"}`,
			want:   domain.CommentEvent{Type: domain.CommentUpdated, PostID: "p1", CommentID: "c"},
		},
		{name: "broken json", family: domain.FamilyComment, data: `{`, wantErr: true},
		{name: "unknown family", family: "votes", data: `{}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode(tt.family, []byte(tt.data))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedEvent)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev)
		})
	}
}

func TestFamilyOf(t *testing.T) {
	f, ok := familyOf("feed.events", "feed.events.comments")
	assert.True(t, ok)
	assert.Equal(t, domain.FamilyComment, f)

	_, ok = familyOf("feed.events", "other.comments")
	assert.False(t, ok)
	_, ok = familyOf("feed.events", "feed.events.votes")
	assert.False(t, ok)
}

// --- Channel ---

func TestChannel_RetriesThenFails(t *testing.T) {
	c := NewChannel("nats://127.0.0.1:1", ChannelOptions{Step: time.Millisecond})
	var calls int
	c.dial = func(string, ...nats.Option) (*nats.Conn, error) {
		calls++
		return nil, errors.New("connection refused")
	}

	err := c.EnsureConnection(context.Background())
	require.ErrorIs(t, err, domain.ErrChannelUnavailable)
	assert.Equal(t, DefaultAttempts, calls)
	assert.False(t, c.Connected())
}

func TestChannel_HandleDecodesAndDispatches(t *testing.T) {
	c := NewChannel("nats://unused", ChannelOptions{Prefix: "feed"})
	rec := &recorder{}
	_, err := c.Subscribe(domain.FamilyInteraction, rec.handle)
	require.NoError(t, err)

	c.handle(&nats.Msg{Subject: "feed.interactions", Data: []byte(`{"type":"share","post_id":"p9"}`)})
	c.handle(&nats.Msg{Subject: "feed.interactions", Data: []byte(`not json`)})
	c.handle(&nats.Msg{Subject: "elsewhere.interactions", Data: []byte(`{"type":"share","post_id":"p9"}`)})

	assert.Equal(t, []domain.Event{domain.InteractionEvent{Type: domain.InteractionShare, PostID: "p9"}}, rec.all())
}

func TestLinearBackOff(t *testing.T) {
	b := &linearBackOff{step: time.Second}
	assert.Equal(t, time.Second, b.NextBackOff())
	assert.Equal(t, 2*time.Second, b.NextBackOff())
	assert.Equal(t, 3*time.Second, b.NextBackOff())
	b.Reset()
	assert.Equal(t, time.Second, b.NextBackOff())
}

// --- Poller ---

func TestPoller_FirstPassOnlyPrimes(t *testing.T) {
	f := &stubFetcher{pages: []domain.Page{{Items: []domain.Post{{ID: "a", Likes: 1}}}}}
	p := NewPoller(f, &fakeView{key: chrono}, time.Minute, 20)
	rec := &recorder{}

	require.NoError(t, p.Poll(context.Background(), rec.handle))
	assert.Empty(t, rec.all())
}

func TestPoller_DiffEmitsCreatedAndDeltas(t *testing.T) {
	f := &stubFetcher{pages: []domain.Page{
		{Items: []domain.Post{{ID: "a", Likes: 1, Comments: 3}, {ID: "b", Shares: 0}}},
		{Items: []domain.Post{
			{ID: "n2"},
			{ID: "n1"},
			{ID: "a", Likes: 3, Comments: 2},
			{ID: "b", Shares: 1, Bookmarks: 1},
			{ID: "old"},
		}},
	}}
	view := &fakeView{key: chrono, posts: []domain.Post{{ID: "a", Likes: 1, Comments: 3}, {ID: "b", Shares: 0}}}
	p := NewPoller(f, view, time.Minute, 20)
	rec := &recorder{}
	ctx := context.Background()

	require.NoError(t, p.Poll(ctx, rec.handle))
	require.NoError(t, p.Poll(ctx, rec.handle))

	events := rec.all()
	require.Len(t, events, 7)

	// Plus ancien d'abord, pour que le prepend respecte l'ordre serveur.
	assert.Equal(t, "n1", events[0].TargetID())
	assert.Equal(t, "n2", events[1].TargetID())
	assert.Equal(t, domain.InteractionEvent{Type: domain.InteractionLike, PostID: "a", Synthetic: true}, events[2])
	assert.Equal(t, domain.InteractionEvent{Type: domain.InteractionLike, PostID: "a", Synthetic: true}, events[3])
	assert.Equal(t, domain.CommentEvent{Type: domain.CommentDeleted, PostID: "a"}, events[4])
	assert.Equal(t, domain.InteractionEvent{Type: domain.InteractionBookmark, PostID: "b", Synthetic: true}, events[5])
	assert.Equal(t, domain.InteractionEvent{Type: domain.InteractionShare, PostID: "b", Synthetic: true}, events[6])

	// "old" est sous un post connu : fenêtre de pagination, pas une création.
	for _, ev := range events {
		assert.NotEqual(t, "old", ev.TargetID())
	}
}

func TestPoller_CountersComparedToCanonicalList(t *testing.T) {
	f := &stubFetcher{pages: []domain.Page{
		{Items: []domain.Post{{ID: "n"}, {ID: "a", Likes: 3}}},
		{Items: []domain.Post{{ID: "n"}, {ID: "a", Likes: 4}}},
		{Items: []domain.Post{{ID: "n"}, {ID: "a", Likes: 5}}},
	}}
	view := &fakeView{key: chrono, posts: []domain.Post{{ID: "a", Likes: 3}}}
	p := NewPoller(f, view, time.Minute, 20)
	rec := &recorder{}
	ctx := context.Background()

	require.NoError(t, p.Poll(ctx, rec.handle))

	// Un refresh a déjà installé le nouveau compteur et le post "n".
	view.show(domain.Post{ID: "n"}, domain.Post{ID: "a", Likes: 4})
	require.NoError(t, p.Poll(ctx, rec.handle))
	assert.Empty(t, rec.all())

	require.NoError(t, p.Poll(ctx, rec.handle))
	assert.Equal(t, []domain.Event{
		domain.InteractionEvent{Type: domain.InteractionLike, PostID: "a", Synthetic: true},
	}, rec.all())
}

func TestPoller_KeyChangeRebases(t *testing.T) {
	f := &stubFetcher{pages: []domain.Page{
		{Items: []domain.Post{{ID: "a"}}},
		{Items: []domain.Post{{ID: "x"}, {ID: "y"}}},
	}}
	keys := &fakeView{key: chrono}
	p := NewPoller(f, keys, time.Minute, 20)
	rec := &recorder{}
	ctx := context.Background()

	require.NoError(t, p.Poll(ctx, rec.handle))
	keys.set(domain.FeedKey{Kind: domain.FeedTrending}.Normalize())
	require.NoError(t, p.Poll(ctx, rec.handle))
	assert.Empty(t, rec.all())
}

func TestPoller_NoActiveFeed(t *testing.T) {
	f := &stubFetcher{}
	p := NewPoller(f, &fakeView{}, time.Minute, 20)
	require.NoError(t, p.Poll(context.Background(), func(domain.Event) {}))
	assert.Zero(t, f.calls.Load())
}

// --- Source ---

func TestSource_PushHealthy(t *testing.T) {
	push := newFakePush(nil)
	s := NewSource(push, nil, 0)
	defer s.Close()
	rec := &recorder{}
	_, err := s.Subscribe(domain.FamilyLifecycle, rec.handle)
	require.NoError(t, err)

	require.NoError(t, s.EnsureConnection(context.Background()))
	require.NoError(t, s.EnsureConnection(context.Background()))
	assert.False(t, s.Degraded())
	assert.Equal(t, 1, push.calls)

	push.d.Dispatch(domain.LifecycleEvent{Type: domain.PostDeleted, PostID: "p"})
	assert.Len(t, rec.all(), 1)
}

func TestSource_FallsBackToPolling(t *testing.T) {
	push := newFakePush(domain.ErrChannelUnavailable)
	f := &stubFetcher{}
	s := NewSource(push, NewPoller(f, &fakeView{key: chrono}, 5*time.Millisecond, 20), 0)
	defer s.Close()

	var modes []bool
	var mu sync.Mutex
	s.OnModeChange(func(d bool) {
		mu.Lock()
		defer mu.Unlock()
		modes = append(modes, d)
	})

	require.NoError(t, s.EnsureConnection(context.Background()))
	assert.True(t, s.Degraded())
	assert.Eventually(t, func() bool { return f.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []bool{true}, modes)
	mu.Unlock()
}

func TestSource_PushLostThenRestored(t *testing.T) {
	push := newFakePush(nil)
	f := &stubFetcher{}
	s := NewSource(push, NewPoller(f, &fakeView{key: chrono}, time.Hour, 20), 10*time.Millisecond)
	defer s.Close()

	require.NoError(t, s.EnsureConnection(context.Background()))
	require.False(t, s.Degraded())

	push.setErr(errors.New("down"))
	push.lose()
	assert.True(t, s.Degraded())

	push.setErr(nil)
	assert.Eventually(t, func() bool { return !s.Degraded() }, time.Second, 5*time.Millisecond)
}

func TestSource_WithoutBroker(t *testing.T) {
	s := NewSource(nil, nil, 0)
	require.NoError(t, s.EnsureConnection(context.Background()))
	assert.True(t, s.Degraded())
	require.NoError(t, s.Close())
}

func TestSource_CloseClosesPush(t *testing.T) {
	push := newFakePush(nil)
	s := NewSource(push, nil, 0)
	require.NoError(t, s.EnsureConnection(context.Background()))
	require.NoError(t, s.Close())
	assert.True(t, push.closed)
}
