package events

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/domain"
	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/ports"
)

const (
	DefaultSubjectPrefix = "feed.events"
	DefaultAttempts      = 5
	DefaultStep          = time.Second
	// bufferSize : messages en attente avant que NATS ne signale un slow consumer.
	bufferSize = 256
)

type ChannelOptions struct {
	Prefix string
	// Attempts borne la connexion initiale et les reconnexions.
	Attempts int
	// Step : le n-ième essai attend n*Step.
	Step time.Duration
	Name string
}

func (o ChannelOptions) withDefaults() ChannelOptions {
	if o.Prefix == "" {
		o.Prefix = DefaultSubjectPrefix
	}
	if o.Attempts <= 0 {
		o.Attempts = DefaultAttempts
	}
	if o.Step <= 0 {
		o.Step = DefaultStep
	}
	if o.Name == "" {
		o.Name = "feedsync"
	}
	return o
}

type dialFunc func(url string, opts ...nats.Option) (*nats.Conn, error)

// Channel est le canal push NATS, partagé par tous les abonnés de la session.
type Channel struct {
	url        string
	opts       ChannelOptions
	dial       dialFunc
	dispatcher *Dispatcher
	tracer     trace.Tracer

	mu       sync.Mutex
	sess     *session
	onClosed []func()
}

type session struct {
	conn *nats.Conn
	subs []*nats.Subscription
	msgs chan *nats.Msg
	stop chan struct{}
	once sync.Once
}

func (s *session) shutdown() { s.once.Do(func() { close(s.stop) }) }

var _ ports.EventSource = (*Channel)(nil)

func NewChannel(url string, opts ChannelOptions) *Channel {
	return &Channel{
		url:        url,
		opts:       opts.withDefaults(),
		dial:       nats.Connect,
		dispatcher: NewDispatcher(),
		tracer:     otel.Tracer("feedsync"),
	}
}

// OnClosed est appelé quand la connexion est perdue après épuisement des reconnexions.
func (c *Channel) OnClosed(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClosed = append(c.onClosed, f)
}

func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil && c.sess.conn.IsConnected()
}

func (c *Channel) Subscribe(family domain.EventFamily, h ports.EventHandler) (func(), error) {
	return c.dispatcher.Subscribe(family, h), nil
}

func (c *Channel) EnsureConnection(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil && !c.sess.conn.IsClosed() {
		return nil
	}

	attempt := 0
	conn, err := backoff.Retry(ctx, func() (*nats.Conn, error) {
		attempt++
		nc, err := c.dial(c.url, c.natsOptions()...)
		if err != nil {
			slog.Warn("⚠️ Push channel connection failed", "attempt", attempt, "error", err)
			return nil, err
		}
		return nc, nil
	},
		backoff.WithBackOff(&linearBackOff{step: c.opts.Step}),
		backoff.WithMaxTries(uint(c.opts.Attempts)),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrChannelUnavailable, err)
	}

	s := &session{
		conn: conn,
		msgs: make(chan *nats.Msg, bufferSize),
		stop: make(chan struct{}),
	}
	// Un seul canal Go pour tous les sujets : l'ordre de livraison est conservé.
	for _, family := range domain.Families {
		sub, err := conn.ChanSubscribe(Subject(c.opts.Prefix, family), s.msgs)
		if err != nil {
			conn.Close()
			return fmt.Errorf("%w: subscribe %s: %v", domain.ErrChannelUnavailable, family, err)
		}
		s.subs = append(s.subs, sub)
	}
	c.sess = s
	go c.consume(s)

	slog.Info("🔌 Push channel connected", "url", conn.ConnectedUrl(), "prefix", c.opts.Prefix)
	return nil
}

func (c *Channel) Close() error {
	c.mu.Lock()
	s := c.sess
	c.sess = nil
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	s.shutdown()
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.conn.Close()
	return nil
}

func (c *Channel) natsOptions() []nats.Option {
	return []nats.Option{
		nats.Name(c.opts.Name),
		nats.MaxReconnects(c.opts.Attempts),
		nats.CustomReconnectDelay(func(attempts int) time.Duration {
			return time.Duration(attempts) * c.opts.Step
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("⚠️ Push channel disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("🔌 Push channel reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(c.connClosed),
	}
}

func (c *Channel) connClosed(nc *nats.Conn) {
	c.mu.Lock()
	s := c.sess
	if s == nil || s.conn != nc {
		// Fermeture volontaire.
		c.mu.Unlock()
		return
	}
	c.sess = nil
	hooks := slices.Clone(c.onClosed)
	c.mu.Unlock()

	s.shutdown()
	slog.Error("🔴 Push channel closed after reconnect attempts", "attempts", c.opts.Attempts)
	for _, h := range hooks {
		h()
	}
}

func (c *Channel) consume(s *session) {
	for {
		select {
		case <-s.stop:
			return
		case msg := <-s.msgs:
			c.handle(msg)
		}
	}
}

func (c *Channel) handle(msg *nats.Msg) {
	family, ok := familyOf(c.opts.Prefix, msg.Subject)
	if !ok {
		slog.Debug("Ignoring message on unknown subject", "subject", msg.Subject)
		return
	}

	// 🟢 Le contexte de trace de l'émetteur voyage dans les headers NATS
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), propagation.HeaderCarrier(msg.Header))
	_, span := c.tracer.Start(ctx, "process_"+string(family)+"_event", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	ev, err := Decode(family, msg.Data)
	if err != nil {
		span.RecordError(err)
		slog.Error("❌ Invalid event format", "subject", msg.Subject, "error", err)
		return
	}

	slog.Debug("📨 Push event received", "family", family, "post_id", ev.TargetID())
	c.dispatcher.Dispatch(ev)
}

// linearBackOff : 1*step, 2*step, 3*step...
type linearBackOff struct {
	step time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.step
}

func (b *linearBackOff) Reset() { b.n = 0 }
