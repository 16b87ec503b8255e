package events

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/domain"
	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/ports"
)

type PushChannel interface {
	ports.EventSource
	OnClosed(func())
	Close() error
}

// Source choisit à l'exécution entre le canal push et le polling.
// Le moteur ne voit que l'interface EventSource.
type Source struct {
	push       PushChannel
	poller     *Poller
	dispatcher *Dispatcher
	retryEvery time.Duration

	mu        sync.Mutex
	wired     bool
	degraded  bool
	modeKnown bool
	stopPoll  context.CancelFunc
	hooks     []func(degraded bool)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ ports.EventSource = (*Source)(nil)

// NewSource : push peut être nil (pas de broker configuré), retryEvery à 0
// désactive les tentatives de retour au push.
func NewSource(push PushChannel, poller *Poller, retryEvery time.Duration) *Source {
	ctx, cancel := context.WithCancel(context.Background())
	return &Source{
		push:       push,
		poller:     poller,
		dispatcher: NewDispatcher(),
		retryEvery: retryEvery,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (s *Source) OnModeChange(h func(degraded bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

func (s *Source) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

func (s *Source) Subscribe(family domain.EventFamily, h ports.EventHandler) (func(), error) {
	return s.dispatcher.Subscribe(family, h), nil
}

// EnsureConnection ne renvoie pas d'erreur quand le push est indisponible :
// le polling prend le relais.
func (s *Source) EnsureConnection(ctx context.Context) error {
	s.mu.Lock()
	if s.modeKnown {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if s.push != nil {
		err := s.connectPush(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("⚠️ Push unavailable, falling back to polling", "error", err)
	}
	s.setMode(true)
	return nil
}

func (s *Source) Close() error {
	s.cancel()
	s.wg.Wait()
	if s.push != nil {
		return s.push.Close()
	}
	return nil
}

func (s *Source) connectPush(ctx context.Context) error {
	if err := s.push.EnsureConnection(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.wired {
		for _, family := range domain.Families {
			if _, err := s.push.Subscribe(family, s.dispatcher.Dispatch); err != nil {
				s.mu.Unlock()
				return err
			}
		}
		s.push.OnClosed(s.pushLost)
		s.wired = true
	}
	s.mu.Unlock()
	s.setMode(false)
	return nil
}

func (s *Source) pushLost() {
	slog.Warn("⚠️ Push channel lost, switching to polling")
	s.setMode(true)
}

func (s *Source) setMode(degraded bool) {
	s.mu.Lock()
	if s.modeKnown && s.degraded == degraded {
		s.mu.Unlock()
		return
	}
	s.modeKnown = true
	s.degraded = degraded

	if s.stopPoll != nil {
		s.stopPoll()
		s.stopPoll = nil
	}
	if degraded && s.ctx.Err() == nil {
		ctx, cancel := context.WithCancel(s.ctx)
		s.stopPoll = cancel
		if s.poller != nil {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.poller.Run(ctx, s.dispatcher.Dispatch)
			}()
		}
		if s.push != nil && s.retryEvery > 0 {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.retryPush(ctx)
			}()
		}
	}
	hooks := slices.Clone(s.hooks)
	s.mu.Unlock()

	for _, h := range hooks {
		h(degraded)
	}
}

func (s *Source) retryPush(ctx context.Context) {
	ticker := time.NewTicker(s.retryEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.connectPush(ctx); err == nil {
				slog.Info("✅ Push channel restored")
				return
			}
		}
	}
}
