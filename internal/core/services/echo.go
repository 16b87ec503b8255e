package services

import (
	"sync"
	"time"

	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/domain"
)

// echoLog retient les mutations locales pour écarter l'écho push du serveur,
// sinon un like optimiste serait compté deux fois.
type echoLog struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	entries map[string]echoEntry
}

type echoEntry struct {
	postID      string
	kind        domain.InteractionType
	pending     bool
	confirmedAt time.Time
}

func newEchoLog(window time.Duration, now func() time.Time) *echoLog {
	return &echoLog{window: window, now: now, entries: map[string]echoEntry{}}
}

func (l *echoLog) add(mutationID, postID string, kind domain.MutationKind) {
	it, ok := kind.Interaction()
	if !ok {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[mutationID] = echoEntry{postID: postID, kind: it, pending: true}
}

func (l *echoLog) confirm(mutationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[mutationID]; ok {
		e.pending = false
		e.confirmedAt = l.now()
		l.entries[mutationID] = e
	}
}

func (l *echoLog) remove(mutationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, mutationID)
}

// suppress consomme l'entrée correspondant à l'événement, s'il y en a une.
// Les événements synthétiques (mode polling) sont des écarts avec la liste
// canonique, qui contient déjà les mutations confirmées : ils ne sont écartés
// que tant qu'une mutation du même compteur est en vol sur ce post.
func (l *echoLog) suppress(ev domain.InteractionEvent) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked()

	if ev.Synthetic {
		c, _, ok := ev.Delta()
		if !ok {
			return false
		}
		for _, e := range l.entries {
			if e.pending && e.postID == ev.PostID && counterOf(e.kind) == c {
				return true
			}
		}
		return false
	}
	if ev.MutationID == "" {
		return false
	}
	e, ok := l.entries[ev.MutationID]
	if !ok || e.postID != ev.PostID || e.kind != ev.Type {
		return false
	}
	delete(l.entries, ev.MutationID)
	return true
}

func counterOf(t domain.InteractionType) domain.Counter {
	c, _, _ := domain.InteractionEvent{Type: t}.Delta()
	return c
}

func (l *echoLog) pruneLocked() {
	now := l.now()
	for id, e := range l.entries {
		if !e.pending && now.Sub(e.confirmedAt) > l.window {
			delete(l.entries, id)
		}
	}
}

func (l *echoLog) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
