package events

import (
	"sync"

	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/domain"
	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/ports"
)

type registration struct {
	id int
	h  ports.EventHandler
}

// Dispatcher distribue les événements aux handlers, dans l'ordre d'abonnement.
type Dispatcher struct {
	mu       sync.RWMutex
	next     int
	handlers map[domain.EventFamily][]registration
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: map[domain.EventFamily][]registration{}}
}

func (d *Dispatcher) Subscribe(family domain.EventFamily, h ports.EventHandler) func() {
	d.mu.Lock()
	id := d.next
	d.next++
	d.handlers[family] = append(d.handlers[family], registration{id: id, h: h})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			regs := d.handlers[family]
			for i, r := range regs {
				if r.id == id {
					d.handlers[family] = append(regs[:i:i], regs[i+1:]...)
					return
				}
			}
		})
	}
}

// Dispatch est synchrone : l'appelant garantit l'ordre de livraison.
func (d *Dispatcher) Dispatch(ev domain.Event) {
	d.mu.RLock()
	regs := d.handlers[ev.Family()]
	d.mu.RUnlock()
	for _, r := range regs {
		r.h(ev)
	}
}

func (d *Dispatcher) Len(family domain.EventFamily) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[family])
}
