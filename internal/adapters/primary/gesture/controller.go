package gesture

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/ports"
)

const (
	DefaultThreshold = 80.0
	// Damping : le contenu suit le doigt à mi-vitesse.
	Damping = 0.5
	// IndicatorAt : distance à partir de laquelle l'indicateur apparaît.
	IndicatorAt = 60.0
)

type State struct {
	Tracking   bool    `json:"tracking"`
	Distance   float64 `json:"distance"`
	Pulling    bool    `json:"pulling"`
	Armed      bool    `json:"armed"`
	Refreshing bool    `json:"refreshing"`
}

// Controller traduit un glisser vers le bas en rafraîchissement.
// Il ne connaît rien du réseau : seul Refresh est appelé.
type Controller struct {
	refresher ports.Refresher
	threshold float64

	mu         sync.Mutex
	startY     float64
	tracking   bool
	distance   float64
	refreshing bool
}

func NewController(refresher ports.Refresher, threshold float64) *Controller {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Controller{refresher: refresher, threshold: threshold}
}

// Start n'ouvre un suivi que si la liste est tout en haut.
func (c *Controller) Start(y, scrollTop float64) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracking = scrollTop == 0 && !c.refreshing
	c.startY = y
	c.distance = 0
	return c.stateLocked()
}

func (c *Controller) Move(y, scrollTop float64) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.tracking {
		return c.stateLocked()
	}
	if scrollTop != 0 {
		c.tracking = false
		c.distance = 0
		return c.stateLocked()
	}
	delta := y - c.startY
	if delta <= 0 {
		c.distance = 0
		return c.stateLocked()
	}
	c.distance = min(delta*Damping, c.threshold*2)
	return c.stateLocked()
}

// End déclenche Refresh si le seuil est atteint. Les erreurs de refresh
// sont renvoyées telles quelles, l'état du feed les expose déjà.
func (c *Controller) End(ctx context.Context) (bool, error) {
	c.mu.Lock()
	armed := c.tracking && c.distance >= c.threshold && !c.refreshing
	c.tracking = false
	c.distance = 0
	if !armed {
		c.mu.Unlock()
		return false, nil
	}
	c.refreshing = true
	c.mu.Unlock()

	slog.Debug("Pull to refresh triggered")
	err := c.refresher.Refresh(ctx)

	c.mu.Lock()
	c.refreshing = false
	c.mu.Unlock()
	return true, err
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	return State{
		Tracking:   c.tracking,
		Distance:   c.distance,
		Pulling:    c.distance > IndicatorAt,
		Armed:      c.distance >= c.threshold,
		Refreshing: c.refreshing,
	}
}
