package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/ports"
)

const (
	ImpressionBatchSize     = 10
	ImpressionFlushInterval = 5 * time.Second
	impressionSendTimeout   = 10 * time.Second
)

// ImpressionTracker regroupe les vues de posts et les envoie sans attendre de
// réponse. Les doublons sont conservés : chaque vue compte.
type ImpressionTracker struct {
	sink     ports.ImpressionSink
	batch    int
	interval time.Duration

	mu      sync.Mutex
	pending []string
	timer   *time.Timer
	closed  bool
	wg      sync.WaitGroup
}

func NewImpressionTracker(sink ports.ImpressionSink) *ImpressionTracker {
	return &ImpressionTracker{
		sink:     sink,
		batch:    ImpressionBatchSize,
		interval: ImpressionFlushInterval,
	}
}

func (t *ImpressionTracker) Track(postID string) {
	if postID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.pending = append(t.pending, postID)
	if len(t.pending) >= t.batch {
		t.flushLocked()
		return
	}
	if t.timer == nil {
		t.timer = time.AfterFunc(t.interval, t.Flush)
	}
}

func (t *ImpressionTracker) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flushLocked()
}

func (t *ImpressionTracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *ImpressionTracker) flushLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if len(t.pending) == 0 {
		return
	}
	ids := t.pending
	t.pending = nil

	// Fire-and-forget : pas de retry, pas de contre-pression.
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), impressionSendTimeout)
		defer cancel()
		if err := t.sink.RecordImpressions(ctx, ids); err != nil {
			slog.Debug("Impression batch dropped", "count", len(ids), "error", err)
		}
	}()
}

// Close vide le tampon via beacon, puis par un appel normal si le beacon échoue.
func (t *ImpressionTracker) Close() {
	t.mu.Lock()
	t.closed = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	ids := t.pending
	t.pending = nil
	t.mu.Unlock()

	if len(ids) > 0 && !t.sink.Beacon(ids) {
		ctx, cancel := context.WithTimeout(context.Background(), impressionSendTimeout)
		if err := t.sink.RecordImpressions(ctx, ids); err != nil {
			slog.Debug("Final impression flush failed", "count", len(ids), "error", err)
		}
		cancel()
	}
	t.wg.Wait()
}
