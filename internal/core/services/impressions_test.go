package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu       sync.Mutex
	batches  [][]string
	beacons  [][]string
	beaconOK bool
	err      error
}

func (s *fakeSink) RecordImpressions(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, ids)
	return s.err
}

func (s *fakeSink) Beacon(ids []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beacons = append(s.beacons, ids)
	return s.beaconOK
}

func (s *fakeSink) sent() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.batches...)
}

func TestImpressionTracker_FlushesAtBatchSize(t *testing.T) {
	sink := &fakeSink{}
	tr := NewImpressionTracker(sink)
	tr.interval = time.Hour

	for _, id := range mkPosts("i", ImpressionBatchSize) {
		tr.Track(id.ID)
	}
	assert.Zero(t, tr.Pending())
	require.Eventually(t, func() bool { return len(sink.sent()) == 1 }, time.Second, time.Millisecond)
	assert.Len(t, sink.sent()[0], ImpressionBatchSize)
	tr.Close()
}

func TestImpressionTracker_FlushesOnTimer(t *testing.T) {
	sink := &fakeSink{}
	tr := NewImpressionTracker(sink)
	tr.interval = 10 * time.Millisecond

	tr.Track("a")
	tr.Track("a")
	require.Eventually(t, func() bool { return len(sink.sent()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"a", "a"}, sink.sent()[0], "every view counts")
	tr.Close()
}

func TestImpressionTracker_SendErrorsAreDropped(t *testing.T) {
	sink := &fakeSink{err: errors.New("offline")}
	tr := NewImpressionTracker(sink)
	tr.Track("a")
	tr.Flush()
	tr.Close()
	assert.Len(t, sink.sent(), 1)
	assert.Zero(t, tr.Pending())
}

func TestImpressionTracker_CloseUsesBeaconThenFallback(t *testing.T) {
	sink := &fakeSink{beaconOK: true}
	tr := NewImpressionTracker(sink)
	tr.interval = time.Hour
	tr.Track("a")
	tr.Close()
	assert.Len(t, sink.beacons, 1)
	assert.Empty(t, sink.sent())

	sink = &fakeSink{beaconOK: false}
	tr = NewImpressionTracker(sink)
	tr.interval = time.Hour
	tr.Track("b")
	tr.Close()
	assert.Equal(t, [][]string{{"b"}}, sink.sent())

	tr.Track("after-close")
	assert.Zero(t, tr.Pending())
}
