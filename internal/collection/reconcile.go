package collection

import (
	"bytes"
	"context"

	"github.com/fjod/go_cart/cart-sync/internal/channel"
	"go.uber.org/zap"
)

// reconcile applies a change announced by another instance. The commit it
// triggers reaches observers but is neither persisted nor broadcast again.
// Changes from different instances are last-write-wins.
func (s *Store[T]) reconcile(e channel.Event) {
	if e.Key != s.key || e.Origin == s.origin {
		return
	}

	items, err := decode[T](e.Value)
	if err != nil {
		s.logger.Debug("discarding malformed event", zap.String("from", e.Origin), zap.Error(err))
		return
	}
	encoded, err := encode(items)
	if err != nil {
		return
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	// Events from one instance can arrive twice (page and shared channel) or
	// out of order across channels; only ever move forward.
	if e.Seq != 0 {
		if e.Seq <= s.lastSeq[e.Origin].seq {
			return
		}
		s.trackOrigin(e.Origin, e.Seq)
	}

	s.mu.Lock()
	// The same snapshot can arrive over both channels; apply it once.
	if bytes.Equal(encoded, s.serialized) {
		s.mu.Unlock()
		return
	}
	s.suppress++
	s.items = items
	s.serialized = encoded
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.commit(context.Background(), snap, encoded)
}

type originMark struct {
	seq   uint64
	heard uint64
}

// trackOrigin must be called with commitMu held.
func (s *Store[T]) trackOrigin(origin string, seq uint64) {
	s.heard++
	s.lastSeq[origin] = originMark{seq: seq, heard: s.heard}
	if len(s.lastSeq) <= maxTrackedOrigins {
		return
	}

	oldest, oldestHeard := "", s.heard
	for o, mark := range s.lastSeq {
		if mark.heard < oldestHeard {
			oldest, oldestHeard = o, mark.heard
		}
	}
	delete(s.lastSeq, oldest)
}
