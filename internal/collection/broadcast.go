package collection

import (
	"context"
	"encoding/json"

	"github.com/fjod/go_cart/cart-sync/internal/channel"
	"go.uber.org/zap"
)

// broadcast announces a local commit. Stores in the same process always hear
// about it. Other processes only do when the durable copy was written,
// since that copy is what they would reload from.
func (s *Store[T]) broadcast(ctx context.Context, snap Snapshot[T], encoded []byte, persisted bool) {
	ctx = context.WithoutCancel(ctx)
	s.seq++
	e := channel.Event{
		Key:    s.key,
		Origin: s.origin,
		Seq:    s.seq,
		Value:  json.RawMessage(encoded),
		Count:  snap.Count,
	}

	if s.page != nil {
		if err := s.page.Publish(ctx, e); err != nil {
			s.logger.Warn("failed to publish page event", zap.Error(err))
		}
	}

	if s.shared == nil {
		return
	}
	if !persisted {
		s.logger.Debug("skipping shared event for unpersisted commit")
		return
	}
	if err := s.shared.Publish(ctx, e); err != nil {
		s.logger.Warn("failed to publish shared event", zap.Error(err))
	}
}
