// Package channel carries collection change notifications between store
// instances, inside one process or across processes.
package channel

import (
	"context"
	"encoding/json"
	"errors"
)

// Event announces that the collection stored under Key changed.
// Value is the serialized collection, Count its derived item count.
// Seq increases with every commit of the same Origin; zero means unsequenced.
type Event struct {
	Key    string          `json:"key"`
	Origin string          `json:"origin"`
	Seq    uint64          `json:"seq,omitempty"`
	Value  json.RawMessage `json:"value"`
	Count  int             `json:"count"`
}

type Handler func(Event)

// Channel is fire-and-forget: Publish does not wait for subscribers, and
// handlers run on a goroutine owned by the channel, one event at a time.
type Channel interface {
	Publish(ctx context.Context, e Event) error
	Subscribe(h Handler) (unsubscribe func())
	Close() error
}

var ErrClosed = errors.New("channel closed")
