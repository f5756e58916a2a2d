package collection

import (
	"context"
	"sync"
	"testing"

	"github.com/fjod/go_cart/cart-sync/internal/channel"
	"github.com/fjod/go_cart/cart-sync/internal/domain"
	"github.com/fjod/go_cart/cart-sync/internal/storage"
)

// countingStorage records writes so tests can check how often a commit persisted.
type countingStorage struct {
	storage.Storage
	m      sync.Mutex
	writes int
	err    error
}

func newCountingStorage() *countingStorage {
	return &countingStorage{Storage: storage.NewMemoryStorage(0)}
}

func (c *countingStorage) Set(ctx context.Context, key string, value []byte) error {
	c.m.Lock()
	c.writes++
	err := c.err
	c.m.Unlock()
	if err != nil {
		return err
	}
	return c.Storage.Set(ctx, key, value)
}

func (c *countingStorage) Writes() int {
	c.m.Lock()
	defer c.m.Unlock()
	return c.writes
}

func (c *countingStorage) failWith(err error) {
	c.m.Lock()
	defer c.m.Unlock()
	c.err = err
}

// recordingChannel remembers published events and forwards them to a bus.
type recordingChannel struct {
	*channel.Bus
	m         sync.Mutex
	published []channel.Event
}

func newRecordingChannel(t *testing.T) *recordingChannel {
	c := &recordingChannel{Bus: channel.NewBus()}
	t.Cleanup(func() { c.Close() })
	return c
}

func (r *recordingChannel) Publish(ctx context.Context, e channel.Event) error {
	r.m.Lock()
	r.published = append(r.published, e)
	r.m.Unlock()
	return r.Bus.Publish(ctx, e)
}

func (r *recordingChannel) Published() []channel.Event {
	r.m.Lock()
	defer r.m.Unlock()
	out := make([]channel.Event, len(r.published))
	copy(out, r.published)
	return out
}

type viewRecorder[V any] struct {
	m     sync.Mutex
	views []V
}

func (r *viewRecorder[V]) record(v V) {
	r.m.Lock()
	defer r.m.Unlock()
	r.views = append(r.views, v)
}

func (r *viewRecorder[V]) all() []V {
	r.m.Lock()
	defer r.m.Unlock()
	out := make([]V, len(r.views))
	copy(out, r.views)
	return out
}

func (r *viewRecorder[V]) len() int {
	return len(r.all())
}

var (
	tee = domain.Product{ID: 1, Name: "Tee", Price: 10, Image: "/img/tee.png", Category: "tops", InStock: true,
		Sizes: []string{"S", "M"}, Colors: []string{"red", "blue"}}
	hoodie = domain.Product{ID: 2, Name: "Hoodie", Price: 25, Image: "/img/hoodie.png", Category: "tops", InStock: true}
)

func cartOptions(s storage.Storage, page, shared channel.Channel) Options {
	return Options{Key: "cart", Storage: s, Page: page, Shared: shared}
}

func openCart(t *testing.T, opts Options) *Cart {
	c := OpenCart(context.Background(), opts)
	t.Cleanup(c.Close)
	return c
}

func openWishlist(t *testing.T, opts Options) *Wishlist {
	w := OpenWishlist(context.Background(), opts)
	t.Cleanup(w.Close)
	return w
}
