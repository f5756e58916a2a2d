package channel

import (
	"context"
	"sync"
)

// Bus delivers events to subscribers in the same process. Every subscriber
// has its own unbounded queue, so a slow handler never blocks a publisher
// and events reach each handler in publish order.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*mailbox
	nextID uint64
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*mailbox)}
}

func (b *Bus) Publish(_ context.Context, e Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}
	for _, mb := range b.subs {
		mb.push(e)
	}
	return nil
}

func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.nextID
	b.nextID++
	mb := newMailbox(h)
	b.subs[id] = mb

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			mb.stop()
		})
	}
}

// Close stops every subscriber. Queued events that were not delivered yet are dropped.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]*mailbox)
	b.mu.Unlock()

	for _, mb := range subs {
		mb.stop()
	}
	return nil
}

type mailbox struct {
	mu      sync.Mutex
	queue   []Event
	wake    chan struct{}
	done    chan struct{}
	stopped sync.WaitGroup
	handler Handler
}

func newMailbox(h Handler) *mailbox {
	mb := &mailbox{
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		handler: h,
	}
	mb.stopped.Add(1)
	go mb.run()
	return mb
}

func (mb *mailbox) push(e Event) {
	mb.mu.Lock()
	mb.queue = append(mb.queue, e)
	mb.mu.Unlock()

	select {
	case mb.wake <- struct{}{}:
	default:
	}
}

func (mb *mailbox) run() {
	defer mb.stopped.Done()
	for {
		select {
		case <-mb.wake:
			mb.drain()
		case <-mb.done:
			return
		}
	}
}

func (mb *mailbox) drain() {
	for {
		mb.mu.Lock()
		batch := mb.queue
		mb.queue = nil
		mb.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, e := range batch {
			select {
			case <-mb.done:
				return
			default:
			}
			mb.handler(e)
		}
	}
}

// stop must not be called from the mailbox's own handler.
func (mb *mailbox) stop() {
	close(mb.done)
	mb.stopped.Wait()
}
