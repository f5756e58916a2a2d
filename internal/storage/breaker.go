package storage

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/cart-sync/pkg/circuitbreaker"
)

type breakerStorage struct {
	next    Storage
	breaker *circuitbreaker.Breaker[[]byte]
}

// WithBreaker fails calls fast while the wrapped backend keeps erroring.
// A missing key is a normal answer and does not count as a failure.
func WithBreaker(next Storage, breaker *circuitbreaker.Breaker[[]byte]) Storage {
	return &breakerStorage{next: next, breaker: breaker}
}

// IsBreakerSuccess is the success predicate storage breakers should be built with.
func IsBreakerSuccess(err error) bool {
	return err == nil || errors.Is(err, ErrNotFound)
}

func (b *breakerStorage) Get(ctx context.Context, key string) ([]byte, error) {
	return b.breaker.Execute(func() ([]byte, error) {
		return b.next.Get(ctx, key)
	})
}

func (b *breakerStorage) Set(ctx context.Context, key string, value []byte) error {
	_, err := b.breaker.Execute(func() ([]byte, error) {
		return nil, b.next.Set(ctx, key, value)
	})
	return err
}

func (b *breakerStorage) Delete(ctx context.Context, key string) error {
	_, err := b.breaker.Execute(func() ([]byte, error) {
		return nil, b.next.Delete(ctx, key)
	})
	return err
}
