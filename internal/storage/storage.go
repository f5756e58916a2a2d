package storage

import (
	"context"
	"errors"
)

// Storage is the durable key-value medium shared by every store instance.
// Values are opaque serialized collections.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

var (
	ErrNotFound      = errors.New("key not found")
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)
