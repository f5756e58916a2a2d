package storage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingStorage struct {
	m       sync.Mutex
	data    map[string][]byte
	gets    int
	sets    int
	deletes int
	err     error
}

func newCountingStorage() *countingStorage {
	return &countingStorage{data: make(map[string][]byte)}
}

func (c *countingStorage) Get(_ context.Context, key string) ([]byte, error) {
	c.m.Lock()
	defer c.m.Unlock()
	c.gets++
	if c.err != nil {
		return nil, c.err
	}
	v, ok := c.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (c *countingStorage) Set(_ context.Context, key string, value []byte) error {
	c.m.Lock()
	defer c.m.Unlock()
	c.sets++
	if c.err != nil {
		return c.err
	}
	c.data[key] = value
	return nil
}

func (c *countingStorage) Delete(_ context.Context, key string) error {
	c.m.Lock()
	defer c.m.Unlock()
	c.deletes++
	if c.err != nil {
		return c.err
	}
	delete(c.data, key)
	return nil
}

func TestLayered_CacheMissFillsCache(t *testing.T) {
	primary, cache := newCountingStorage(), newCountingStorage()
	primary.data["cart"] = []byte(`[1]`)
	sut := NewLayered(primary, cache, zap.NewNop())

	got, err := sut.Get(context.Background(), "cart")
	require.NoError(t, err)
	assert.Equal(t, `[1]`, string(got))
	assert.Equal(t, `[1]`, string(cache.data["cart"]))

	// Second read is served from cache
	_, err = sut.Get(context.Background(), "cart")
	require.NoError(t, err)
	assert.Equal(t, 1, primary.gets)
}

func TestLayered_MissingEverywhere(t *testing.T) {
	sut := NewLayered(newCountingStorage(), newCountingStorage(), zap.NewNop())

	_, err := sut.Get(context.Background(), "cart")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLayered_CacheErrorFallsBackToPrimary(t *testing.T) {
	primary, cache := newCountingStorage(), newCountingStorage()
	primary.data["cart"] = []byte(`[2]`)
	cache.err = errors.New("cache down")
	sut := NewLayered(primary, cache, zap.NewNop())

	got, err := sut.Get(context.Background(), "cart")
	require.NoError(t, err)
	assert.Equal(t, `[2]`, string(got))
}

func TestLayered_SetWritesThroughToCache(t *testing.T) {
	primary, cache := newCountingStorage(), newCountingStorage()
	cache.data["cart"] = []byte(`[old]`)
	sut := NewLayered(primary, cache, zap.NewNop())

	require.NoError(t, sut.Set(context.Background(), "cart", []byte(`[new]`)))
	assert.Equal(t, `[new]`, string(primary.data["cart"]))
	assert.Equal(t, `[new]`, string(cache.data["cart"]))

	got, err := sut.Get(context.Background(), "cart")
	require.NoError(t, err)
	assert.Equal(t, `[new]`, string(got))
	assert.Equal(t, 0, primary.gets, "read after write is served from cache")
}

// failingSetStorage refuses writes but still deletes.
type failingSetStorage struct {
	*countingStorage
}

func (f failingSetStorage) Set(context.Context, string, []byte) error {
	return errors.New("cache full")
}

func TestLayered_CacheWriteFailureInvalidates(t *testing.T) {
	primary, cache := newCountingStorage(), newCountingStorage()
	cache.data["cart"] = []byte(`[old]`)
	sut := NewLayered(primary, failingSetStorage{cache}, zap.NewNop())

	require.NoError(t, sut.Set(context.Background(), "cart", []byte(`[new]`)))
	_, cached := cache.data["cart"]
	assert.False(t, cached, "stale entry must not survive a failed write-through")
	assert.Equal(t, 1, cache.deletes)
}

func TestLayered_PrimaryFailureKeepsCache(t *testing.T) {
	primary, cache := newCountingStorage(), newCountingStorage()
	primary.err = errors.New("database error")
	cache.data["cart"] = []byte(`[old]`)
	sut := NewLayered(primary, cache, zap.NewNop())

	err := sut.Set(context.Background(), "cart", []byte(`[new]`))
	require.ErrorContains(t, err, "database error")
	assert.Equal(t, 0, cache.deletes)
}

func TestLayered_Delete(t *testing.T) {
	primary, cache := newCountingStorage(), newCountingStorage()
	primary.data["cart"] = []byte(`[1]`)
	cache.data["cart"] = []byte(`[1]`)
	sut := NewLayered(primary, cache, zap.NewNop())

	require.NoError(t, sut.Delete(context.Background(), "cart"))
	assert.Empty(t, primary.data)
	assert.Empty(t, cache.data)
}
