package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorage_SetAndGet(t *testing.T) {
	s := NewMemoryStorage(0)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "cart", []byte(`[{"id":"1"}]`)))

	got, err := s.Get(ctx, "cart")
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"1"}]`, string(got))
}

func TestMemoryStorage_GetMissing(t *testing.T) {
	s := NewMemoryStorage(0)

	_, err := s.Get(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStorage_ReturnsCopies(t *testing.T) {
	s := NewMemoryStorage(0)
	ctx := context.Background()

	value := []byte("abc")
	require.NoError(t, s.Set(ctx, "k", value))
	value[0] = 'z'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	got[1] = 'z'

	again, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}

func TestMemoryStorage_Quota(t *testing.T) {
	s := NewMemoryStorage(10)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", []byte("12345")))
	require.NoError(t, s.Set(ctx, "b", []byte("12345")))

	err := s.Set(ctx, "c", []byte("1"))
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	// Overwriting a key only counts the difference
	require.NoError(t, s.Set(ctx, "a", []byte("1234")))
	require.NoError(t, s.Set(ctx, "c", []byte("1")))

	// Rejected writes leave the previous value in place
	assert.ErrorIs(t, s.Set(ctx, "b", []byte("123456789")), ErrQuotaExceeded)
	got, err := s.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "12345", string(got))
}

func TestMemoryStorage_Delete(t *testing.T) {
	s := NewMemoryStorage(5)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", []byte("12345")))
	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "a"))

	_, err := s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	// Space is released
	require.NoError(t, s.Set(ctx, "b", []byte("12345")))
}
