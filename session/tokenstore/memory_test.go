package tokenstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("set then get", func(t *testing.T) {
		store := NewMemoryStore(0)
		require.NoError(t, store.Set(ctx, "sid-1", "tok-1"))

		token, err := store.Get(ctx, "sid-1")
		require.NoError(t, err)
		assert.Equal(t, "tok-1", token)
	})

	t.Run("missing session", func(t *testing.T) {
		store := NewMemoryStore(0)
		_, err := store.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		store := NewMemoryStore(0)
		require.NoError(t, store.Set(ctx, "sid-1", "tok-1"))
		require.NoError(t, store.Delete(ctx, "sid-1"))
		require.NoError(t, store.Delete(ctx, "sid-1"))

		_, err := store.Get(ctx, "sid-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("entries expire after ttl", func(t *testing.T) {
		store := NewMemoryStore(time.Minute)
		now := time.Now()
		store.now = func() time.Time { return now }
		require.NoError(t, store.Set(ctx, "sid-1", "tok-1"))

		store.now = func() time.Time { return now.Add(2 * time.Minute) }
		_, err := store.Get(ctx, "sid-1")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, 0, store.Len())
	})

	t.Run("empty session id rejected", func(t *testing.T) {
		store := NewMemoryStore(0)
		assert.Error(t, store.Set(ctx, "", "tok"))
	})
}
