package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"privata/pkg/platform/sentinel"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "patient:123", Key("patient", "123"))
}

func TestInMemoryCache(t *testing.T) {
	ctx := context.Background()

	t.Run("miss then hit", func(t *testing.T) {
		c := NewInMemoryCache()
		_, err := c.Get(ctx, "patient:1")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)

		require.NoError(t, c.Set(ctx, "patient:1", []byte(`{"id":"1"}`), time.Minute))
		got, err := c.Get(ctx, "patient:1")
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"id":"1"}`), got)
	})

	t.Run("entries expire after ttl", func(t *testing.T) {
		c := NewInMemoryCache()
		now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		c.now = func() time.Time { return now }

		require.NoError(t, c.Set(ctx, "patient:1", []byte("v"), DefaultTTL))
		now = now.Add(DefaultTTL - time.Second)
		_, err := c.Get(ctx, "patient:1")
		require.NoError(t, err)

		now = now.Add(time.Second)
		_, err = c.Get(ctx, "patient:1")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
		assert.Equal(t, 0, c.Len())
	})

	t.Run("invalidate removes the entry", func(t *testing.T) {
		c := NewInMemoryCache()
		require.NoError(t, c.Set(ctx, "patient:1", []byte("v"), time.Minute))
		require.NoError(t, c.Invalidate(ctx, "patient:1"))
		require.NoError(t, c.Invalidate(ctx, "patient:missing"))
		_, err := c.Get(ctx, "patient:1")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("stored bytes are isolated from callers", func(t *testing.T) {
		c := NewInMemoryCache()
		buf := []byte("abc")
		require.NoError(t, c.Set(ctx, "k", buf, time.Minute))
		buf[0] = 'x'
		got, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "abc", string(got))
	})
}
