package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalCache(t *testing.T) {
	t.Run("写入后读取", func(t *testing.T) {
		c := NewLocalCache(10, time.Minute)
		defer c.Close()

		c.Set("k", 42, 0)
		v, ok := c.Get("k")
		require.True(t, ok)
		assert.Equal(t, 42, v)
	})

	t.Run("过期后不可见", func(t *testing.T) {
		c := NewLocalCache(10, time.Minute)
		defer c.Close()

		c.Set("k", "v", time.Millisecond)
		time.Sleep(5 * time.Millisecond)
		_, ok := c.Get("k")
		assert.False(t, ok)
	})

	t.Run("超出容量时淘汰最早过期的条目", func(t *testing.T) {
		c := NewLocalCache(2, time.Minute)
		defer c.Close()

		c.Set("a", 1, time.Second)
		c.Set("b", 2, time.Hour)
		c.Set("c", 3, time.Hour)

		assert.Equal(t, 2, c.Len())
		_, ok := c.Get("a")
		assert.False(t, ok)
	})

	t.Run("GetOrLoad 只加载一次且不缓存错误", func(t *testing.T) {
		c := NewLocalCache(10, time.Minute)
		defer c.Close()

		calls := 0
		load := func() (any, error) {
			calls++
			return "loaded", nil
		}

		v, err := c.GetOrLoad("k", 0, load)
		require.NoError(t, err)
		assert.Equal(t, "loaded", v)
		_, _ = c.GetOrLoad("k", 0, load)
		assert.Equal(t, 1, calls)

		_, err = c.GetOrLoad("bad", 0, func() (any, error) { return nil, errors.New("boom") })
		assert.Error(t, err)
		_, ok := c.Get("bad")
		assert.False(t, ok)
	})
}
