package pool

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool(t *testing.T) {
	t.Run("执行全部已提交任务", func(t *testing.T) {
		p := NewWorkerPool(3, 10, nil)
		p.Start(context.Background())

		var n atomic.Int32
		for i := 0; i < 20; i++ {
			require.NoError(t, p.Submit(context.Background(), func(context.Context) { n.Add(1) }))
		}
		p.Stop()

		assert.Equal(t, int32(20), n.Load())
	})

	t.Run("任务 panic 不影响后续任务", func(t *testing.T) {
		p := NewWorkerPool(1, 2, nil)
		p.Start(context.Background())

		var ran atomic.Bool
		require.NoError(t, p.Submit(context.Background(), func(context.Context) { panic("boom") }))
		require.NoError(t, p.Submit(context.Background(), func(context.Context) { ran.Store(true) }))
		p.Stop()

		assert.True(t, ran.Load())
	})

	t.Run("停止后拒绝提交", func(t *testing.T) {
		p := NewWorkerPool(1, 1, nil)
		p.Start(context.Background())
		p.Stop()

		assert.ErrorIs(t, p.Submit(context.Background(), func(context.Context) {}), ErrPoolStopped)
		assert.False(t, p.TrySubmit(func(context.Context) {}))
	})

	t.Run("队列已满时 TrySubmit 返回 false", func(t *testing.T) {
		p := NewWorkerPool(1, 1, nil)
		// 未启动工作协程，队列只能容纳一个任务
		assert.True(t, p.TrySubmit(func(context.Context) {}))
		assert.False(t, p.TrySubmit(func(context.Context) {}))
	})
}
