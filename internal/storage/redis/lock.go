package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mailport/backend/internal/storage"
)

// releaseScript 只删除自己持有的锁
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript 只为自己持有的锁续期
var renewScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// TryLock 使用 SET NX PX 获取锁，已被占用时返回 storage.ErrLockHeld
//
// 持有期间每 ttl/3 续期一次，直到调用返回的释放函数。
func (c *Client) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	key := c.key("lock", name)
	token := uuid.NewString()

	ok, err := c.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, storage.ErrLockHeld
	}

	done := make(chan struct{})
	go c.keepAlive(key, name, token, ttl, done)

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(done)
			// 释放不应受调用方 ctx 取消影响
			rctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, c.rdb, []string{key}, token).Err(); err != nil {
				c.log.Warn("failed to release lock", zap.String("lock", name), zap.Error(err))
			}
		})
	}
	return release, nil
}

func (c *Client) keepAlive(key, name, token string, ttl time.Duration, done <-chan struct{}) {
	interval := ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			n, err := renewScript.Run(ctx, c.rdb, []string{key}, token, ttl.Milliseconds()).Int64()
			cancel()
			if err != nil {
				c.log.Warn("failed to renew lock", zap.String("lock", name), zap.Error(err))
				continue
			}
			if n == 0 {
				c.log.Warn("lock lost before release", zap.String("lock", name))
				return
			}
		}
	}
}

var _ storage.Locker = (*Client)(nil)
