package cache

import (
	"sync"
	"time"
)

// LocalCache 进程内 TTL 缓存，用于统计接口等读多写少的结果
type LocalCache struct {
	mu      sync.RWMutex
	data    map[string]cacheEntry
	maxSize int
	ttl     time.Duration
	stop    chan struct{}
	once    sync.Once
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// NewLocalCache 创建本地缓存
//
// 参数:
//   - maxSize: 最大缓存条目数，写满后先淘汰过期条目，再淘汰最早过期的条目
//   - ttl: 默认过期时间
func NewLocalCache(maxSize int, ttl time.Duration) *LocalCache {
	c := &LocalCache{
		data:    make(map[string]cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
	go c.cleanupLoop(time.Minute)
	return c
}

// Get 获取缓存值
func (c *LocalCache) Get(key string) (any, bool) {
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.value, true
}

// Set 设置缓存值，ttl 为 0 时使用默认过期时间
func (c *LocalCache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data[key]; !exists && c.maxSize > 0 && len(c.data) >= c.maxSize {
		c.evictLocked()
	}
	c.data[key] = cacheEntry{value: value, expiresAt: time.Now().Add(ttl)}
}

// GetOrLoad 命中缓存直接返回，否则调用 load 并缓存成功结果
func (c *LocalCache) GetOrLoad(key string, ttl time.Duration, load func() (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return nil, err
	}
	c.Set(key, v, ttl)
	return v, nil
}

// Delete 删除缓存值
func (c *LocalCache) Delete(key string) {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
}

// Clear 清空所有缓存
func (c *LocalCache) Clear() {
	c.mu.Lock()
	c.data = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// Len 返回当前条目数（含尚未清理的过期条目）
func (c *LocalCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Close 停止后台清理协程
func (c *LocalCache) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *LocalCache) evictLocked() {
	now := time.Now()
	var oldestKey string
	var oldest time.Time
	for k, e := range c.data {
		if now.After(e.expiresAt) {
			delete(c.data, k)
			return
		}
		if oldestKey == "" || e.expiresAt.Before(oldest) {
			oldestKey, oldest = k, e.expiresAt
		}
	}
	delete(c.data, oldestKey)
}

func (c *LocalCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for k, e := range c.data {
				if now.After(e.expiresAt) {
					delete(c.data, k)
				}
			}
			c.mu.Unlock()
		}
	}
}
