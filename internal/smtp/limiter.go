package smtp

import (
	"sync"

	"golang.org/x/time/rate"
)

// ConnectionLimiter SMTP 连接限流器
//
// 限制单个 IP 的并发连接数，并用令牌桶限制全局新建连接速率。
type ConnectionLimiter struct {
	maxPerIP int
	rate     *rate.Limiter

	mu      sync.Mutex
	current map[string]int
}

// NewConnectionLimiter 创建连接限流器
//
// 参数:
//   - maxPerIP: 单个 IP 最大并发连接数，<=0 表示不限制
//   - perSecond: 每秒允许新建的连接数
//   - burst: 突发连接数
func NewConnectionLimiter(maxPerIP int, perSecond float64, burst int) *ConnectionLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &ConnectionLimiter{
		maxPerIP: maxPerIP,
		rate:     rate.NewLimiter(rate.Limit(perSecond), burst),
		current:  make(map[string]int),
	}
}

// Acquire 获取连接许可
func (l *ConnectionLimiter) Acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxPerIP > 0 && l.current[ip] >= l.maxPerIP {
		return false
	}
	if !l.rate.Allow() {
		return false
	}

	l.current[ip]++
	return true
}

// Release 释放连接
func (l *ConnectionLimiter) Release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n := l.current[ip]; n > 1 {
		l.current[ip] = n - 1
	} else {
		delete(l.current, ip)
	}
}

// Current 当前连接数
func (l *ConnectionLimiter) Current(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current[ip]
}
