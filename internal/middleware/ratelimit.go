package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"mailport/backend/internal/monitoring"
)

// IPRateLimiter 按客户端 IP 的令牌桶限流
type IPRateLimiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration

	mu       sync.Mutex
	visitors map[string]*visitor
	metrics  *monitoring.Metrics
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter 创建限流器
//
// 参数:
//   - perSecond: 每秒允许的请求数
//   - burst: 突发请求数
func NewIPRateLimiter(perSecond float64, burst int) *IPRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &IPRateLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		ttl:      10 * time.Minute,
		visitors: make(map[string]*visitor),
	}
}

// SetMetrics 设置监控指标
func (l *IPRateLimiter) SetMetrics(metrics *monitoring.Metrics) {
	l.metrics = metrics
}

// Allow 判断该 IP 是否还有配额
func (l *IPRateLimiter) Allow(ip string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now

	// 顺带清理长时间未出现的 IP
	if len(l.visitors) > 1024 {
		for key, other := range l.visitors {
			if now.Sub(other.lastSeen) > l.ttl {
				delete(l.visitors, key)
			}
		}
	}

	return v.limiter.AllowN(now, 1)
}

// Middleware 超出配额返回 429
func (l *IPRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			l.metrics.RecordRateLimitBlock("login")
			abort(c, http.StatusTooManyRequests, "请求过于频繁，请稍后再试")
			return
		}
		c.Next()
	}
}
