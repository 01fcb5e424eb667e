package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"mailport/backend/internal/storage"
)

const (
	checkTimeout       = 3 * time.Second
	goroutineThreshold = 10000
)

// Pinger 可探活的外部依赖
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	store  storage.Store
	redis  Pinger
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器，redis 为 nil 时跳过 Redis 检查
func NewHealthChecker(store storage.Store, redis Pinger, logger *zap.Logger) *HealthChecker {
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		store:  store,
		redis:  redis,
		logger: logger,
	}

	hc.addChecks()

	return hc
}

// addChecks 添加健康检查
func (hc *HealthChecker) addChecks() {
	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(goroutineThreshold))

	hc.health.AddReadinessCheck("database", healthcheck.Timeout(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()
		return hc.store.Health(ctx)
	}, checkTimeout))

	if hc.redis != nil {
		hc.health.AddReadinessCheck("redis", healthcheck.Timeout(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
			defer cancel()
			return hc.redis.Ping(ctx)
		}, checkTimeout))
	}
}

// Handler 返回健康检查处理器（/live 与 /ready）
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// LiveEndpoint 存活探针
func (hc *HealthChecker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪探针
func (hc *HealthChecker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}

// CheckHealth 执行健康检查并返回各组件状态
func (hc *HealthChecker) CheckHealth(ctx context.Context) (map[string]string, bool) {
	results := make(map[string]string)
	healthy := true

	// 检查数据库
	if err := hc.store.Health(ctx); err != nil {
		results["database"] = fmt.Sprintf("ERROR: %v", err)
		healthy = false
		hc.logger.Warn("数据库健康检查失败", zap.Error(err))
	} else {
		results["database"] = "OK"
	}

	// 检查 Redis
	if hc.redis == nil {
		results["redis"] = "NOT_AVAILABLE"
	} else if err := hc.redis.Ping(ctx); err != nil {
		results["redis"] = fmt.Sprintf("ERROR: %v", err)
		healthy = false
		hc.logger.Warn("Redis 健康检查失败", zap.Error(err))
	} else {
		results["redis"] = "OK"
	}

	results["timestamp"] = time.Now().Format(time.RFC3339)

	return results, healthy
}
