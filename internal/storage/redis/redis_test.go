package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"mailport/backend/internal/domain"
	"mailport/backend/internal/storage"
)

// newTestClient 启动 Redis 容器，测试结束后自动清理
func newTestClient(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Redis container test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	rdb := goredis.NewClient(&goredis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	client := NewWithClient(rdb, nil)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestClient(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	t.Run("用户缓存保留密码哈希", func(t *testing.T) {
		user := &domain.User{ID: "u1", Username: "admin", PasswordHash: "$2a$hash", Role: domain.RoleAdmin, IsActive: true}
		require.NoError(t, client.CacheUser(ctx, user, time.Minute))

		cached, err := client.GetCachedUser(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "$2a$hash", cached.PasswordHash)
		assert.True(t, cached.IsAdmin())

		require.NoError(t, client.DeleteCachedUser(ctx, "u1"))
		_, err = client.GetCachedUser(ctx, "u1")
		assert.ErrorIs(t, err, ErrCacheMiss)
	})

	t.Run("JSON 缓存", func(t *testing.T) {
		in := domain.EmailStatusStats{Total: 3, Unread: 1}
		require.NoError(t, client.SetJSON(ctx, "stats", in, time.Minute))

		var out domain.EmailStatusStats
		require.NoError(t, client.GetJSON(ctx, "stats", &out))
		assert.Equal(t, in, out)

		assert.ErrorIs(t, client.GetJSON(ctx, "missing", &out), ErrCacheMiss)

		require.NoError(t, client.DeleteJSON(ctx, "stats", "missing"))
		assert.ErrorIs(t, client.GetJSON(ctx, "stats", &out), ErrCacheMiss)
	})

	t.Run("锁互斥且可释放", func(t *testing.T) {
		release, err := client.TryLock(ctx, "backfill", time.Minute)
		require.NoError(t, err)

		_, err = client.TryLock(ctx, "backfill", time.Minute)
		assert.ErrorIs(t, err, storage.ErrLockHeld)

		release()
		release2, err := client.TryLock(ctx, "backfill", time.Minute)
		require.NoError(t, err)
		release2()
		// 重复释放无副作用
		release2()
	})

	t.Run("持有期间自动续期", func(t *testing.T) {
		release, err := client.TryLock(ctx, "long-run", 300*time.Millisecond)
		require.NoError(t, err)

		time.Sleep(time.Second)
		_, err = client.TryLock(ctx, "long-run", 300*time.Millisecond)
		assert.ErrorIs(t, err, storage.ErrLockHeld, "超过初始 TTL 后锁仍被持有")

		release()
		again, err := client.TryLock(ctx, "long-run", 300*time.Millisecond)
		require.NoError(t, err)
		again()
	})
}
