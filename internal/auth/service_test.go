package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailport/backend/internal/auth/jwt"
	"mailport/backend/internal/domain"
	"mailport/backend/internal/storage"
	"mailport/backend/internal/storage/memory"
)

const testSecret = "test-secret-key-for-development-32-chars-long-at-least"

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return NewService(store, jwt.NewManager(testSecret, "mailport", 24*time.Hour), nil), store
}

func createUser(t *testing.T, store *memory.Store, username, email, password string, active bool) *domain.User {
	t.Helper()
	hash, err := HashPassword(password)
	require.NoError(t, err)

	user := &domain.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		FullName:     "Test User",
		Role:         domain.RoleSupport,
		IsActive:     active,
	}
	require.NoError(t, store.CreateUser(context.Background(), user))
	return user
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("用户名登录成功", func(t *testing.T) {
		svc, store := newTestService(t)
		user := createUser(t, store, "alice", "alice@example.com", "secret123", true)

		result, err := svc.Login(ctx, LoginInput{Identifier: "alice", Password: "secret123"})

		require.NoError(t, err)
		assert.NotEmpty(t, result.Token)
		assert.Equal(t, user.ID, result.User.ID)
		require.NotNil(t, result.User.LastLogin)

		stored, err := store.GetUserByID(ctx, user.ID)
		require.NoError(t, err)
		assert.NotNil(t, stored.LastLogin)
	})

	t.Run("邮箱登录成功", func(t *testing.T) {
		svc, store := newTestService(t)
		createUser(t, store, "alice", "alice@example.com", "secret123", true)

		result, err := svc.Login(ctx, LoginInput{Identifier: "alice@example.com", Password: "secret123"})

		require.NoError(t, err)
		assert.Equal(t, "alice", result.User.Username)
	})

	t.Run("密码错误", func(t *testing.T) {
		svc, store := newTestService(t)
		createUser(t, store, "alice", "alice@example.com", "secret123", true)

		_, err := svc.Login(ctx, LoginInput{Identifier: "alice", Password: "wrong"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("用户不存在", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.Login(ctx, LoginInput{Identifier: "nobody", Password: "secret123"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("禁用用户无法登录", func(t *testing.T) {
		svc, store := newTestService(t)
		createUser(t, store, "alice", "alice@example.com", "secret123", false)

		_, err := svc.Login(ctx, LoginInput{Identifier: "alice", Password: "secret123"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestService_Authenticate(t *testing.T) {
	ctx := context.Background()

	t.Run("有效令牌", func(t *testing.T) {
		svc, store := newTestService(t)
		createUser(t, store, "alice", "alice@example.com", "secret123", true)
		result, err := svc.Login(ctx, LoginInput{Identifier: "alice", Password: "secret123"})
		require.NoError(t, err)

		user, err := svc.Authenticate(ctx, result.Token)

		require.NoError(t, err)
		assert.Equal(t, "alice", user.Username)
	})

	t.Run("用户被禁用后令牌失效", func(t *testing.T) {
		svc, store := newTestService(t)
		user := createUser(t, store, "alice", "alice@example.com", "secret123", true)
		result, err := svc.Login(ctx, LoginInput{Identifier: "alice", Password: "secret123"})
		require.NoError(t, err)

		stored, err := store.GetUserByID(ctx, user.ID)
		require.NoError(t, err)
		stored.IsActive = false
		require.NoError(t, store.UpdateUser(ctx, stored))

		_, err = svc.Authenticate(ctx, result.Token)
		assert.ErrorIs(t, err, ErrUserInactive)
	})

	t.Run("用户被删除后令牌失效", func(t *testing.T) {
		svc, store := newTestService(t)
		user := createUser(t, store, "alice", "alice@example.com", "secret123", true)
		result, err := svc.Login(ctx, LoginInput{Identifier: "alice", Password: "secret123"})
		require.NoError(t, err)
		require.NoError(t, store.DeleteUser(ctx, user.ID))

		_, err = svc.Authenticate(ctx, result.Token)
		assert.ErrorIs(t, err, storage.ErrUserNotFound)
	})

	t.Run("无效令牌", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.Authenticate(ctx, "garbage")
		assert.ErrorIs(t, err, jwt.ErrInvalidToken)
	})
}

func TestService_ChangePassword(t *testing.T) {
	ctx := context.Background()

	t.Run("修改成功后新密码可登录", func(t *testing.T) {
		svc, store := newTestService(t)
		user := createUser(t, store, "alice", "alice@example.com", "secret123", true)

		require.NoError(t, svc.ChangePassword(ctx, user.ID, "secret123", "newsecret"))

		_, err := svc.Login(ctx, LoginInput{Identifier: "alice", Password: "secret123"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		_, err = svc.Login(ctx, LoginInput{Identifier: "alice", Password: "newsecret"})
		assert.NoError(t, err)
	})

	t.Run("当前密码错误", func(t *testing.T) {
		svc, store := newTestService(t)
		user := createUser(t, store, "alice", "alice@example.com", "secret123", true)

		err := svc.ChangePassword(ctx, user.ID, "wrong", "newsecret")
		assert.ErrorIs(t, err, ErrWrongPassword)
	})

	t.Run("新密码太短", func(t *testing.T) {
		svc, store := newTestService(t)
		user := createUser(t, store, "alice", "alice@example.com", "secret123", true)

		err := svc.ChangePassword(ctx, user.ID, "secret123", "123")
		assert.ErrorIs(t, err, domain.ErrPasswordTooShort)
	})
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("secret123")
	require.NoError(t, err)

	assert.NotEqual(t, "secret123", hash)
	assert.True(t, CheckPassword("secret123", hash))
	assert.False(t, CheckPassword("secret124", hash))
}
