package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailport/backend/internal/auth"
	"mailport/backend/internal/domain"
	"mailport/backend/internal/storage"
)

func TestAdminService(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := NewAdminService(env.store, nil)
	admin := env.seedUser(t, "yonetici", domain.RoleAdmin)

	t.Run("创建用户默认为客服", func(t *testing.T) {
		user, err := svc.CreateUser(ctx, CreateUserInput{
			Username: "destek1",
			Email:    "Destek1@Example.com",
			Password: "secret123",
			FullName: "Destek Bir",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.RoleSupport, user.Role)
		assert.Equal(t, "destek1@example.com", user.Email)
		assert.True(t, user.IsActive)
		assert.True(t, auth.CheckPassword("secret123", user.PasswordHash))
	})

	t.Run("用户名重复", func(t *testing.T) {
		_, err := svc.CreateUser(ctx, CreateUserInput{
			Username: "destek1", Email: "other@example.com", Password: "secret123", FullName: "Başka",
		})
		assert.ErrorIs(t, err, storage.ErrUsernameExists)
	})

	t.Run("邮箱重复", func(t *testing.T) {
		_, err := svc.CreateUser(ctx, CreateUserInput{
			Username: "destek9", Email: "destek1@example.com", Password: "secret123", FullName: "Başka",
		})
		assert.ErrorIs(t, err, storage.ErrUserEmailExists)
	})

	t.Run("密码太短", func(t *testing.T) {
		_, err := svc.CreateUser(ctx, CreateUserInput{
			Username: "destek2", Email: "d2@example.com", Password: "123", FullName: "Destek İki",
		})
		assert.ErrorIs(t, err, domain.ErrPasswordTooShort)
	})

	t.Run("不能禁用自己", func(t *testing.T) {
		inactive := false
		_, err := svc.UpdateUser(ctx, admin.ID, domain.UserUpdate{IsActive: &inactive}, admin.ID)
		assert.ErrorIs(t, err, ErrCannotDeactivateSelf)
	})

	t.Run("修改其他用户", func(t *testing.T) {
		target := env.seedUser(t, "destek3", domain.RoleSupport)
		role, inactive, password := domain.RoleAdmin, false, "newpass1"

		updated, err := svc.UpdateUser(ctx, target.ID, domain.UserUpdate{
			Role: &role, IsActive: &inactive, Password: &password,
		}, admin.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.RoleAdmin, updated.Role)
		assert.False(t, updated.IsActive)
		assert.True(t, auth.CheckPassword("newpass1", updated.PasswordHash))
	})

	t.Run("修改为已存在的用户名", func(t *testing.T) {
		target := env.seedUser(t, "destek4", domain.RoleSupport)
		taken := "yonetici"
		_, err := svc.UpdateUser(ctx, target.ID, domain.UserUpdate{Username: &taken}, admin.ID)
		assert.ErrorIs(t, err, storage.ErrUsernameExists)
	})

	t.Run("不能删除自己", func(t *testing.T) {
		err := svc.DeleteUser(ctx, admin.ID, admin.ID)
		assert.ErrorIs(t, err, ErrCannotDeleteSelf)
	})

	t.Run("删除用户", func(t *testing.T) {
		target := env.seedUser(t, "destek5", domain.RoleSupport)
		require.NoError(t, svc.DeleteUser(ctx, target.ID, admin.ID))

		err := svc.DeleteUser(ctx, target.ID, admin.ID)
		assert.ErrorIs(t, err, storage.ErrUserNotFound)
	})

	t.Run("列出用户", func(t *testing.T) {
		users, err := svc.ListUsers(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(users), 2)
	})
}
