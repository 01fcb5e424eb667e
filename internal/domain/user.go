package domain

import "time"

// UserRole 用户角色
type UserRole string

const (
	RoleAdmin   UserRole = "admin"
	RoleSupport UserRole = "destek" // 客服
)

// Valid 判断角色是否合法
func (r UserRole) Valid() bool {
	return r == RoleAdmin || r == RoleSupport
}

// User 表示后台登录用户
type User struct {
	ID           string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Username     string     `json:"username" gorm:"uniqueIndex;type:varchar(30);not null"`
	Email        string     `json:"email" gorm:"uniqueIndex;type:varchar(255);not null"`
	PasswordHash string     `json:"-" gorm:"type:varchar(255);not null"` // 不返回给前端
	FullName     string     `json:"fullName" gorm:"type:varchar(100)"`
	Role         UserRole   `json:"role" gorm:"type:varchar(20);default:'destek';index"`
	IsActive     bool       `json:"isActive"`
	LastLogin    *time.Time `json:"lastLogin,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// IsAdmin 判断用户是否为管理员
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Summary 返回用户的公开摘要
func (u *User) Summary() *UserSummary {
	return &UserSummary{
		ID:       u.ID,
		Username: u.Username,
		FullName: u.FullName,
	}
}

// UserSummary 嵌入在邮件和日志中的用户摘要
type UserSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
}

// UserUpdate 管理员修改用户的输入，nil 字段保持不变
type UserUpdate struct {
	Username *string
	Email    *string
	Password *string
	FullName *string
	Role     *UserRole
	IsActive *bool
}
