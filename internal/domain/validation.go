package domain

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail     = errors.New("invalid email format")
	ErrEmailTooLong     = errors.New("email address too long")
	ErrInvalidDomain    = errors.New("invalid domain format")
	ErrPasswordTooShort = errors.New("password too short (min 6 chars)")
	ErrPasswordTooLong  = errors.New("password too long (max 128 chars)")
	ErrUsernameTooShort = errors.New("username too short (min 3 chars)")
	ErrUsernameTooLong  = errors.New("username too long (max 30 chars)")
	ErrInvalidUsername  = errors.New("username must be alphanumeric")
	ErrFullNameLength   = errors.New("full name must be 2-100 chars")
	ErrInvalidRole      = errors.New("invalid role")
	ErrInvalidRetention = errors.New("olderThanDays must be between 1 and 365")
	ErrInvalidPort      = errors.New("port must be between 1 and 65535")
)

// 验证常量
const (
	MaxEmailLength  = 254 // RFC 5322 邮箱地址最大长度
	MaxDomainLength = 253

	MinPasswordLength = 6
	MaxPasswordLength = 128

	MinUsernameLength = 3
	MaxUsernameLength = 30

	MinFullNameLength = 2
	MaxFullNameLength = 100

	MinRetentionDays = 1
	MaxRetentionDays = 365
)

var (
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

	// 域名验证（支持子域名）
	domainRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?(\.[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?)+$`)
)

// ValidateEmail 验证邮箱地址格式
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ErrInvalidEmail
	}
	if len(email) > MaxEmailLength {
		return ErrEmailTooLong
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrInvalidEmail
	}

	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return ErrInvalidEmail
	}
	return ValidateDomain(email[at+1:])
}

// ValidateDomain 验证域名
func ValidateDomain(domain string) error {
	if domain == "" || len(domain) > MaxDomainLength {
		return ErrInvalidDomain
	}
	if !domainRegex.MatchString(domain) {
		return ErrInvalidDomain
	}
	return nil
}

// ValidatePassword 验证密码长度
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	return nil
}

// ValidateUsername 验证用户名（3-30 位字母数字）
func ValidateUsername(username string) error {
	if len(username) < MinUsernameLength {
		return ErrUsernameTooShort
	}
	if len(username) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	if !usernameRegex.MatchString(username) {
		return ErrInvalidUsername
	}
	return nil
}

// ValidateFullName 验证姓名长度
func ValidateFullName(name string) error {
	n := len([]rune(strings.TrimSpace(name)))
	if n < MinFullNameLength || n > MaxFullNameLength {
		return ErrFullNameLength
	}
	return nil
}

// Validate 验证新建用户
func (u *User) Validate() error {
	if err := ValidateUsername(u.Username); err != nil {
		return err
	}
	if err := ValidateEmail(u.Email); err != nil {
		return err
	}
	if err := ValidateFullName(u.FullName); err != nil {
		return err
	}
	if !u.Role.Valid() {
		return ErrInvalidRole
	}
	return nil
}

// Validate 验证用户修改内容
func (u *UserUpdate) Validate() error {
	if u.Username != nil {
		if err := ValidateUsername(*u.Username); err != nil {
			return err
		}
	}
	if u.Email != nil {
		if err := ValidateEmail(*u.Email); err != nil {
			return err
		}
	}
	// 空密码表示不修改
	if u.Password != nil && *u.Password != "" {
		if err := ValidatePassword(*u.Password); err != nil {
			return err
		}
	}
	if u.FullName != nil {
		if err := ValidateFullName(*u.FullName); err != nil {
			return err
		}
	}
	if u.Role != nil && !u.Role.Valid() {
		return ErrInvalidRole
	}
	return nil
}

// Validate 验证邮件收发配置
func (s *MailSettings) Validate() error {
	if s.SMTPPort != 0 && (s.SMTPPort < 1 || s.SMTPPort > 65535) {
		return ErrInvalidPort
	}
	if s.IMAPPort != 0 && (s.IMAPPort < 1 || s.IMAPPort > 65535) {
		return ErrInvalidPort
	}
	if s.DefaultForwardEmail != "" {
		if err := ValidateEmail(s.DefaultForwardEmail); err != nil {
			return err
		}
	}
	return nil
}

// ValidateRetentionDays 验证数据清理保留天数
func ValidateRetentionDays(days int) error {
	if days < MinRetentionDays || days > MaxRetentionDays {
		return ErrInvalidRetention
	}
	return nil
}
