package domain

import "time"

// ActionType 操作日志类型
type ActionType string

const (
	ActionForward     ActionType = "forward"
	ActionReply       ActionType = "reply"
	ActionEditCompany ActionType = "edit_company"
	ActionEditSender  ActionType = "edit_sender"
	ActionMarkRead    ActionType = "mark_read"
)

// ActionLog 邮件操作审计记录，创建后不再修改
type ActionLog struct {
	ID         string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	EmailID    string       `json:"emailId" gorm:"type:varchar(36);index;not null"`
	UserID     *string      `json:"userId" gorm:"type:varchar(36);index"`
	ActionType ActionType   `json:"actionType" gorm:"type:varchar(20);index;not null"`
	OldValue   string       `json:"oldValue" gorm:"type:text"`
	NewValue   string       `json:"newValue" gorm:"type:text"`
	UserIP     string       `json:"userIp" gorm:"type:varchar(64)"`
	UserAgent  string       `json:"userAgent" gorm:"type:varchar(500)"`
	CreatedAt  time.Time    `json:"createdAt" gorm:"index"`
	User       *UserSummary `json:"user,omitempty" gorm:"-"`
}

// Actor 发起操作的用户及请求来源
type Actor struct {
	UserID    string
	IP        string
	UserAgent string
}
