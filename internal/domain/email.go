package domain

import "time"

// EmailStatus 邮件处理状态
type EmailStatus string

const (
	StatusUnread    EmailStatus = "unread"
	StatusRead      EmailStatus = "read"
	StatusForwarded EmailStatus = "forwarded"
	StatusReplied   EmailStatus = "replied"
)

// Valid 判断状态值是否合法
func (s EmailStatus) Valid() bool {
	switch s {
	case StatusUnread, StatusRead, StatusForwarded, StatusReplied:
		return true
	}
	return false
}

// Email 表示监控邮箱收到的一封邮件。
//
// 会话字段（ConversationID、ThreadSubject、IsConversationRoot）由会话识别器写入，
// ConversationID 为空表示该邮件无法归入任何会话，此时 IsConversationRoot 为 true。
type Email struct {
	ID                  string      `json:"id" gorm:"primaryKey;type:varchar(36)"`
	MessageID           string      `json:"messageId" gorm:"uniqueIndex;type:varchar(255);not null"`
	DateReceived        time.Time   `json:"dateReceived" gorm:"index;not null"`
	SenderEmail         string      `json:"senderEmail" gorm:"index;type:varchar(255);not null"`
	SenderDomain        string      `json:"senderDomain" gorm:"index;type:varchar(255)"`
	SenderName          string      `json:"senderName" gorm:"type:varchar(255)"`
	IsSenderNameManual  bool        `json:"isSenderNameManual" gorm:"default:false"`
	CompanyName         string      `json:"companyName" gorm:"index;type:varchar(255)"`
	IsCompanyNameManual bool        `json:"isCompanyNameManual" gorm:"default:false"`
	Subject             string      `json:"subject" gorm:"type:text"`
	Content             string      `json:"content" gorm:"type:text"`
	HTMLContent         string      `json:"htmlContent" gorm:"type:text"`
	HasAttachments      bool        `json:"hasAttachments" gorm:"default:false"`
	Status              EmailStatus `json:"status" gorm:"index;type:varchar(20);default:'unread'"`

	ReadByUserID     *string    `json:"readByUserId" gorm:"type:varchar(36)"`
	ReadAt           *time.Time `json:"readAt"`
	LastActionUserID *string    `json:"lastActionUserId" gorm:"type:varchar(36)"`
	LastActionAt     *time.Time `json:"lastActionAt"`

	// 会话字段
	ConversationID     *string `json:"conversationId" gorm:"index;type:varchar(64)"`
	ThreadSubject      *string `json:"threadSubject" gorm:"index;type:varchar(500)"`
	IsConversationRoot bool    `json:"isConversationRoot" gorm:"not null;default:true"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// 关联数据（查询详情时填充）
	Attachments    []Attachment `json:"attachments,omitempty" gorm:"foreignKey:EmailID;constraint:OnDelete:CASCADE"`
	ReadByUser     *UserSummary `json:"readByUser,omitempty" gorm:"-"`
	LastActionUser *UserSummary `json:"lastActionUser,omitempty" gorm:"-"`
	ActionLogs     []ActionLog  `json:"-" gorm:"foreignKey:EmailID;constraint:OnDelete:CASCADE"`
}

// ConversationFields 会话识别结果
type ConversationFields struct {
	ConversationID     *string `json:"conversationId"`
	ThreadSubject      string  `json:"threadSubject"`
	IsConversationRoot bool    `json:"isConversationRoot"`
}

// Apply 将会话识别结果写入邮件
func (f ConversationFields) Apply(e *Email) {
	e.ConversationID = f.ConversationID
	subject := f.ThreadSubject
	e.ThreadSubject = &subject
	e.IsConversationRoot = f.IsConversationRoot
}

// EmailListItem 列表视图中的邮件，会话模式下附带会话汇总
type EmailListItem struct {
	Email
	ConversationCount int        `json:"conversationCount,omitempty"`
	LatestEmailDate   *time.Time `json:"latestEmailDate,omitempty"`
}

// EmailCursor 按 (DateReceived, ID) 升序分页的游标
type EmailCursor struct {
	DateReceived time.Time
	ID           string
}

// EmailUpdate 人工修改发件人/公司信息的输入
type EmailUpdate struct {
	SenderName  *string
	CompanyName *string
	UpdateAll   bool
}
