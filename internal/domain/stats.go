package domain

import "time"

// ConversationStats 会话统计
type ConversationStats struct {
	TotalEmails        int `json:"totalEmails"`
	ConversationEmails int `json:"conversationEmails"`
	SingleEmails       int `json:"singleEmails"`
	Conversations      int `json:"conversations"`
}

// OrganizeResult 历史邮件会话整理结果
type OrganizeResult struct {
	OrganizedCount    int `json:"organizedCount"`
	ConversationCount int `json:"conversationCount"`
}

// EmailStatusStats 按状态统计
type EmailStatusStats struct {
	Total     int `json:"total"`
	Unread    int `json:"unread"`
	Read      int `json:"read"`
	Forwarded int `json:"forwarded"`
	Replied   int `json:"replied"`
}

// PeriodStats 时间段统计
type PeriodStats struct {
	Today     int `json:"today"`
	ThisWeek  int `json:"thisWeek"`
	ThisMonth int `json:"thisMonth"`
}

// NamedCount 名称与数量
type NamedCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// TimeBucket 时间区间计数
type TimeBucket struct {
	Label string    `json:"label"`
	Start time.Time `json:"start"`
	Count int       `json:"count"`
}

// DashboardStats 仪表盘统计
type DashboardStats struct {
	General      EmailStatusStats `json:"general"`
	Period       PeriodStats      `json:"period"`
	TopDomains   []NamedCount     `json:"topDomains"`
	TopCompanies []NamedCount     `json:"topCompanies"`
	Monthly      []TimeBucket     `json:"monthly"`
	Weekly       []TimeBucket     `json:"weekly"`
}

// ActionCountFilter 操作日志计数条件
type ActionCountFilter struct {
	Types []ActionType
	Since *time.Time
}

// DailyActionCount 某天某类操作的数量
type DailyActionCount struct {
	Date       string     `json:"date"` // YYYY-MM-DD
	ActionType ActionType `json:"actionType"`
	Count      int        `json:"count"`
}

// ActionStats 操作统计
type ActionStats struct {
	Total        int                `json:"total"`
	Forward      int                `json:"forward"`
	Reply        int                `json:"reply"`
	Edit         int                `json:"edit"`
	DailyActions []DailyActionCount `json:"dailyActions"`
	TopUserIPs   []NamedCount       `json:"topUserIps"`
}

// UserCounts 用户数量统计
type UserCounts struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Admin   int `json:"admin"`
	Support int `json:"support"`
}

// SystemStats 系统统计
type SystemStats struct {
	Users                 UserCounts `json:"users"`
	EmailsWithAttachments int        `json:"emailsWithAttachments"`
	ManualSenderEdits     int        `json:"manualSenderEdits"`
	ManualCompanyEdits    int        `json:"manualCompanyEdits"`
	DatabaseSizeBytes     int64      `json:"databaseSizeBytes"`
}
