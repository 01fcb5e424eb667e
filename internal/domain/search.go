package domain

import "time"

// EmailSearchCriteria 邮件列表查询条件
type EmailSearchCriteria struct {
	Search           string      // 搜索关键词（发件人邮箱、发件人、公司、主题）
	Status           EmailStatus // 状态筛选，空表示全部
	SortBy           string      // 排序字段
	SortOrder        string      // ASC 或 DESC
	ConversationMode bool        // 只返回会话根邮件和未归入会话的邮件
	Page             int         // 页码（默认1）
	PageSize         int         // 每页数量（默认20，最大100）
}

// 可排序字段
var sortableFields = map[string]bool{
	"dateReceived": true,
	"senderEmail":  true,
	"senderName":   true,
	"companyName":  true,
	"subject":      true,
	"status":       true,
}

// Normalize 填充默认值并校正非法参数
func (c *EmailSearchCriteria) Normalize() {
	if c.Page < 1 {
		c.Page = 1
	}
	if c.PageSize < 1 {
		c.PageSize = 20
	}
	if c.PageSize > 100 {
		c.PageSize = 100
	}
	if !sortableFields[c.SortBy] {
		c.SortBy = "dateReceived"
	}
	if c.SortOrder != "ASC" && c.SortOrder != "asc" {
		c.SortOrder = "DESC"
	} else {
		c.SortOrder = "ASC"
	}
}

// SortColumn 返回排序字段对应的数据库列名
func (c *EmailSearchCriteria) SortColumn() string {
	switch c.SortBy {
	case "senderEmail":
		return "sender_email"
	case "senderName":
		return "sender_name"
	case "companyName":
		return "company_name"
	case "subject":
		return "subject"
	case "status":
		return "status"
	default:
		return "date_received"
	}
}

// EmailSearchResult 邮件列表结果
type EmailSearchResult struct {
	Emails     []EmailListItem `json:"emails"`
	Total      int             `json:"total"`
	Page       int             `json:"page"`
	PageSize   int             `json:"pageSize"`
	TotalPages int             `json:"totalPages"`
}

// EmailCountFilter 邮件计数条件
type EmailCountFilter struct {
	Status         EmailStatus
	Since          *time.Time
	Until          *time.Time
	HasAttachments *bool
	SenderManual   *bool
	CompanyManual  *bool
	Threaded       *bool // true: conversationId 非空；false: 为空
	RootsOnly      bool
}
