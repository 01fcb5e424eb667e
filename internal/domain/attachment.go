package domain

import "time"

// Attachment 表示邮件附件，只在邮件入库时创建。
type Attachment struct {
	ID               string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	EmailID          string    `json:"emailId" gorm:"type:varchar(36);index;not null"`
	Filename         string    `json:"filename" gorm:"type:varchar(500)"`         // 存储文件名
	OriginalFilename string    `json:"originalFilename" gorm:"type:varchar(255)"` // 原始文件名
	FileSize         int64     `json:"fileSize"`
	MimeType         string    `json:"mimeType" gorm:"type:varchar(100)"`
	FilePath         string    `json:"-" gorm:"type:varchar(1000)"` // 相对附件根目录的路径
	CreatedAt        time.Time `json:"createdAt"`
}

// TableName 指定附件表名
func (Attachment) TableName() string {
	return "email_attachments"
}
