package domain

import "time"

// MailSettings SMTP/IMAP 运行时配置，单行存储（ID 固定为 1）
type MailSettings struct {
	ID                  int       `json:"-" gorm:"primaryKey;autoIncrement:false"`
	SMTPHost            string    `json:"smtpHost" gorm:"type:varchar(255)"`
	SMTPPort            int       `json:"smtpPort"`
	SMTPSecure          bool      `json:"smtpSecure"`
	SMTPUser            string    `json:"smtpUser" gorm:"type:varchar(255)"`
	SMTPPassword        string    `json:"-" gorm:"type:varchar(255)"`
	IMAPHost            string    `json:"imapHost" gorm:"type:varchar(255)"`
	IMAPPort            int       `json:"imapPort"`
	IMAPTLS             bool      `json:"imapTls"`
	IMAPUser            string    `json:"imapUser" gorm:"type:varchar(255)"`
	IMAPPassword        string    `json:"-" gorm:"type:varchar(255)"`
	DefaultForwardEmail string    `json:"defaultForwardEmail" gorm:"type:varchar(255)"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// TableName 指定配置表名
func (MailSettings) TableName() string {
	return "mail_settings"
}

// SettingsID 配置行的固定主键
const SettingsID = 1

// CleanupResult 数据清理结果
type CleanupResult struct {
	DeletedEmails int `json:"deletedEmails"`
	DeletedFiles  int `json:"deletedFiles"`
}

// SMTPServer 外发邮件服务器连接参数
type SMTPServer struct {
	Host     string
	Port     int
	Secure   bool // 隐式 TLS，否则尝试 STARTTLS
	User     string
	Password string
}

// SMTPServer 返回配置中的外发服务器参数
func (s *MailSettings) SMTPServer() SMTPServer {
	return SMTPServer{
		Host:     s.SMTPHost,
		Port:     s.SMTPPort,
		Secure:   s.SMTPSecure,
		User:     s.SMTPUser,
		Password: s.SMTPPassword,
	}
}

// MailSettingsUpdate 修改邮件配置的输入，nil 字段保持不变，空密码表示不修改
type MailSettingsUpdate struct {
	SMTPHost            *string `json:"smtpHost"`
	SMTPPort            *int    `json:"smtpPort"`
	SMTPSecure          *bool   `json:"smtpSecure"`
	SMTPUser            *string `json:"smtpUser"`
	SMTPPassword        *string `json:"smtpPassword"`
	IMAPHost            *string `json:"imapHost"`
	IMAPPort            *int    `json:"imapPort"`
	IMAPTLS             *bool   `json:"imapTls"`
	IMAPUser            *string `json:"imapUser"`
	IMAPPassword        *string `json:"imapPassword"`
	DefaultForwardEmail *string `json:"defaultForwardEmail"`
}

// Apply 把修改写入配置
func (u *MailSettingsUpdate) Apply(s *MailSettings) {
	setString(&s.SMTPHost, u.SMTPHost)
	setString(&s.SMTPUser, u.SMTPUser)
	setString(&s.IMAPHost, u.IMAPHost)
	setString(&s.IMAPUser, u.IMAPUser)
	setString(&s.DefaultForwardEmail, u.DefaultForwardEmail)
	if u.SMTPPort != nil {
		s.SMTPPort = *u.SMTPPort
	}
	if u.IMAPPort != nil {
		s.IMAPPort = *u.IMAPPort
	}
	if u.SMTPSecure != nil {
		s.SMTPSecure = *u.SMTPSecure
	}
	if u.IMAPTLS != nil {
		s.IMAPTLS = *u.IMAPTLS
	}
	if u.SMTPPassword != nil && *u.SMTPPassword != "" {
		s.SMTPPassword = *u.SMTPPassword
	}
	if u.IMAPPassword != nil && *u.IMAPPassword != "" {
		s.IMAPPassword = *u.IMAPPassword
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// SystemInfo 运行环境信息
type SystemInfo struct {
	GoVersion     string `json:"goVersion"`
	Platform      string `json:"platform"`
	Arch          string `json:"arch"`
	UptimeSeconds int64  `json:"uptime"`
	Goroutines    int    `json:"goroutines"`
	Memory        struct {
		AllocMB float64 `json:"used"`
		SysMB   float64 `json:"total"`
	} `json:"memory"`
	Database struct {
		Type      string `json:"type"`
		SizeBytes int64  `json:"sizeBytes"`
	} `json:"database"`
	Uploads struct {
		Count  int     `json:"count"`
		SizeMB float64 `json:"sizeMB"`
	} `json:"uploads"`
}
