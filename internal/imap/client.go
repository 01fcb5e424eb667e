package imap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"mailport/backend/internal/config"
	"mailport/backend/internal/domain"
)

// Client 通过 go-imap v2 读取收件箱
type Client struct {
	addr     string
	tls      bool
	user     string
	password string
	mailbox  string
	logger   *zap.Logger
}

// NewClient 根据配置创建客户端
func NewClient(cfg config.IMAPConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	mailbox := cfg.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	return &Client{
		logger:   logger,
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		tls:      cfg.TLS,
		user:     cfg.User,
		password: cfg.Password,
		mailbox:  mailbox,
	}
}

func (c *Client) connect() (*imapclient.Client, error) {
	var (
		client *imapclient.Client
		err    error
	)
	if c.tls {
		client, err = imapclient.DialTLS(c.addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(c.addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", c.addr, err)
	}

	if err := client.Login(c.user, c.password).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("IMAP login as %s: %w", c.user, err)
	}
	return client, nil
}

// FetchUnseen 拉取 since 之后的未读邮件原文。
//
// 使用 BODY.PEEK[]，不会给邮件打上 \Seen 标记。
func (c *Client) FetchUnseen(ctx context.Context, since time.Time) ([][]byte, error) {
	client, err := c.connect()
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	// imapclient 的命令不接收 context，取消时直接断开连接
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	if _, err := client.Select(c.mailbox, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return nil, fmt.Errorf("selecting %s: %w", c.mailbox, err)
	}

	criteria := &imap.SearchCriteria{
		Since:   since,
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	raws, skipped := collectBodies(func() messageCollector {
		if msg := fetchCmd.Next(); msg != nil {
			return msg
		}
		return nil
	}, bodySection, c.logger)
	if skipped > 0 {
		c.logger.Warn("部分邮件读取失败，下次轮询重试",
			zap.String("mailbox", c.mailbox),
			zap.Int("skipped", skipped),
			zap.Int("fetched", len(raws)),
		)
	}

	if err := fetchCmd.Close(); err != nil {
		return raws, fmt.Errorf("fetching messages: %w", err)
	}
	return raws, ctx.Err()
}

type messageCollector interface {
	Collect() (*imapclient.FetchMessageBuffer, error)
}

// collectBodies 读取每封邮件的正文，单封失败记录日志后跳过
func collectBodies(next func() messageCollector, section *imap.FetchItemBodySection, logger *zap.Logger) ([][]byte, int) {
	var (
		raws    [][]byte
		skipped int
	)
	for msg := next(); msg != nil; msg = next() {
		buf, err := msg.Collect()
		if err != nil {
			skipped++
			logger.Warn("读取 IMAP 邮件失败", zap.Error(err))
			continue
		}
		if raw := buf.FindBodySection(section); len(raw) > 0 {
			raws = append(raws, raw)
		}
	}
	return raws, skipped
}

// ErrNotConfigured 未配置 IMAP 服务器
var ErrNotConfigured = errors.New("imap server not configured")

// SettingsSource 提供当前生效的邮件服务器配置
type SettingsSource interface {
	Effective(ctx context.Context) (*domain.MailSettings, error)
}

// SettingsFetcher 每次轮询时读取最新配置，后台修改 IMAP 设置后无需重启
type SettingsFetcher struct {
	settings SettingsSource
	mailbox  string
	logger   *zap.Logger
}

// NewSettingsFetcher 创建按运行时配置连接的拉取器
func NewSettingsFetcher(settings SettingsSource, mailbox string, logger *zap.Logger) *SettingsFetcher {
	return &SettingsFetcher{settings: settings, mailbox: mailbox, logger: logger}
}

// FetchUnseen 使用当前配置拉取未读邮件
func (f *SettingsFetcher) FetchUnseen(ctx context.Context, since time.Time) ([][]byte, error) {
	s, err := f.settings.Effective(ctx)
	if err != nil {
		return nil, fmt.Errorf("load mail settings: %w", err)
	}
	if s.IMAPHost == "" || s.IMAPUser == "" {
		return nil, ErrNotConfigured
	}

	port := s.IMAPPort
	if port == 0 {
		port = 993
	}
	client := NewClient(config.IMAPConfig{
		Host:     s.IMAPHost,
		Port:     port,
		TLS:      s.IMAPTLS,
		User:     s.IMAPUser,
		Password: s.IMAPPassword,
		Mailbox:  f.mailbox,
	}, f.logger)
	return client.FetchUnseen(ctx, since)
}
