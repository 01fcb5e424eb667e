package smtp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"mailport/backend/internal/config"
	"mailport/backend/internal/domain"
	"mailport/backend/internal/inbound"
	"mailport/backend/internal/monitoring"
)

const ingestTimeout = 30 * time.Second

// Ingester 接收解析后的邮件
type Ingester interface {
	ProcessEmail(ctx context.Context, msg domain.InboundMessage) (*domain.Email, error)
}

// Backend 实现 go-smtp 的 Backend 接口。
//
// 只接收发往被监控收件箱的邮件，不做任何转发，其他收件人一律 550 拒绝。
type Backend struct {
	ingester Ingester
	owner    string
	limiter  *ConnectionLimiter
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// NewBackend 创建 SMTP Backend，limiter 可为 nil
func NewBackend(ingester Ingester, ownerAddress string, limiter *ConnectionLimiter, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		ingester: ingester,
		owner:    normalizeAddress(ownerAddress),
		limiter:  limiter,
		logger:   logger,
	}
}

// SetMetrics 设置监控指标
func (b *Backend) SetMetrics(metrics *monitoring.Metrics) {
	b.metrics = metrics
}

// NewServer 按配置创建收信服务器
func NewServer(cfg config.SMTPConfig, backend *Backend) *gosmtp.Server {
	s := gosmtp.NewServer(backend)
	s.Addr = cfg.IntakeBindAddr
	s.Domain = cfg.IntakeDomain
	s.ReadTimeout = 60 * time.Second
	s.WriteTimeout = 60 * time.Second
	s.MaxMessageBytes = inbound.MaxMessageSize
	s.MaxRecipients = 50
	return s
}

// NewSession 创建新的 SMTP 会话。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	ip := remoteIP(c.Conn().RemoteAddr())
	if b.limiter != nil && !b.limiter.Acquire(ip) {
		b.metrics.RecordRateLimitBlock("smtp")
		b.logger.Warn("SMTP 连接被限流", zap.String("ip", ip))
		return nil, &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
			Message:      "too many connections, try again later",
		}
	}
	return &session{backend: b, ip: ip}, nil
}

type session struct {
	backend  *Backend
	ip       string
	from     string
	accepted bool
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = normalizeAddress(from)
	return nil
}

// Rcpt 只接受收件箱地址
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := normalizeAddress(to)
	if !strings.Contains(addr, "@") {
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}
	if addr != s.backend.owner {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "relay access denied",
		}
	}
	s.accepted = true
	return nil
}

// Data 解析邮件并交给入库流程。
func (s *session) Data(r io.Reader) error {
	if !s.accepted {
		return &gosmtp.SMTPError{
			Code:         503,
			EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
			Message:      "no valid recipients",
		}
	}

	raw, err := io.ReadAll(io.LimitReader(r, inbound.MaxMessageSize+1))
	if err != nil {
		return err
	}
	if len(raw) > inbound.MaxMessageSize {
		return gosmtp.ErrDataTooLarge
	}

	msg, err := inbound.Parse(bytes.NewReader(raw))
	if err != nil {
		s.backend.logger.Warn("邮件解析失败", zap.String("from", s.from), zap.Error(err))
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
			Message:      "malformed message",
		}
	}
	msg.Source = "smtp"
	if msg.FromAddress == "" {
		msg.FromAddress = s.from
	}

	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	if _, err := s.backend.ingester.ProcessEmail(ctx, *msg); err != nil {
		s.backend.logger.Error("SMTP 邮件入库失败",
			zap.String("from", s.from),
			zap.String("message_id", msg.MessageID),
			zap.Error(err),
		)
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "temporary failure, try again later",
		}
	}
	return nil
}

// Reset 重置状态。
func (s *session) Reset() {
	s.from = ""
	s.accepted = false
}

// Logout 会话结束。
func (s *session) Logout() error {
	if s.backend.limiter != nil {
		s.backend.limiter.Release(s.ip)
	}
	return nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	return strings.ToLower(addr)
}

func remoteIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// IsClosed 判断是否为服务器正常关闭
func IsClosed(err error) bool {
	return errors.Is(err, gosmtp.ErrServerClosed) || errors.Is(err, net.ErrClosed)
}
