package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"mailport/backend/internal/domain"
)

var (
	// ErrCircuitOpen 连续发送失败后暂停外发
	ErrCircuitOpen = errors.New("smtp circuit breaker open")
	// ErrNoRecipients 没有收件人
	ErrNoRecipients = errors.New("no recipients")
)

const defaultDialTimeout = 15 * time.Second

// Sender 通过 SMTP 发送邮件，连续失败时熔断
type Sender struct {
	breaker  *gobreaker.CircuitBreaker
	hostname string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewSender 创建发信器，hostname 用于 EHLO 和 Message-ID
func NewSender(hostname string, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if hostname == "" {
		hostname = "localhost"
	}

	settings := gobreaker.Settings{
		Name:        "smtp-outbound",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("SMTP 熔断状态变化",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &Sender{
		breaker:  gobreaker.NewCircuitBreaker(settings),
		hostname: hostname,
		timeout:  defaultDialTimeout,
		logger:   logger,
	}
}

// Send 发送一封邮件
func (s *Sender) Send(ctx context.Context, server domain.SMTPServer, msg domain.OutboundMessage) error {
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}

	raw, err := Compose(msg, s.hostname)
	if err != nil {
		return fmt.Errorf("compose message: %w", err)
	}

	_, err = s.breaker.Execute(func() (interface{}, error) {
		return nil, s.deliver(ctx, server, msg.From, msg.To, raw)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	if err != nil {
		s.logger.Warn("邮件发送失败",
			zap.String("host", server.Host),
			zap.Strings("to", msg.To),
			zap.Error(err),
		)
		return err
	}

	s.logger.Info("邮件已发送",
		zap.String("host", server.Host),
		zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return nil
}

func (s *Sender) deliver(ctx context.Context, server domain.SMTPServer, from string, to []string, raw []byte) error {
	c, err := s.dial(ctx, server)
	if err != nil {
		return err
	}
	defer c.Close()

	if server.User != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(sasl.NewPlainClient("", server.User, server.Password)); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	if err := c.Mail(from, nil); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt, nil); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}
	return c.Quit()
}

// dial 建立连接：Secure 时使用隐式 TLS，否则在服务器支持时升级 STARTTLS
func (s *Sender) dial(ctx context.Context, server domain.SMTPServer) (*gosmtp.Client, error) {
	addr := net.JoinHostPort(server.Host, strconv.Itoa(server.Port))
	dialer := &net.Dialer{Timeout: s.timeout}
	tlsConfig := &tls.Config{ServerName: server.Host, MinVersion: tls.VersionTLS12}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial smtp %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(2 * s.timeout))
	}

	if server.Secure {
		conn = tls.Client(conn, tlsConfig)
	}

	c := gosmtp.NewClient(conn)
	if err := c.Hello(s.hostname); err != nil {
		c.Close()
		return nil, fmt.Errorf("smtp hello: %w", err)
	}
	if !server.Secure {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsConfig); err != nil {
				c.Close()
				return nil, fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}
	return c, nil
}

// Compose 生成 RFC 5322 邮件，正文为 text/plain，存在 HTML 时附加 text/html
func Compose(msg domain.OutboundMessage, hostname string) ([]byte, error) {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetSubject(msg.Subject)
	h.SetMessageID(strings.ReplaceAll(uuid.NewString(), "-", "") + "@" + hostname)

	from, err := parseAddresses([]string{msg.From})
	if err != nil {
		return nil, err
	}
	h.SetAddressList("From", from)

	to, err := parseAddresses(msg.To)
	if err != nil {
		return nil, err
	}
	h.SetAddressList("To", to)

	var buf bytes.Buffer
	w, err := mail.CreateInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}

	if err := writePart(w, "text/plain", msg.Text); err != nil {
		return nil, err
	}
	if msg.HTML != "" {
		if err := writePart(w, "text/html", msg.HTML); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writePart(w *mail.InlineWriter, contentType, body string) error {
	var h mail.InlineHeader
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	pw, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(pw, body); err != nil {
		pw.Close()
		return err
	}
	return pw.Close()
}

func parseAddresses(list []string) ([]*mail.Address, error) {
	out := make([]*mail.Address, 0, len(list))
	for _, raw := range list {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		addr, err := mail.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", raw, err)
		}
		out = append(out, addr)
	}
	return out, nil
}
