package imap

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mailport/backend/internal/config"
	"mailport/backend/internal/domain"
	"mailport/backend/internal/inbound"
	"mailport/backend/internal/monitoring"
	"mailport/backend/internal/pool"
)

const ingestTimeout = 30 * time.Second

// Fetcher 拉取收件箱中的未读邮件
type Fetcher interface {
	FetchUnseen(ctx context.Context, since time.Time) ([][]byte, error)
}

// Ingester 接收解析后的邮件
type Ingester interface {
	ProcessEmail(ctx context.Context, msg domain.InboundMessage) (*domain.Email, error)
}

// Poller 定时轮询收件箱，把新邮件交给协程池入库
type Poller struct {
	fetcher  Fetcher
	ingester Ingester
	pool     *pool.WorkerPool
	interval time.Duration
	window   time.Duration
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewPoller 创建轮询器，workers 需由调用方启动
func NewPoller(fetcher Fetcher, ingester Ingester, workers *pool.WorkerPool, cfg config.IMAPConfig, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Minute
	}
	window := cfg.SinceWindow
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	return &Poller{
		fetcher:  fetcher,
		ingester: ingester,
		pool:     workers,
		interval: interval,
		window:   window,
		logger:   logger,
		now:      time.Now,
	}
}

// SetMetrics 设置监控指标
func (p *Poller) SetMetrics(metrics *monitoring.Metrics) {
	p.metrics = metrics
}

// Run 立即轮询一次，之后按间隔轮询直到 ctx 取消
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("IMAP 轮询失败", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll 执行一次轮询，返回提交到协程池的邮件数
func (p *Poller) Poll(ctx context.Context) (int, error) {
	raws, err := p.fetcher.FetchUnseen(ctx, p.now().Add(-p.window))
	p.metrics.RecordIMAPPoll(err)
	if err != nil && len(raws) == 0 {
		return 0, err
	}
	if len(raws) > 0 {
		p.logger.Info("发现新邮件", zap.Int("count", len(raws)))
	}

	submitted := 0
	for _, raw := range raws {
		if err := p.pool.Submit(ctx, func(ctx context.Context) { p.ingest(ctx, raw) }); err != nil {
			return submitted, err
		}
		submitted++
	}
	return submitted, err
}

func (p *Poller) ingest(ctx context.Context, raw []byte) {
	msg, err := inbound.ParseBytes(raw)
	if err != nil {
		p.metrics.RecordIngest("imap", monitoring.IngestFailed, 0)
		p.logger.Warn("邮件解析失败", zap.Error(err))
		return
	}
	msg.Source = "imap"

	ctx, cancel := context.WithTimeout(ctx, ingestTimeout)
	defer cancel()

	if _, err := p.ingester.ProcessEmail(ctx, *msg); err != nil {
		p.logger.Error("IMAP 邮件入库失败",
			zap.String("message_id", msg.MessageID),
			zap.Error(err),
		)
	}
}
