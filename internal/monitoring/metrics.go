package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 入库结果标签
const (
	IngestStored    = "stored"
	IngestDuplicate = "duplicate"
	IngestFailed    = "failed"
)

// Metrics 监控指标
//
// 所有记录方法对 nil 接收者安全，未启用监控的组件可以直接传 nil。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 邮件入库指标
	EmailsIngested      *prometheus.CounterVec
	AttachmentsFailed   prometheus.Counter
	EmailProcessingTime prometheus.Histogram

	// 会话整理指标
	BackfillRuns      *prometheus.CounterVec
	BackfillOrganized prometheus.Counter

	// 收发信指标
	OutboundMails *prometheus.CounterVec
	IMAPPolls     *prometheus.CounterVec

	// 错误与限流
	PanicsTotal     prometheus.Counter
	RateLimitBlocks *prometheus.CounterVec
}

// NewMetrics 在独立的注册表上创建监控指标，reg 为 nil 时新建注册表并注册运行时采集器
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailport_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailport_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		EmailsIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailport_emails_ingested_total",
				Help: "Inbound emails by ingestion result",
			},
			[]string{"source", "result"},
		),

		AttachmentsFailed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailport_attachments_failed_total",
				Help: "Attachments skipped because they could not be stored",
			},
		),

		EmailProcessingTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailport_email_processing_duration_seconds",
				Help:    "Email ingestion duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		BackfillRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailport_backfill_runs_total",
				Help: "Conversation backfill runs by result",
			},
			[]string{"result"},
		),

		BackfillOrganized: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailport_backfill_organized_total",
				Help: "Emails assigned to a conversation by the backfill",
			},
		),

		OutboundMails: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailport_outbound_mails_total",
				Help: "Outbound mails by kind and result",
			},
			[]string{"kind", "result"},
		),

		IMAPPolls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailport_imap_polls_total",
				Help: "IMAP poll cycles by result",
			},
			[]string{"result"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailport_panics_total",
				Help: "Total number of recovered panics",
			},
		),

		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailport_rate_limit_blocks_total",
				Help: "Requests rejected by a rate limiter",
			},
			[]string{"type"},
		),
	}
}

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordIngest 记录一封邮件的入库结果
func (m *Metrics) RecordIngest(source, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.EmailsIngested.WithLabelValues(source, result).Inc()
	if result == IngestStored {
		m.EmailProcessingTime.Observe(duration.Seconds())
	}
}

// RecordAttachmentFailed 记录附件保存失败
func (m *Metrics) RecordAttachmentFailed() {
	if m == nil {
		return
	}
	m.AttachmentsFailed.Inc()
}

// RecordBackfill 记录一次会话整理
func (m *Metrics) RecordBackfill(result string, organized int) {
	if m == nil {
		return
	}
	m.BackfillRuns.WithLabelValues(result).Inc()
	m.BackfillOrganized.Add(float64(organized))
}

// RecordOutbound 记录一次外发邮件
func (m *Metrics) RecordOutbound(kind string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.OutboundMails.WithLabelValues(kind, result).Inc()
}

// RecordIMAPPoll 记录一次 IMAP 轮询
func (m *Metrics) RecordIMAPPoll(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.IMAPPolls.WithLabelValues(result).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(limitType).Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
