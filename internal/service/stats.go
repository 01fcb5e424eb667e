package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailport/backend/internal/cache"
	"mailport/backend/internal/domain"
	"mailport/backend/internal/storage"
)

const (
	statsCacheTTL   = 30 * time.Second
	topLimit        = 10
	monthlyBuckets  = 12
	weeklyBuckets   = 4
	dailyActionDays = 30
	statsQueryLimit = 4
)

var statsCacheKeys = []string{"stats:dashboard", "stats:actions", "stats:system"}

// SharedCache 多实例共享的统计缓存
type SharedCache interface {
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dst any) error
	DeleteJSON(ctx context.Context, keys ...string) error
}

// StatsService 仪表盘统计，结果短时间缓存
type StatsService struct {
	store  storage.Store
	cache  *cache.LocalCache
	shared SharedCache
	logger *zap.Logger
	now    func() time.Time
}

// NewStatsService 创建统计服务，cache 为 nil 时不缓存
func NewStatsService(store storage.Store, localCache *cache.LocalCache, logger *zap.Logger) *StatsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsService{
		store:  store,
		cache:  localCache,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetSharedCache 启用 Redis 时让多个实例共用统计结果
func (s *StatsService) SetSharedCache(shared SharedCache) {
	s.shared = shared
}

// EmailStatus 按状态统计邮件数
func (s *StatsService) EmailStatus(ctx context.Context) (*domain.EmailStatusStats, error) {
	var out domain.EmailStatusStats
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(statsQueryLimit)

	targets := []struct {
		status domain.EmailStatus
		dst    *int
	}{
		{"", &out.Total},
		{domain.StatusUnread, &out.Unread},
		{domain.StatusRead, &out.Read},
		{domain.StatusForwarded, &out.Forwarded},
		{domain.StatusReplied, &out.Replied},
	}
	for _, t := range targets {
		t := t
		g.Go(func() error {
			n, err := s.store.CountEmails(ctx, domain.EmailCountFilter{Status: t.status})
			*t.dst = n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}

// Dashboard 邮件总览
func (s *StatsService) Dashboard(ctx context.Context) (*domain.DashboardStats, error) {
	return loadStats(ctx, s, "stats:dashboard", s.dashboard)
}

func (s *StatsService) dashboard(ctx context.Context) (*domain.DashboardStats, error) {
	now := s.now()
	today := startOfDay(now)
	week := today.AddDate(0, 0, -int(today.Weekday()))
	month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	out := &domain.DashboardStats{
		Monthly: make([]domain.TimeBucket, monthlyBuckets),
		Weekly:  make([]domain.TimeBucket, weeklyBuckets),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statsQueryLimit)

	g.Go(func() error {
		general, err := s.EmailStatus(gctx)
		if err == nil {
			out.General = *general
		}
		return err
	})
	s.countSince(gctx, g, today, &out.Period.Today)
	s.countSince(gctx, g, week, &out.Period.ThisWeek)
	s.countSince(gctx, g, month, &out.Period.ThisMonth)

	g.Go(func() error {
		top, err := s.store.TopSenderDomains(gctx, topLimit)
		out.TopDomains = top
		return err
	})
	g.Go(func() error {
		top, err := s.store.TopCompanies(gctx, topLimit)
		out.TopCompanies = top
		return err
	})

	for i := 0; i < monthlyBuckets; i++ {
		start := month.AddDate(0, i-(monthlyBuckets-1), 0)
		out.Monthly[i] = domain.TimeBucket{Label: start.Format("2006-01"), Start: start}
		s.countBetween(gctx, g, start, start.AddDate(0, 1, 0), &out.Monthly[i].Count)
	}
	for i := 0; i < weeklyBuckets; i++ {
		start := week.AddDate(0, 0, 7*(i-(weeklyBuckets-1)))
		out.Weekly[i] = domain.TimeBucket{Label: start.Format("2006-01-02"), Start: start}
		s.countBetween(gctx, g, start, start.AddDate(0, 0, 7), &out.Weekly[i].Count)
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if out.TopDomains == nil {
		out.TopDomains = []domain.NamedCount{}
	}
	if out.TopCompanies == nil {
		out.TopCompanies = []domain.NamedCount{}
	}
	return out, nil
}

// Actions 操作日志统计
func (s *StatsService) Actions(ctx context.Context) (*domain.ActionStats, error) {
	return loadStats(ctx, s, "stats:actions", s.actions)
}

func (s *StatsService) actions(ctx context.Context) (*domain.ActionStats, error) {
	out := &domain.ActionStats{}
	since := startOfDay(s.now()).AddDate(0, 0, -dailyActionDays)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statsQueryLimit)

	counts := []struct {
		types []domain.ActionType
		dst   *int
	}{
		{nil, &out.Total},
		{[]domain.ActionType{domain.ActionForward}, &out.Forward},
		{[]domain.ActionType{domain.ActionReply}, &out.Reply},
		{[]domain.ActionType{domain.ActionEditCompany, domain.ActionEditSender}, &out.Edit},
	}
	for _, c := range counts {
		c := c
		g.Go(func() error {
			n, err := s.store.CountActions(gctx, domain.ActionCountFilter{Types: c.types})
			*c.dst = n
			return err
		})
	}
	g.Go(func() error {
		daily, err := s.store.DailyActionCounts(gctx, since)
		out.DailyActions = daily
		return err
	})
	g.Go(func() error {
		ips, err := s.store.TopActionIPs(gctx, topLimit)
		out.TopUserIPs = ips
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if out.DailyActions == nil {
		out.DailyActions = []domain.DailyActionCount{}
	}
	if out.TopUserIPs == nil {
		out.TopUserIPs = []domain.NamedCount{}
	}
	return out, nil
}

// System 用户与存储统计
func (s *StatsService) System(ctx context.Context) (*domain.SystemStats, error) {
	return loadStats(ctx, s, "stats:system", s.system)
}

func (s *StatsService) system(ctx context.Context) (*domain.SystemStats, error) {
	out := &domain.SystemStats{}
	yes := true

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statsQueryLimit)

	g.Go(func() error {
		users, err := s.store.CountUsers(gctx)
		out.Users = users
		return err
	})
	g.Go(func() error {
		n, err := s.store.CountEmails(gctx, domain.EmailCountFilter{HasAttachments: &yes})
		out.EmailsWithAttachments = n
		return err
	})
	g.Go(func() error {
		n, err := s.store.CountEmails(gctx, domain.EmailCountFilter{SenderManual: &yes})
		out.ManualSenderEdits = n
		return err
	})
	g.Go(func() error {
		n, err := s.store.CountEmails(gctx, domain.EmailCountFilter{CompanyManual: &yes})
		out.ManualCompanyEdits = n
		return err
	})
	g.Go(func() error {
		size, err := s.store.DatabaseSize(gctx)
		if err != nil {
			s.logger.Warn("获取数据库大小失败", zap.Error(err))
			return nil
		}
		out.DatabaseSizeBytes = size
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Invalidate 清除缓存的统计结果
func (s *StatsService) Invalidate() {
	if s.cache != nil {
		s.cache.Clear()
	}
	if s.shared != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.shared.DeleteJSON(ctx, statsCacheKeys...); err != nil {
			s.logger.Warn("清除共享统计缓存失败", zap.Error(err))
		}
	}
}

// loadStats 依次查本地缓存、共享缓存，都未命中时计算并回写
func loadStats[T any](ctx context.Context, s *StatsService, key string, compute func(context.Context) (*T, error)) (*T, error) {
	load := func() (any, error) {
		if s.shared != nil {
			var out T
			if err := s.shared.GetJSON(ctx, key, &out); err == nil {
				return &out, nil
			}
		}
		out, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if s.shared != nil {
			if err := s.shared.SetJSON(ctx, key, out, statsCacheTTL); err != nil {
				s.logger.Warn("写入共享统计缓存失败", zap.String("key", key), zap.Error(err))
			}
		}
		return out, nil
	}

	var (
		v   any
		err error
	)
	if s.cache == nil {
		v, err = load()
	} else {
		v, err = s.cache.GetOrLoad(key, statsCacheTTL, load)
	}
	if err != nil {
		return nil, err
	}
	return v.(*T), nil
}

func (s *StatsService) countSince(ctx context.Context, g *errgroup.Group, since time.Time, dst *int) {
	g.Go(func() error {
		n, err := s.store.CountEmails(ctx, domain.EmailCountFilter{Since: &since})
		*dst = n
		return err
	})
}

func (s *StatsService) countBetween(ctx context.Context, g *errgroup.Group, since, until time.Time, dst *int) {
	g.Go(func() error {
		n, err := s.store.CountEmails(ctx, domain.EmailCountFilter{Since: &since, Until: &until})
		*dst = n
		return err
	})
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
