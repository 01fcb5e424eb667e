package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mailport/backend/internal/conversation"
	"mailport/backend/internal/domain"
	"mailport/backend/internal/monitoring"
	"mailport/backend/internal/storage"
)

// ErrBackfillRunning 已有会话整理任务在运行
var ErrBackfillRunning = errors.New("conversation backfill already running")

const (
	defaultBatchSize = 100
	progressEvery    = 50
	backfillLockKey  = "conversation-backfill"
	backfillLockTTL  = 30 * time.Minute
)

// Progress 会话整理进度
type Progress struct {
	Processed     int // 已检查的邮件数
	Organized     int // 已归入会话的邮件数
	Conversations int // 涉及的不同会话数
	Failed        int
	Done          bool
}

// ConversationService 会话归并与查询
type ConversationService struct {
	store     storage.Store
	resolver  *conversation.Resolver
	batchSize int
	locker    storage.Locker
	metrics   *monitoring.Metrics
	logger    *zap.Logger

	running atomic.Bool
}

// NewConversationService 创建会话服务
func NewConversationService(store storage.Store, resolver *conversation.Resolver, batchSize int, logger *zap.Logger) *ConversationService {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationService{
		store:     store,
		resolver:  resolver,
		batchSize: batchSize,
		logger:    logger,
	}
}

// SetLocker 设置跨进程锁，多实例部署时防止整理任务重叠
func (s *ConversationService) SetLocker(locker storage.Locker) {
	s.locker = locker
}

// SetMetrics 设置监控指标
func (s *ConversationService) SetMetrics(metrics *monitoring.Metrics) {
	s.metrics = metrics
}

// OrganizeExisting 为尚未归入会话的历史邮件补齐会话字段
//
// 按 (dateReceived, id) 升序分批处理，后面的邮件能匹配到本轮刚归并的前序邮件。
// 单封邮件失败只记录日志并跳过，下次运行会重新处理。
// 规整后主题为空的邮件写回 {nil, 原始主题, true}，不计入 OrganizedCount。
func (s *ConversationService) OrganizeExisting(ctx context.Context, progress func(Progress)) (*domain.OrganizeResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrBackfillRunning
	}
	defer s.running.Store(false)

	if s.locker != nil {
		release, err := s.locker.TryLock(ctx, backfillLockKey, backfillLockTTL)
		if err != nil {
			if errors.Is(err, storage.ErrLockHeld) {
				return nil, ErrBackfillRunning
			}
			return nil, fmt.Errorf("acquire backfill lock: %w", err)
		}
		defer release()
	}

	start := time.Now()
	result, err := s.organize(ctx, progress)
	if err != nil {
		s.metrics.RecordBackfill("error", result.OrganizedCount)
		s.logger.Error("会话整理中断",
			zap.Int("organized", result.OrganizedCount),
			zap.Error(err),
		)
		return nil, err
	}

	s.metrics.RecordBackfill("success", result.OrganizedCount)
	s.logger.Info("会话整理完成",
		zap.Int("organized", result.OrganizedCount),
		zap.Int("conversations", result.ConversationCount),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}

func (s *ConversationService) organize(ctx context.Context, progress func(Progress)) (*domain.OrganizeResult, error) {
	var (
		cursor *domain.EmailCursor
		state  Progress
		seen   = make(map[string]struct{})
	)
	report := func() {
		if progress != nil {
			state.Conversations = len(seen)
			progress(state)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return &domain.OrganizeResult{OrganizedCount: state.Organized, ConversationCount: len(seen)}, err
		}

		batch, err := s.store.ListUnthreaded(ctx, cursor, s.batchSize)
		if err != nil {
			return &domain.OrganizeResult{OrganizedCount: state.Organized, ConversationCount: len(seen)}, fmt.Errorf("list unthreaded emails: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for i := range batch {
			email := &batch[i]
			state.Processed++

			threaded, err := s.assign(ctx, email, seen)
			switch {
			case err != nil:
				state.Failed++
				s.logger.Warn("邮件会话归并失败",
					zap.String("email_id", email.ID),
					zap.Error(err),
				)
			case threaded:
				state.Organized++
			}

			if state.Processed%progressEvery == 0 {
				report()
			}
		}

		last := batch[len(batch)-1]
		cursor = &domain.EmailCursor{DateReceived: last.DateReceived, ID: last.ID}
		if len(batch) < s.batchSize {
			break
		}
	}

	state.Done = true
	report()

	return &domain.OrganizeResult{OrganizedCount: state.Organized, ConversationCount: len(seen)}, nil
}

// assign 解析并保存单封邮件的会话字段，返回是否归入了会话
//
// 主题规整后为空的邮件同样写回 {nil, 原始主题, true}，但不计入整理数。
func (s *ConversationService) assign(ctx context.Context, email *domain.Email, seen map[string]struct{}) (bool, error) {
	info, err := s.resolver.Detect(ctx, email.SenderEmail, email.Subject)
	if err != nil {
		return false, err
	}

	if err := s.store.UpdateConversation(ctx, email.ID, info); err != nil {
		return false, fmt.Errorf("update conversation: %w", err)
	}
	info.Apply(email)
	if info.ConversationID == nil {
		return false, nil
	}
	seen[*info.ConversationID] = struct{}{}
	return true, nil
}

// GetConversationEmails 按时间升序返回会话中的邮件，未知会话返回空列表
func (s *ConversationService) GetConversationEmails(ctx context.Context, conversationID string) ([]domain.Email, error) {
	if conversationID == "" {
		return []domain.Email{}, nil
	}

	emails, err := s.store.ListConversationEmails(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if emails == nil {
		emails = []domain.Email{}
	}

	users := newUserLoader(s.store)
	for i := range emails {
		users.attach(ctx, &emails[i])
	}
	return emails, nil
}

// GetConversationStats 会话统计
func (s *ConversationService) GetConversationStats(ctx context.Context) (*domain.ConversationStats, error) {
	total, err := s.store.CountEmails(ctx, domain.EmailCountFilter{})
	if err != nil {
		return nil, err
	}

	threaded := true
	conversationEmails, err := s.store.CountEmails(ctx, domain.EmailCountFilter{Threaded: &threaded})
	if err != nil {
		return nil, err
	}

	conversations, err := s.store.CountEmails(ctx, domain.EmailCountFilter{Threaded: &threaded, RootsOnly: true})
	if err != nil {
		return nil, err
	}

	return &domain.ConversationStats{
		TotalEmails:        total,
		ConversationEmails: conversationEmails,
		SingleEmails:       total - conversationEmails,
		Conversations:      conversations,
	}, nil
}
