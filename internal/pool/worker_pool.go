package pool

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrPoolStopped 协程池已停止
var ErrPoolStopped = errors.New("worker pool stopped")

// WorkerPool 协程池
//
// 限制并发处理的任务数量，IMAP 轮询拉取到的邮件经由它交给入库流水线。
type WorkerPool struct {
	maxWorkers int
	taskQueue  chan func(context.Context)
	wg         sync.WaitGroup
	logger     *zap.Logger

	mu      sync.RWMutex
	stopped bool
}

// NewWorkerPool 创建协程池
//
// 参数:
//   - maxWorkers: 最大协程数
//   - queueSize: 任务队列大小
//   - logger: 记录任务 panic，可为 nil
func NewWorkerPool(maxWorkers, queueSize int, logger *zap.Logger) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerPool{
		maxWorkers: maxWorkers,
		taskQueue:  make(chan func(context.Context), queueSize),
		logger:     logger,
	}
}

// Start 启动协程池，ctx 取消后工作协程在当前任务结束时退出
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Submit 提交任务，队列已满时阻塞直到有空位或 ctx 取消
func (p *WorkerPool) Submit(ctx context.Context, task func(context.Context)) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.taskQueue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit 尝试提交任务，队列已满时立即返回 false
func (p *WorkerPool) TrySubmit(task func(context.Context)) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return false
	}

	select {
	case p.taskQueue <- task:
		return true
	default:
		return false
	}
}

// Stop 停止接收任务并等待已入队的任务处理完毕
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.taskQueue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *WorkerPool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.run(ctx, task)
		}
	}
}

func (p *WorkerPool) run(ctx context.Context, task func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker task panicked", zap.Any("panic", r))
		}
	}()
	task(ctx)
}
