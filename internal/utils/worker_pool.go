package utils

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrPoolStopped is returned when submitting to a stopped pool.
var ErrPoolStopped = errors.New("worker pool stopped")

// Job is one unit of work. The context is the one passed to Submit or Do.
type Job func(ctx context.Context) error

type task struct {
	ctx  context.Context
	job  Job
	done chan error
}

// WorkerPool 协程池
//
// With a single worker it is the bot's event loop: jobs run one at a time,
// in submission order, each to completion before the next starts.
type WorkerPool struct {
	jobs      chan task
	workerNum int
	wg        sync.WaitGroup
	quit      chan struct{}
	stopOnce  sync.Once
	logger    *zap.Logger
}

// NewWorkerPool 创建一个新的协程池
func NewWorkerPool(workerNum, queueSize int, logger *zap.Logger) *WorkerPool {
	if workerNum <= 0 {
		workerNum = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerPool{
		jobs:      make(chan task, queueSize),
		workerNum: workerNum,
		quit:      make(chan struct{}),
		logger:    logger,
	}
}

// NewSerialDispatcher returns a started single-worker pool.
func NewSerialDispatcher(queueSize int, logger *zap.Logger) *WorkerPool {
	p := NewWorkerPool(1, queueSize, logger)
	p.Start()
	return p
}

// Start 启动协程池
func (p *WorkerPool) Start() {
	for i := 0; i < p.workerNum; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			for {
				select {
				case t := <-p.jobs:
					p.run(workerID, t)
				case <-p.quit:
					return
				}
			}
		}(i)
	}
	p.logger.Info("worker pool started", zap.Int("workers", p.workerNum))
}

// run 使用 recover 防止单个任务 panic 导致 worker 挂掉
func (p *WorkerPool) run(workerID int, t task) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("job panicked", zap.Int("worker", workerID), zap.Any("panic", r))
				err = fmt.Errorf("job panicked: %v", r)
			}
		}()
		if ctxErr := t.ctx.Err(); ctxErr != nil {
			err = ctxErr
			return
		}
		err = t.job(t.ctx)
	}()
	if t.done != nil {
		t.done <- err
	}
}

func (p *WorkerPool) enqueue(ctx context.Context, t task) error {
	select {
	case <-p.quit:
		return ErrPoolStopped
	default:
	}
	// 队列满时阻塞等待，而不是丢弃
	select {
	case p.jobs <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolStopped
	}
}

// Submit queues job without waiting for it to run. Errors returned by the
// job are logged.
func (p *WorkerPool) Submit(ctx context.Context, job Job) error {
	return p.enqueue(ctx, task{ctx: ctx, job: func(ctx context.Context) error {
		if err := job(ctx); err != nil {
			p.logger.Warn("job failed", zap.Error(err))
		}
		return nil
	}})
}

// Do queues job and waits for its result.
func (p *WorkerPool) Do(ctx context.Context, job Job) error {
	done := make(chan error, 1)
	if err := p.enqueue(ctx, task{ctx: ctx, job: job, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolStopped
	}
}

// Stop 停止协程池。Jobs still queued are dropped; the running one finishes.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
	})
	p.wg.Wait()
}
