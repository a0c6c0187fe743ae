// Package worker provides the fixed-size task pools that isolate cache-hit
// work from cache-miss work.
package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// 任务通道容量
const queueCapacity = 2048

// Pool 固定大小的协程池。hit/miss 各自独立, 互不窃取任务,
// 避免未命中洪峰饿死命中路径的轻量解压工作。
type Pool struct {
	name   string
	tasks  chan func()
	wg     sync.WaitGroup
	logger *zap.Logger

	stopOnce sync.Once
}

// NewPool 创建并启动 workers 个工作协程
func NewPool(name string, workers int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{
		name:   name,
		tasks:  make(chan func(), queueCapacity),
		logger: logger,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	logger.Info("工作池已创建",
		zap.String("pool", name), zap.Int("workers", workers))
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// Submit enqueues a task, blocking while the queue is full. Returns false
// once the pool has been stopped or ctx is cancelled.
func (p *Pool) Submit(ctx context.Context, task func()) bool {
	select {
	case p.tasks <- task:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stop drains outstanding tasks and waits for the workers to exit.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.tasks)
	})
	p.wg.Wait()
}
