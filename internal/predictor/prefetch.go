package predictor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/20lawsobk/maxbooster7.5-sub001/internal/cache"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/events"
)

const (
	defaultQueueSize   = 256
	defaultConcurrency = 4
)

// ErrClosed 表示预取器已经关闭。
var ErrClosed = errors.New("prefetcher closed")

// Target 是预取结果的落点，通常是 *cache.Cache。
type Target interface {
	Contains(ctx context.Context, key string) bool
	Set(ctx context.Context, key string, data []byte, opts cache.SetOptions) error
}

// Loader 按资源 id 加载数据。
type Loader func(ctx context.Context, id string) ([]byte, error)

// PrefetchOptions 控制队列容量与并发度。
type PrefetchOptions struct {
	QueueSize   int
	Concurrency int
	Logger      *logrus.Logger
	Observer    events.Observer
}

// PrefetchStats 是预取器的计数快照。
type PrefetchStats struct {
	Pending int   `json:"pending"`
	Loaded  int64 `json:"loaded"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
}

type job struct {
	id     string
	batch  string
	loader Loader
}

// Prefetcher 通过有界队列把预测结果写入 Target。
type Prefetcher struct {
	target   Target
	opts     PrefetchOptions
	logger   *logrus.Logger
	observer events.Observer
	queue    chan job
	sem      *semaphore.Weighted

	mu      sync.Mutex
	pending map[string]struct{}
	idle    chan struct{}
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}

	loaded  atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// NewPrefetcher 创建预取器；调用 Start 后才开始消费队列。
func NewPrefetcher(target Target, opts PrefetchOptions) *Prefetcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	observer := opts.Observer
	if observer == nil {
		observer = events.Nop
	}
	idle := make(chan struct{})
	close(idle)
	return &Prefetcher{
		target:   target,
		opts:     opts,
		logger:   logger,
		observer: observer,
		queue:    make(chan job, opts.QueueSize),
		sem:      semaphore.NewWeighted(int64(opts.Concurrency)),
		pending:  make(map[string]struct{}),
		idle:     idle,
	}
}

// Start 启动消费循环；重复调用无效果，关闭后调用返回 ErrClosed。
func (p *Prefetcher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
	return nil
}

// Close 停止消费循环并等待进行中的加载结束，未处理的队列项被丢弃。
func (p *Prefetcher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
		return
	}
	p.discardQueued()
}

// Preload 将未缓存且未排队的 id 放入队列，返回实际入队的数量。队列已满的 id 被丢弃并上报。
func (p *Prefetcher) Preload(ctx context.Context, ids []string, loader Loader) int {
	if loader == nil || len(ids) == 0 {
		return 0
	}
	batch := uuid.NewString()
	enqueued, skipped := 0, 0
	var dropped []string

	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if p.target.Contains(ctx, id) {
			skipped++
			continue
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			break
		}
		if _, queued := p.pending[id]; queued {
			p.mu.Unlock()
			skipped++
			continue
		}
		select {
		case p.queue <- job{id: id, batch: batch, loader: loader}:
			p.markPendingLocked(id)
			enqueued++
		default:
			dropped = append(dropped, id)
		}
		p.mu.Unlock()
	}

	for _, id := range dropped {
		p.dropped.Add(1)
		p.observer.Observe(events.Event{Type: events.PrefetchDropped, Key: id, Reason: "queue_full"})
	}
	p.logger.WithFields(logrus.Fields{
		"action":   "prefetch_enqueue",
		"batch":    batch,
		"enqueued": enqueued,
		"skipped":  skipped,
		"dropped":  len(dropped),
	}).Debug("prefetch batch queued")
	return enqueued
}

// Wait 阻塞直到当前排队与进行中的预取全部结束，或 ctx 结束。
func (p *Prefetcher) Wait(ctx context.Context) error {
	p.mu.Lock()
	idle := p.idle
	p.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending 返回排队与进行中的 id 数。
func (p *Prefetcher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Stats 返回计数快照。
func (p *Prefetcher) Stats() PrefetchStats {
	return PrefetchStats{
		Pending: p.Pending(),
		Loaded:  p.loaded.Load(),
		Failed:  p.failed.Load(),
		Dropped: p.dropped.Load(),
	}
}

func (p *Prefetcher) run(ctx context.Context, done chan struct{}) {
	var inflight sync.WaitGroup
	defer func() {
		inflight.Wait()
		p.discardQueued()
		close(done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case j := <-p.queue:
			if err := p.sem.Acquire(ctx, 1); err != nil {
				p.finish(j.id)
				return
			}
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				defer p.sem.Release(1)
				p.load(ctx, j)
			}()
		}
	}
}

func (p *Prefetcher) load(ctx context.Context, j job) {
	defer p.finish(j.id)

	if p.target.Contains(ctx, j.id) {
		return
	}
	data, err := j.loader(ctx, j.id)
	if err == nil {
		err = p.target.Set(ctx, j.id, data, cache.SetOptions{Tags: []string{cache.PreloadedTag}})
	}
	if err != nil {
		p.failed.Add(1)
		p.logger.WithFields(logrus.Fields{
			"action": "prefetch_load",
			"batch":  j.batch,
			"key":    j.id,
		}).WithError(err).Warn("prefetch failed")
		p.observer.Observe(events.Event{Type: events.PrefetchFailed, Key: j.id, Err: err})
		return
	}
	p.loaded.Add(1)
	p.observer.Observe(events.Event{Type: events.PrefetchLoaded, Key: j.id, Bytes: len(data)})
}

func (p *Prefetcher) discardQueued() {
	for {
		select {
		case j := <-p.queue:
			p.finish(j.id)
		default:
			return
		}
	}
}

func (p *Prefetcher) markPendingLocked(id string) {
	if len(p.pending) == 0 {
		p.idle = make(chan struct{})
	}
	p.pending[id] = struct{}{}
}

func (p *Prefetcher) finish(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pending[id]; !ok {
		return
	}
	delete(p.pending, id)
	if len(p.pending) == 0 {
		close(p.idle)
	}
}
