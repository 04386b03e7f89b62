package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/20lawsobk/maxbooster7.5-sub001/internal/cache"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/events"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/predictor"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/strategy"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/vault"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/versions"
)

// ErrNotInitialized 表示引擎尚未初始化或已关闭。
var ErrNotInitialized = errors.New("engine not initialized")

// ErrClosed 表示引擎已关闭，不能再次初始化。
var ErrClosed = errors.New("engine closed")

// Options 是引擎构建参数，通常由 config.Config 映射而来。
type Options struct {
	MaxMemoryItems int
	Strategy       strategy.Key
	// TTLOverride/SweepInterval 覆盖策略默认值，0 表示沿用策略。
	TTLOverride   time.Duration
	SweepInterval time.Duration
	SweepVault    bool

	// HistoryDepth 为 0 表示不限制历史列表长度。
	HistoryDepth int

	PrefetchQueueSize   int
	PrefetchConcurrency int
	MaxPatternSamples   int
	PatternMaxAge       time.Duration

	MetricsWindow time.Duration
	MetricsBucket time.Duration

	Now func() time.Time
}

// Status 是引擎状态的只读快照。
type Status struct {
	Initialized     bool      `json:"initialized"`
	Strategy        string    `json:"strategy"`
	MemoryItems     int       `json:"memory_items"`
	MaxMemoryItems  int       `json:"max_memory_items"`
	Tags            int       `json:"tags"`
	TaggedKeys      int       `json:"tagged_keys"`
	Resources       int       `json:"versioned_resources"`
	Versions        int       `json:"versions"`
	PrefetchPending int       `json:"prefetch_pending"`
	TrackedUsers    int       `json:"tracked_users"`
	TrackedPatterns int       `json:"tracked_patterns"`
	StartedAt       time.Time `json:"started_at,omitempty"`
	Uptime          string    `json:"uptime,omitempty"`
}

// PrefetchResult 是一次预测预取的结果。
type PrefetchResult struct {
	Predicted []string `json:"predicted"`
	Enqueued  int      `json:"enqueued"`
}

// Engine 持有缓存、版本存储与预测器，并统一管理其生命周期。
type Engine struct {
	opts    Options
	profile strategy.Profile
	vault   vault.Vault
	logger  *logrus.Logger
	now     func() time.Time
	hub     *events.Hub
	metrics *collector

	mu          sync.RWMutex
	initialized bool
	closed      bool
	startedAt   time.Time
	cache       *cache.Cache
	versions    *versions.Store
	predictor   *predictor.Predictor
	prefetcher  *predictor.Prefetcher
}

// New 校验参数并构建引擎，不做任何 I/O；使用前需调用 Initialize。
func New(opts Options, v vault.Vault, logger *logrus.Logger) (*Engine, error) {
	if v == nil {
		return nil, errors.New("vault is required")
	}
	if opts.MaxMemoryItems <= 0 {
		return nil, fmt.Errorf("invalid max memory items: %d", opts.MaxMemoryItems)
	}
	if opts.HistoryDepth < 0 {
		return nil, fmt.Errorf("invalid history depth: %d", opts.HistoryDepth)
	}
	key := opts.Strategy
	if key == "" {
		key = strategy.DefaultKey()
	}
	profile, ok := strategy.Lookup(string(key))
	if !ok {
		return nil, fmt.Errorf("unknown cache strategy: %s", key)
	}
	profile = strategy.Resolve(profile, strategy.Options{
		TTLOverride:   opts.TTLOverride,
		SweepOverride: opts.SweepInterval,
	})
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	opts.Now = now

	return &Engine{
		opts:    opts,
		profile: profile,
		vault:   v,
		logger:  logger,
		now:     now,
		hub:     events.NewHub(),
		metrics: newCollector(opts.MetricsWindow, opts.MetricsBucket, now),
	}, nil
}

// Initialize 恢复标签索引与版本索引并启动后台任务；重复调用无效果。
// 后台任务只在全部索引加载成功后启动；任一步失败都返回错误，引擎保持未初始化状态。
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.initialized {
		return nil
	}

	observer := events.Multi(e.metrics, e.hub)

	c, err := cache.New(e.vault, cache.Options{
		MaxMemoryItems: e.opts.MaxMemoryItems,
		Strategy:       e.profile,
		SweepVault:     e.opts.SweepVault,
		Logger:         e.logger,
		Observer:       observer,
		Now:            e.now,
	})
	if err != nil {
		return fmt.Errorf("initialize cache: %w", err)
	}
	store, err := versions.New(e.vault, versions.Options{
		HistoryDepth: e.opts.HistoryDepth,
		Logger:       e.logger,
		Observer:     observer,
		Now:          e.now,
	})
	if err != nil {
		return fmt.Errorf("initialize version store: %w", err)
	}

	if err := c.LoadIndex(ctx); err != nil {
		return fmt.Errorf("initialize cache: %w", err)
	}
	if err := store.Load(ctx); err != nil {
		return fmt.Errorf("initialize version store: %w", err)
	}

	prefetcher := predictor.NewPrefetcher(c, predictor.PrefetchOptions{
		QueueSize:   e.opts.PrefetchQueueSize,
		Concurrency: e.opts.PrefetchConcurrency,
		Logger:      e.logger,
		Observer:    observer,
	})
	// 后台任务不跟随 Initialize 的 ctx 结束，由 Close 停止。
	background := context.WithoutCancel(ctx)
	if err := prefetcher.Start(background); err != nil {
		return fmt.Errorf("initialize prefetcher: %w", err)
	}
	c.StartSweeper(background)

	e.cache = c
	e.versions = store
	e.predictor = predictor.New(predictor.Options{
		MaxSamples:   e.opts.MaxPatternSamples,
		MaxSampleAge: e.opts.PatternMaxAge,
		Now:          e.now,
	})
	e.prefetcher = prefetcher
	e.startedAt = e.now()
	e.initialized = true

	e.logger.WithFields(logrus.Fields{
		"action":           "engine_init",
		"strategy":         e.profile.Key,
		"max_memory_items": e.opts.MaxMemoryItems,
		"history_depth":    e.opts.HistoryDepth,
		"sweep_interval":   e.profile.SweepInterval.String(),
	}).Info("engine initialized")
	return nil
}

// Close 持久化索引、停止后台任务并释放 vault；对未初始化或部分初始化的引擎同样安全。
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var errs []error
	if e.prefetcher != nil {
		e.prefetcher.Close()
	}
	if e.cache != nil {
		e.cache.StopSweeper()
		if err := e.cache.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush tag index: %w", err))
		}
	}
	if e.versions != nil {
		if err := e.versions.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush version index: %w", err))
		}
	}
	if err := vault.Close(e.vault); err != nil {
		errs = append(errs, fmt.Errorf("close vault: %w", err))
	}

	wasInitialized := e.initialized
	e.initialized = false
	e.cache, e.versions, e.predictor, e.prefetcher = nil, nil, nil, nil

	err := errors.Join(errs...)
	entry := e.logger.WithFields(logrus.Fields{
		"action":      "engine_close",
		"initialized": wasInitialized,
	})
	if err != nil {
		entry.WithError(err).Warn("engine closed with errors")
	} else {
		entry.Info("engine closed")
	}
	return err
}

// Get 读取缓存。
func (e *Engine) Get(ctx context.Context, key string) ([]byte, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return nil, false, ErrNotInitialized
	}
	data, ok := e.cache.Get(ctx, key)
	return data, ok, nil
}

// Peek 返回内存层条目的元数据（不含数据）。
func (e *Engine) Peek(key string) (cache.Entry, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return cache.Entry{}, false, ErrNotInitialized
	}
	entry, ok := e.cache.Peek(key)
	return entry, ok, nil
}

// Set 写穿缓存。
func (e *Engine) Set(ctx context.Context, key string, data []byte, opts cache.SetOptions) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return ErrNotInitialized
	}
	return e.cache.Set(ctx, key, data, opts)
}

// Invalidate 失效单个 key。
func (e *Engine) Invalidate(ctx context.Context, key string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return ErrNotInitialized
	}
	return e.cache.Invalidate(ctx, key)
}

// InvalidateByTag 失效 tag 下的全部 key，返回失效数量。
func (e *Engine) InvalidateByTag(ctx context.Context, tag string) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return 0, ErrNotInitialized
	}
	return e.cache.InvalidateByTag(ctx, tag)
}

// TagKeys 返回 tag 当前关联的 key。
func (e *Engine) TagKeys(tag string) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return nil, ErrNotInitialized
	}
	return e.cache.TagKeys(tag), nil
}

// SaveVersion 追加资源的新版本。
func (e *Engine) SaveVersion(ctx context.Context, resourceID string, data []byte, opts versions.SaveOptions) (*versions.Entry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return nil, ErrNotInitialized
	}
	return e.versions.Save(ctx, resourceID, data, opts)
}

// GetVersion 读取资源版本，version <= 0 表示最新。
func (e *Engine) GetVersion(ctx context.Context, resourceID string, version int) (*versions.Entry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return nil, ErrNotInitialized
	}
	return e.versions.Get(ctx, resourceID, version)
}

// GetVersionHistory 按新到旧返回版本元数据。
func (e *Engine) GetVersionHistory(ctx context.Context, resourceID string) ([]versions.HistoryItem, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return nil, ErrNotInitialized
	}
	return e.versions.History(ctx, resourceID)
}

// CompareVersions 比较两个版本的大小与校验和。
func (e *Engine) CompareVersions(ctx context.Context, resourceID string, v1, v2 int) (*versions.Comparison, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return nil, ErrNotInitialized
	}
	return e.versions.Compare(ctx, resourceID, v1, v2)
}

// RecordAccess 记录一次访问样本。
func (e *Engine) RecordAccess(userID, resourceID string, related []string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return ErrNotInitialized
	}
	e.predictor.RecordAccess(userID, resourceID, related)
	return nil
}

// PredictNext 预测用户接下来可能访问的资源。
func (e *Engine) PredictNext(userID string, current []string) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return nil, ErrNotInitialized
	}
	return e.predictor.PredictNext(userID, current), nil
}

// Preload 将 ids 放入预取队列，返回入队数量。
func (e *Engine) Preload(ctx context.Context, ids []string, loader predictor.Loader) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return 0, ErrNotInitialized
	}
	return e.prefetcher.Preload(ctx, ids, loader), nil
}

// PrefetchFor 预测并预取用户接下来可能访问的资源。
func (e *Engine) PrefetchFor(ctx context.Context, userID string, current []string, loader predictor.Loader) (PrefetchResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return PrefetchResult{}, ErrNotInitialized
	}
	predicted := e.predictor.PredictNext(userID, current)
	result := PrefetchResult{Predicted: predicted}
	if len(predicted) > 0 {
		result.Enqueued = e.prefetcher.Preload(ctx, predicted, loader)
	}
	return result, nil
}

// WaitPrefetch 等待当前预取队列清空。
func (e *Engine) WaitPrefetch(ctx context.Context) error {
	e.mu.RLock()
	prefetcher := e.prefetcher
	e.mu.RUnlock()
	if prefetcher == nil {
		return ErrNotInitialized
	}
	return prefetcher.Wait(ctx)
}

// LatestVersionLoader 返回以资源最新版本内容为数据源的预取 Loader。
// Loader 直接持有版本存储，不经过引擎锁，Close 等待预取结束时不会互相阻塞。
func (e *Engine) LatestVersionLoader() (predictor.Loader, error) {
	e.mu.RLock()
	store := e.versions
	e.mu.RUnlock()
	if store == nil {
		return nil, ErrNotInitialized
	}
	return func(ctx context.Context, id string) ([]byte, error) {
		entry, err := store.Get(ctx, id, 0)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, fmt.Errorf("no versions for %s: %w", id, vault.ErrNotFound)
		}
		return entry.Data, nil
	}, nil
}

// Subscribe 订阅事件流；buffer 满时事件被丢弃并计数。返回的函数用于取消订阅。
func (e *Engine) Subscribe(buffer int) (<-chan events.Event, func()) {
	return e.hub.Subscribe(buffer)
}

// Status 返回状态快照；未初始化时仅 Initialized/Strategy 有意义。
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	status := Status{
		Initialized:    e.initialized,
		Strategy:       string(e.profile.Key),
		MaxMemoryItems: e.opts.MaxMemoryItems,
	}
	if !e.initialized {
		return status
	}

	cacheStats := e.cache.Stats()
	versionStats := e.versions.Stats()
	status.MemoryItems = cacheStats.MemoryItems
	status.Tags = cacheStats.Tags
	status.TaggedKeys = cacheStats.TaggedKeys
	status.Resources = versionStats.Resources
	status.Versions = versionStats.Versions
	status.PrefetchPending = e.prefetcher.Pending()
	status.TrackedUsers = e.predictor.UserCount()
	status.TrackedPatterns = e.predictor.PatternCount()
	status.StartedAt = e.startedAt
	status.Uptime = e.now().Sub(e.startedAt).Truncate(time.Second).String()
	return status
}

// Metrics 返回计数快照，HitRate 为滚动窗口内的 hits/(hits+misses)。
func (e *Engine) Metrics() Metrics {
	snapshot := e.metrics.snapshot()
	snapshot.DroppedEvents = e.hub.Dropped()
	snapshot.SubscriberCount = e.hub.Subscribers()
	return snapshot
}

// Profile 返回生效的策略档位。
func (e *Engine) Profile() strategy.Profile {
	return e.profile
}
