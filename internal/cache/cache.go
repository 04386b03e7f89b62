package cache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/20lawsobk/maxbooster7.5-sub001/internal/codec"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/events"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/strategy"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/vault"
)

// Options 控制分层缓存的容量、策略与依赖注入。
type Options struct {
	MaxMemoryItems int
	Strategy       strategy.Profile
	// SweepVault 为 true 时，清扫任务还会检查仅存在于 vault 且被标签索引引用的条目。
	SweepVault      bool
	VaultSweepBatch int
	Logger          *logrus.Logger
	Observer        events.Observer
	Now             func() time.Time
}

// SetOptions 对应写入时的可选属性。TTL 为 0 时使用策略默认值，NoExpiry 表示永不过期。
type SetOptions struct {
	ContentType string
	TTL         time.Duration
	Tags        []string
}

// Stats 是缓存的只读快照。
type Stats struct {
	MemoryItems    int `json:"memory_items"`
	MaxMemoryItems int `json:"max_memory_items"`
	Tags           int `json:"tags"`
	TaggedKeys     int `json:"tagged_keys"`
}

// Cache 是内存层 + vault 层的写穿缓存。
type Cache struct {
	vault    vault.Vault
	opts     Options
	logger   *logrus.Logger
	observer events.Observer
	now      func() time.Time
	keys     *keyLocks

	mu    sync.Mutex
	items map[string]*list.Element
	lru   *list.List

	tagMu sync.Mutex
	tags  *tagIndex

	sweepMu     sync.Mutex
	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// New 构建缓存；调用方需在使用前调用 LoadIndex 以恢复持久化的标签索引。
func New(v vault.Vault, opts Options) (*Cache, error) {
	if v == nil {
		return nil, errors.New("vault is required")
	}
	if opts.MaxMemoryItems <= 0 {
		return nil, fmt.Errorf("invalid max memory items: %d", opts.MaxMemoryItems)
	}
	if opts.Strategy.Key == "" {
		opts.Strategy, _ = strategy.Lookup(string(strategy.DefaultKey()))
	}
	if opts.VaultSweepBatch <= 0 {
		opts.VaultSweepBatch = 256
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	observer := opts.Observer
	if observer == nil {
		observer = events.Nop
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Cache{
		vault:    v,
		opts:     opts,
		logger:   logger,
		observer: observer,
		now:      now,
		keys:     newKeyLocks(),
		items:    make(map[string]*list.Element),
		lru:      list.New(),
		tags:     newTagIndex(),
	}, nil
}

// Get 先查内存层，未命中再读 vault 并提升到内存层。返回的切片由缓存持有，调用方不得修改。
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if validateKey(key) != nil {
		c.emit(events.Event{Type: events.CacheMiss, Key: key, Reason: events.ReasonAbsent})
		return nil, false
	}
	unlock := c.keys.lock(key)
	defer unlock()

	now := c.now()

	c.mu.Lock()
	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*Entry)
		if !entry.Expired(now) {
			entry.LastAccessed = now
			entry.AccessCount++
			c.lru.MoveToFront(elem)
			data := entry.Data
			c.mu.Unlock()
			c.emit(events.Event{Type: events.CacheHit, Key: key, Tier: events.TierMemory, Bytes: len(data)})
			return data, true
		}
		c.removeElementLocked(elem)
		c.mu.Unlock()

		c.expire(ctx, key, entry.Tags, events.TierMemory)
		return nil, false
	}
	c.mu.Unlock()

	entry, err := c.readVault(ctx, key)
	if err != nil {
		reason := events.ReasonAbsent
		if !vault.IsNotFound(err) {
			reason = events.ReasonError
			c.logger.WithFields(logrus.Fields{
				"action": "cache_get",
				"key":    key,
				"tier":   events.TierVault,
			}).WithError(err).Warn("vault read failed, treating as miss")
		}
		c.emit(events.Event{Type: events.CacheMiss, Key: key, Reason: reason, Err: err})
		return nil, false
	}
	if entry.Expired(now) {
		c.expire(ctx, key, entry.Tags, events.TierVault)
		return nil, false
	}

	entry.LastAccessed = now
	entry.AccessCount++
	c.insert(entry)
	c.emit(events.Event{Type: events.CacheHit, Key: key, Tier: events.TierVault, Bytes: len(entry.Data)})
	return entry.Data, true
}

// Set 写穿两层：vault 正文 → vault 元数据 → 内存 → 标签索引。vault 失败时内存与索引保持不变。
func (c *Cache) Set(ctx context.Context, key string, data []byte, opts SetOptions) error {
	if err := validateKey(key); err != nil {
		return fmt.Errorf("cache set %q: %w", key, err)
	}
	unlock := c.keys.lock(key)
	defer unlock()

	now := c.now()
	ttl := opts.TTL
	switch {
	case ttl == 0:
		ttl = c.opts.Strategy.DefaultTTL
	case ttl < 0:
		ttl = 0
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = defaultCType
	}

	entry := &Entry{
		Key:          key,
		Data:         append([]byte(nil), data...),
		ContentType:  contentType,
		OriginalSize: len(data),
		CreatedAt:    now,
		LastAccessed: now,
		TTL:          ttl,
		Tags:         normalizeTags(opts.Tags),
	}

	previousTags, known := c.residentTags(key)
	if !known {
		if m, err := c.readMeta(ctx, key); err == nil {
			previousTags = m.Tags
		}
	}

	stored, err := vault.WriteSized(ctx, c.vault, blobPath(key), entry.Data)
	if err != nil {
		c.storageFailed(key, "cache_set", err)
		return fmt.Errorf("cache set %q: %w", key, err)
	}
	entry.CompressedSize = stored

	encoded, err := codec.Marshal(metaFromEntry(entry))
	if err != nil {
		return fmt.Errorf("cache set %q: %w", key, err)
	}
	if err := c.vault.Write(ctx, metaPath(key), encoded); err != nil {
		c.storageFailed(key, "cache_set", err)
		return fmt.Errorf("cache set %q: %w", key, err)
	}

	c.insert(entry)

	if err := c.retag(ctx, key, previousTags, entry.Tags); err != nil {
		return fmt.Errorf("cache set %q: %w", key, err)
	}

	c.emit(events.Event{Type: events.CacheSet, Key: key, Bytes: len(entry.Data)})
	return nil
}

// Invalidate 删除两层中的 key 及其标签关联；vault 中不存在不视为错误。
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return fmt.Errorf("cache invalidate %q: %w", key, err)
	}
	unlock := c.keys.lock(key)
	defer unlock()

	return c.invalidateLocked(ctx, key)
}

func (c *Cache) invalidateLocked(ctx context.Context, key string) error {
	var tags []string
	known := false

	c.mu.Lock()
	if elem, ok := c.items[key]; ok {
		tags = elem.Value.(*Entry).Tags
		known = true
		c.removeElementLocked(elem)
	}
	c.mu.Unlock()

	if !known {
		m, err := c.readMeta(ctx, key)
		switch {
		case err == nil:
			tags, known = m.Tags, true
		case !vault.IsNotFound(err):
			c.logger.WithFields(logrus.Fields{
				"action": "cache_invalidate",
				"key":    key,
			}).WithError(err).Warn("metadata unreadable, pruning key from every tag")
		}
	}

	if err := c.purge(ctx, key, tags, known); err != nil {
		return fmt.Errorf("cache invalidate %q: %w", key, err)
	}
	c.emit(events.Event{Type: events.CacheInvalidate, Key: key})
	return nil
}

// InvalidateByTag 失效调用时刻 tag 下的全部 key，返回成功失效的数量。
func (c *Cache) InvalidateByTag(ctx context.Context, tag string) (int, error) {
	c.tagMu.Lock()
	keys := c.tags.keys(tag)
	c.tagMu.Unlock()

	var (
		count int
		errs  []error
	)
	for _, key := range keys {
		if err := c.Invalidate(ctx, key); err != nil {
			errs = append(errs, err)
			continue
		}
		count++
	}

	c.logger.WithFields(logrus.Fields{
		"action":  "cache_invalidate_tag",
		"tag":     tag,
		"matched": len(keys),
		"removed": count,
	}).Debug("tag invalidated")

	return count, errors.Join(errs...)
}

// Contains 判断 key 是否存在且未过期，不更新访问信息也不提升。
func (c *Cache) Contains(ctx context.Context, key string) bool {
	if validateKey(key) != nil {
		return false
	}
	now := c.now()

	c.mu.Lock()
	if elem, ok := c.items[key]; ok {
		expired := elem.Value.(*Entry).Expired(now)
		c.mu.Unlock()
		return !expired
	}
	c.mu.Unlock()

	m, err := c.readMeta(ctx, key)
	if err != nil {
		return false
	}
	return !m.expired(now)
}

// Peek 返回内存层条目的副本（不含数据），主要用于诊断与测试。
func (c *Cache) Peek(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[key]
	if !ok {
		return Entry{}, false
	}
	entry := *elem.Value.(*Entry)
	entry.Data = nil
	entry.Tags = append([]string(nil), entry.Tags...)
	return entry, true
}

// TagKeys 返回 tag 当前关联的 key。
func (c *Cache) TagKeys(tag string) []string {
	c.tagMu.Lock()
	defer c.tagMu.Unlock()
	return c.tags.keys(tag)
}

// Stats 返回内存层与标签索引的计数。
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	items := len(c.items)
	c.mu.Unlock()

	c.tagMu.Lock()
	tags := c.tags.len()
	tagged := len(c.tags.trackedKeys())
	c.tagMu.Unlock()

	return Stats{
		MemoryItems:    items,
		MaxMemoryItems: c.opts.MaxMemoryItems,
		Tags:           tags,
		TaggedKeys:     tagged,
	}
}

// LoadIndex 从 vault 恢复标签索引。索引损坏时以空索引启动并记录告警；vault 读取失败则返回错误。
func (c *Cache) LoadIndex(ctx context.Context) error {
	raw, err := c.vault.Read(ctx, tagIndexPath)
	if vault.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load tag index: %w", err)
	}

	var snapshot map[string][]string
	if err := codec.Unmarshal(raw, &snapshot); err != nil {
		c.logger.WithFields(logrus.Fields{
			"action": "index_recover",
			"index":  tagIndexPath,
		}).WithError(err).Warn("tag index unreadable, starting with an empty index")
		c.emit(events.Event{Type: events.IndexRecovered, Key: tagIndexPath, Err: err})
		return nil
	}

	c.tagMu.Lock()
	c.tags.load(snapshot)
	c.tagMu.Unlock()
	return nil
}

// Flush 持久化当前标签索引。
func (c *Cache) Flush(ctx context.Context) error {
	c.tagMu.Lock()
	defer c.tagMu.Unlock()
	return c.persistTagsLocked(ctx)
}

// insert 放入（或替换）内存条目并按策略执行 LRU 回收。
func (c *Cache) insert(entry *Entry) {
	c.mu.Lock()
	if elem, ok := c.items[entry.Key]; ok {
		elem.Value = entry
		c.lru.MoveToFront(elem)
	} else {
		c.items[entry.Key] = c.lru.PushFront(entry)
	}
	evicted := c.evictLocked()
	c.mu.Unlock()

	for _, key := range evicted {
		c.emit(events.Event{Type: events.CacheEvict, Key: key, Tier: events.TierMemory, Reason: events.ReasonLRU})
	}
}

// evictLocked 在超出容量时从 LRU 尾部回收，直到达到策略低水位。
func (c *Cache) evictLocked() []string {
	if len(c.items) <= c.opts.MaxMemoryItems {
		return nil
	}
	target := c.opts.Strategy.Target(c.opts.MaxMemoryItems)
	var evicted []string
	for len(c.items) > target {
		elem := c.lru.Back()
		if elem == nil {
			break
		}
		evicted = append(evicted, elem.Value.(*Entry).Key)
		c.removeElementLocked(elem)
	}
	return evicted
}

func (c *Cache) removeElementLocked(elem *list.Element) {
	entry := elem.Value.(*Entry)
	c.lru.Remove(elem)
	delete(c.items, entry.Key)
}

func (c *Cache) residentTags(key string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		return elem.Value.(*Entry).Tags, true
	}
	return nil, false
}

// expire 处理读取时发现的过期条目：清理 vault 与索引，失败仅记录日志。
func (c *Cache) expire(ctx context.Context, key string, tags []string, tier string) {
	if err := c.purge(ctx, key, tags, true); err != nil {
		c.logger.WithFields(logrus.Fields{
			"action": "cache_expire",
			"key":    key,
		}).WithError(err).Warn("failed to purge expired entry")
	}
	c.emit(events.Event{Type: events.CacheEvict, Key: key, Tier: tier, Reason: events.ReasonExpired})
	c.emit(events.Event{Type: events.CacheMiss, Key: key, Reason: events.ReasonExpired})
}

// purge 删除 vault 正文与元数据，再从标签索引移除 key。tagsKnown 为 false 时扫描全部标签。
func (c *Cache) purge(ctx context.Context, key string, tags []string, tagsKnown bool) error {
	if err := c.vault.Delete(ctx, blobPath(key)); err != nil {
		c.storageFailed(key, "cache_purge", err)
		return err
	}
	if err := c.vault.Delete(ctx, metaPath(key)); err != nil {
		c.storageFailed(key, "cache_purge", err)
		return err
	}

	c.tagMu.Lock()
	defer c.tagMu.Unlock()

	changed := false
	if tagsKnown {
		for _, tag := range tags {
			if c.tags.remove(tag, key) {
				changed = true
			}
		}
	} else {
		changed = c.tags.removeKey(key)
	}
	if !changed {
		return nil
	}
	return c.persistTagsLocked(ctx)
}

// retag 将 key 从旧标签迁移到新标签，并在有变化时持久化索引。
func (c *Cache) retag(ctx context.Context, key string, previous, next []string) error {
	keep := make(map[string]struct{}, len(next))
	for _, tag := range next {
		keep[tag] = struct{}{}
	}

	c.tagMu.Lock()
	defer c.tagMu.Unlock()

	changed := false
	for _, tag := range previous {
		if _, ok := keep[tag]; ok {
			continue
		}
		if c.tags.remove(tag, key) {
			changed = true
		}
	}
	for _, tag := range next {
		if c.tags.add(tag, key) {
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return c.persistTagsLocked(ctx)
}

func (c *Cache) persistTagsLocked(ctx context.Context) error {
	encoded, err := codec.Marshal(c.tags.snapshot())
	if err != nil {
		return fmt.Errorf("encode tag index: %w", err)
	}
	if err := c.vault.Write(ctx, tagIndexPath, encoded); err != nil {
		c.storageFailed(tagIndexPath, "tag_index_persist", err)
		return fmt.Errorf("persist tag index: %w", err)
	}
	return nil
}

func (c *Cache) readMeta(ctx context.Context, key string) (meta, error) {
	raw, err := c.vault.Read(ctx, metaPath(key))
	if err != nil {
		return meta{}, err
	}
	var m meta
	if err := codec.Unmarshal(raw, &m); err != nil {
		return meta{}, fmt.Errorf("decode metadata %s: %w", key, err)
	}
	if m.Key == "" {
		m.Key = key
	}
	return m, nil
}

func (c *Cache) readVault(ctx context.Context, key string) (*Entry, error) {
	m, err := c.readMeta(ctx, key)
	if err != nil {
		return nil, err
	}
	data, err := c.vault.Read(ctx, blobPath(key))
	if err != nil {
		return nil, err
	}
	return m.entry(data), nil
}

func (c *Cache) storageFailed(key, action string, err error) {
	c.logger.WithFields(logrus.Fields{
		"action": action,
		"key":    key,
	}).WithError(err).Error("vault operation failed")
	c.emit(events.Event{Type: events.StorageFailed, Key: key, Err: err})
}

func (c *Cache) emit(e events.Event) {
	if e.At.IsZero() {
		e.At = c.now()
	}
	c.observer.Observe(e)
}
