// Package events carries the notifications the cache, version store and
// prefetcher emit. Producers call an Observer synchronously, which keeps
// events ordered per producer; Hub fans them out to bounded subscriber
// channels and counts what a slow subscriber had to drop.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Type 标识事件类别。
type Type string

const (
	CacheHit        Type = "cache_hit"
	CacheMiss       Type = "cache_miss"
	CacheSet        Type = "cache_set"
	CacheEvict      Type = "cache_evict"
	CacheInvalidate Type = "cache_invalidate"
	VersionSaved    Type = "version_saved"
	IntegrityFailed Type = "integrity_failed"
	PrefetchLoaded  Type = "prefetch_loaded"
	PrefetchFailed  Type = "prefetch_failed"
	PrefetchDropped Type = "prefetch_dropped"
	StorageFailed   Type = "storage_failed"
	IndexRecovered  Type = "index_recovered"
)

// Tier 与 Reason 的取值。
const (
	TierMemory = "memory"
	TierVault  = "vault"

	ReasonAbsent  = "absent"
	ReasonExpired = "expired"
	ReasonError   = "error"
	ReasonLRU     = "lru"
)

// Event 是一条通知，字段按类型选择性填充。
type Event struct {
	Type    Type
	Key     string
	Tier    string
	Reason  string
	Version int
	Bytes   int
	Err     error
	At      time.Time
}

// Observer 接收事件；实现必须快速返回，因为生产者会同步调用它。
type Observer interface {
	Observe(Event)
}

// ObserverFunc 将函数适配为 Observer。
type ObserverFunc func(Event)

// Observe 满足 Observer。
func (f ObserverFunc) Observe(e Event) {
	f(e)
}

// Nop 丢弃所有事件。
var Nop Observer = ObserverFunc(func(Event) {})

// Multi 依次通知多个 Observer。
func Multi(observers ...Observer) Observer {
	filtered := make([]Observer, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	return ObserverFunc(func(e Event) {
		for _, o := range filtered {
			o.Observe(e)
		}
	})
}

// Hub 把事件转发给有界订阅通道，通道已满时丢弃并计数。
type Hub struct {
	mu      sync.RWMutex
	nextID  int
	subs    map[int]chan Event
	dropped atomic.Int64
}

// NewHub 构建空的 Hub。
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe 返回容量为 buffer 的只读通道以及取消函数，取消后通道会被关闭。
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Observe 满足 Observer。
func (h *Hub) Observe(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.dropped.Add(1)
		}
	}
}

// Dropped 返回因订阅者阻塞而丢弃的事件数。
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Subscribers 返回当前订阅者数量。
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
