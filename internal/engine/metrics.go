package engine

import (
	"sync"
	"time"

	"github.com/20lawsobk/maxbooster7.5-sub001/internal/events"
)

const (
	defaultMetricsWindow = 5 * time.Minute
	defaultMetricsBucket = 10 * time.Second
)

// Metrics 是引擎计数器的只读快照。
type Metrics struct {
	Hits            int64            `json:"hits"`
	Misses          int64            `json:"misses"`
	HitRate         float64          `json:"hit_rate"`
	LifetimeHitRate float64          `json:"lifetime_hit_rate"`
	Window          string           `json:"window"`
	WindowHits      int64            `json:"window_hits"`
	WindowMisses    int64            `json:"window_misses"`
	HitsByTier      map[string]int64 `json:"hits_by_tier"`
	MissesByReason  map[string]int64 `json:"misses_by_reason"`
	Evictions       map[string]int64 `json:"evictions"`
	Sets            int64            `json:"sets"`
	Invalidations   int64            `json:"invalidations"`
	VersionsSaved   int64            `json:"versions_saved"`
	IntegrityErrors int64            `json:"integrity_errors"`
	PrefetchLoaded  int64            `json:"prefetch_loaded"`
	PrefetchFailed  int64            `json:"prefetch_failed"`
	PrefetchDropped int64            `json:"prefetch_dropped"`
	StorageErrors   int64            `json:"storage_errors"`
	IndexRecoveries int64            `json:"index_recoveries"`
	DroppedEvents   int64            `json:"dropped_events"`
	SubscriberCount int              `json:"subscribers"`
}

// bucket 是滚动窗口中的一个时间片。
type bucket struct {
	start  int64
	hits   int64
	misses int64
}

// collector 作为 events.Observer 汇总计数，并在按时间分桶的环形窗口上计算滚动命中率。
type collector struct {
	now    func() time.Time
	window time.Duration
	width  time.Duration

	mu       sync.Mutex
	buckets  []bucket
	hits     int64
	misses   int64
	byTier   map[string]int64
	byReason map[string]int64
	evicted  map[string]int64
	counts   map[events.Type]int64
}

func newCollector(window, width time.Duration, now func() time.Time) *collector {
	if window <= 0 {
		window = defaultMetricsWindow
	}
	if width <= 0 {
		width = defaultMetricsBucket
	}
	if width > window {
		width = window
	}
	n := int(window / width)
	if window%width != 0 {
		n++
	}
	return &collector{
		now:      now,
		window:   window,
		width:    width,
		buckets:  make([]bucket, n),
		byTier:   make(map[string]int64),
		byReason: make(map[string]int64),
		evicted:  make(map[string]int64),
		counts:   make(map[events.Type]int64),
	}
}

func (c *collector) Observe(e events.Event) {
	at := e.At
	if at.IsZero() {
		at = c.now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.counts[e.Type]++
	switch e.Type {
	case events.CacheHit:
		c.hits++
		c.byTier[e.Tier]++
		c.slot(at).hits++
	case events.CacheMiss:
		c.misses++
		c.byReason[e.Reason]++
		c.slot(at).misses++
	case events.CacheEvict:
		c.evicted[e.Reason]++
	}
}

// slot 返回 at 所在的桶，桶过期时先清零。
func (c *collector) slot(at time.Time) *bucket {
	start := at.UnixNano() / int64(c.width)
	b := &c.buckets[int(start%int64(len(c.buckets)))]
	if b.start > start {
		// 迟到的事件已落在窗口之外。
		return &bucket{}
	}
	if b.start != start {
		*b = bucket{start: start}
	}
	return b
}

func (c *collector) snapshot() Metrics {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	current := now.UnixNano() / int64(c.width)
	oldest := current - int64(len(c.buckets)) + 1
	var windowHits, windowMisses int64
	for _, b := range c.buckets {
		if b.start >= oldest && b.start <= current {
			windowHits += b.hits
			windowMisses += b.misses
		}
	}

	return Metrics{
		Hits:            c.hits,
		Misses:          c.misses,
		HitRate:         ratio(windowHits, windowMisses),
		LifetimeHitRate: ratio(c.hits, c.misses),
		Window:          c.window.String(),
		WindowHits:      windowHits,
		WindowMisses:    windowMisses,
		HitsByTier:      copyCounts(c.byTier),
		MissesByReason:  copyCounts(c.byReason),
		Evictions:       copyCounts(c.evicted),
		Sets:            c.counts[events.CacheSet],
		Invalidations:   c.counts[events.CacheInvalidate],
		VersionsSaved:   c.counts[events.VersionSaved],
		IntegrityErrors: c.counts[events.IntegrityFailed],
		PrefetchLoaded:  c.counts[events.PrefetchLoaded],
		PrefetchFailed:  c.counts[events.PrefetchFailed],
		PrefetchDropped: c.counts[events.PrefetchDropped],
		StorageErrors:   c.counts[events.StorageFailed],
		IndexRecoveries: c.counts[events.IndexRecovered],
	}
}

func ratio(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

func copyCounts(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
