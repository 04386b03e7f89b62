package cache

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/20lawsobk/maxbooster7.5-sub001/internal/events"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/vault"
)

const vaultSweepConcurrency = 4

// StartSweeper 按策略周期启动 TTL 清扫任务；重复调用无效果。
func (c *Cache) StartSweeper(ctx context.Context) {
	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()
	if c.sweepCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.sweepCancel = cancel
	c.sweepDone = done

	interval := c.opts.Strategy.SweepInterval
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := c.Sweep(ctx)
				if removed > 0 {
					c.logger.WithFields(logrus.Fields{
						"action":  "cache_sweep",
						"removed": removed,
					}).Debug("expired entries swept")
				}
			}
		}
	}()
}

// StopSweeper 停止清扫任务并等待其退出。
func (c *Cache) StopSweeper() {
	c.sweepMu.Lock()
	cancel, done := c.sweepCancel, c.sweepDone
	c.sweepCancel, c.sweepDone = nil, nil
	c.sweepMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Sweep 执行一次清扫，返回移除的条目数。内存层总是被扫描；开启 SweepVault 时
// 还会检查被标签索引引用但不在内存中的条目。
func (c *Cache) Sweep(ctx context.Context) int {
	removed := c.sweepMemory(ctx)
	if c.opts.SweepVault {
		removed += c.sweepVault(ctx)
	}
	return removed
}

func (c *Cache) sweepMemory(ctx context.Context) int {
	now := c.now()

	c.mu.Lock()
	var candidates []string
	for key, elem := range c.items {
		if elem.Value.(*Entry).Expired(now) {
			candidates = append(candidates, key)
		}
	}
	c.mu.Unlock()

	removed := 0
	for _, key := range candidates {
		if ctx.Err() != nil {
			break
		}
		if c.sweepKey(ctx, key) {
			removed++
		}
	}
	return removed
}

// sweepKey 在 key 锁内复查过期状态，避免误删刚被 Set 刷新的条目。
func (c *Cache) sweepKey(ctx context.Context, key string) bool {
	unlock := c.keys.lock(key)
	defer unlock()

	c.mu.Lock()
	elem, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return false
	}
	entry := elem.Value.(*Entry)
	if !entry.Expired(c.now()) {
		c.mu.Unlock()
		return false
	}
	c.removeElementLocked(elem)
	c.mu.Unlock()

	if err := c.purge(ctx, key, entry.Tags, true); err != nil {
		c.logger.WithFields(logrus.Fields{
			"action": "cache_sweep",
			"key":    key,
		}).WithError(err).Warn("failed to purge expired entry")
	}
	c.emit(events.Event{Type: events.CacheEvict, Key: key, Tier: events.TierMemory, Reason: events.ReasonExpired})
	return true
}

func (c *Cache) sweepVault(ctx context.Context) int {
	c.tagMu.Lock()
	tracked := c.tags.trackedKeys()
	c.tagMu.Unlock()

	var candidates []string
	c.mu.Lock()
	for _, key := range tracked {
		if _, resident := c.items[key]; !resident {
			candidates = append(candidates, key)
		}
		if len(candidates) >= c.opts.VaultSweepBatch {
			break
		}
	}
	c.mu.Unlock()

	var (
		mu      sync.Mutex
		removed int
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(vaultSweepConcurrency)
	for _, key := range candidates {
		group.Go(func() error {
			if c.sweepVaultKey(groupCtx, key) {
				mu.Lock()
				removed++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()
	return removed
}

func (c *Cache) sweepVaultKey(ctx context.Context, key string) bool {
	unlock := c.keys.lock(key)
	defer unlock()

	c.mu.Lock()
	_, resident := c.items[key]
	c.mu.Unlock()
	if resident {
		return false
	}

	m, err := c.readMeta(ctx, key)
	if vault.IsNotFound(err) {
		// 索引引用了已不存在的条目，顺手修剪。
		if err := c.purge(ctx, key, nil, false); err != nil {
			c.logger.WithFields(logrus.Fields{
				"action": "cache_sweep",
				"key":    key,
			}).WithError(err).Warn("failed to prune stale tag index key")
		}
		return false
	}
	if err != nil {
		return false
	}
	if !m.expired(c.now()) {
		return false
	}
	if err := c.purge(ctx, key, m.Tags, true); err != nil {
		c.logger.WithFields(logrus.Fields{
			"action": "cache_sweep",
			"key":    key,
			"tier":   events.TierVault,
		}).WithError(err).Warn("failed to purge expired vault entry")
		return false
	}
	c.emit(events.Event{Type: events.CacheEvict, Key: key, Tier: events.TierVault, Reason: events.ReasonExpired})
	return true
}
