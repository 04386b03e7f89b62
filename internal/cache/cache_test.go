package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/20lawsobk/maxbooster7.5-sub001/internal/events"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/strategy"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/vault"
)

func TestSetThenGetUntilInvalidate(t *testing.T) {
	env := newTestCache(t, 10, strategy.Balanced)
	ctx := context.Background()
	payload := []byte("audio-bytes")

	if err := env.cache.Set(ctx, "track/1", payload, SetOptions{TTL: NoExpiry}); err != nil {
		t.Fatalf("set error: %v", err)
	}
	for i := 0; i < 3; i++ {
		got, ok := env.cache.Get(ctx, "track/1")
		if !ok || !bytes.Equal(got, payload) {
			t.Fatalf("get #%d = %q, %v", i, got, ok)
		}
	}
	entry, ok := env.cache.Peek("track/1")
	if !ok || entry.AccessCount != 3 {
		t.Fatalf("expected access count 3, got %+v", entry)
	}

	if err := env.cache.Invalidate(ctx, "track/1"); err != nil {
		t.Fatalf("invalidate error: %v", err)
	}
	if _, ok := env.cache.Get(ctx, "track/1"); ok {
		t.Fatalf("get after invalidate should miss")
	}
	if env.vault.Has(blobPath("track/1")) || env.vault.Has(metaPath("track/1")) {
		t.Fatalf("vault copies should be deleted")
	}
}

func TestSetCopiesCallerBuffer(t *testing.T) {
	env := newTestCache(t, 10, strategy.Balanced)
	ctx := context.Background()
	payload := []byte("abc")
	if err := env.cache.Set(ctx, "k", payload, SetOptions{}); err != nil {
		t.Fatalf("set error: %v", err)
	}
	payload[0] = 'z'
	got, _ := env.cache.Get(ctx, "k")
	if string(got) != "abc" {
		t.Fatalf("cache should own its copy, got %q", got)
	}
}

func TestTTLBoundary(t *testing.T) {
	env := newTestCache(t, 10, strategy.Balanced)
	ctx := context.Background()

	if err := env.cache.Set(ctx, "k", []byte("v"), SetOptions{TTL: 2 * time.Second}); err != nil {
		t.Fatalf("set error: %v", err)
	}
	if got, ok := env.cache.Get(ctx, "k"); !ok || string(got) != "v" {
		t.Fatalf("get at t=0 = %q, %v", got, ok)
	}
	env.clock.Advance(1999 * time.Millisecond)
	if _, ok := env.cache.Get(ctx, "k"); !ok {
		t.Fatalf("entry should be valid just before expiry")
	}
	env.clock.Advance(time.Second)
	if _, ok := env.cache.Get(ctx, "k"); ok {
		t.Fatalf("get at t=3s should miss")
	}
	if env.recorder.count(events.CacheMiss, events.ReasonExpired) != 1 {
		t.Fatalf("expected one expired miss event")
	}
	if env.vault.Has(blobPath("k")) {
		t.Fatalf("expired entry should be removed from the vault")
	}
}

func TestTTLExpiresExactlyAtDeadline(t *testing.T) {
	env := newTestCache(t, 10, strategy.Balanced)
	ctx := context.Background()
	_ = env.cache.Set(ctx, "k", []byte("v"), SetOptions{TTL: 2 * time.Second})
	env.clock.Advance(2 * time.Second)
	if _, ok := env.cache.Get(ctx, "k"); ok {
		t.Fatalf("entry should be expired at createdAt+ttl")
	}
}

func TestDefaultTTLComesFromStrategy(t *testing.T) {
	env := newTestCache(t, 10, strategy.Conservative)
	ctx := context.Background()
	_ = env.cache.Set(ctx, "default", []byte("v"), SetOptions{})
	_ = env.cache.Set(ctx, "forever", []byte("v"), SetOptions{TTL: NoExpiry})

	entry, _ := env.cache.Peek("default")
	if entry.TTL != time.Hour {
		t.Fatalf("expected conservative default ttl, got %v", entry.TTL)
	}
	env.clock.Advance(2 * time.Hour)
	if _, ok := env.cache.Get(ctx, "default"); ok {
		t.Fatalf("default ttl entry should expire")
	}
	if _, ok := env.cache.Get(ctx, "forever"); !ok {
		t.Fatalf("NoExpiry entry should survive")
	}
}

func TestInvalidateByTagRemovesExactlyTaggedKeys(t *testing.T) {
	env := newTestCache(t, 10, strategy.Balanced)
	ctx := context.Background()

	_ = env.cache.Set(ctx, "track/1", []byte("1"), SetOptions{Tags: []string{"album:7", "artist:3"}})
	_ = env.cache.Set(ctx, "track/2", []byte("2"), SetOptions{Tags: []string{"album:7"}})
	_ = env.cache.Set(ctx, "track/3", []byte("3"), SetOptions{Tags: []string{"album:8", "artist:3"}})
	_ = env.cache.Set(ctx, "track/4", []byte("4"), SetOptions{})

	count, err := env.cache.InvalidateByTag(ctx, "album:7")
	if err != nil {
		t.Fatalf("invalidate by tag error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 invalidated keys, got %d", count)
	}
	for _, key := range []string{"track/1", "track/2"} {
		if _, ok := env.cache.Get(ctx, key); ok {
			t.Fatalf("%s should be invalidated", key)
		}
	}
	for _, key := range []string{"track/3", "track/4"} {
		if _, ok := env.cache.Get(ctx, key); !ok {
			t.Fatalf("%s should be unaffected", key)
		}
	}
	if keys := env.cache.TagKeys("artist:3"); len(keys) != 1 || keys[0] != "track/3" {
		t.Fatalf("artist tag should only keep track/3, got %v", keys)
	}
	if count, _ := env.cache.InvalidateByTag(ctx, "album:7"); count != 0 {
		t.Fatalf("second invalidation should match nothing, got %d", count)
	}
}

func TestInvalidateByTagCoversVaultOnlyEntries(t *testing.T) {
	env := newTestCache(t, 2, strategy.Balanced)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("track/%d", i)
		if err := env.cache.Set(ctx, key, []byte(key), SetOptions{Tags: []string{"album:1"}}); err != nil {
			t.Fatalf("set error: %v", err)
		}
	}
	if stats := env.cache.Stats(); stats.MemoryItems != 2 {
		t.Fatalf("memory tier should hold 2 items, got %d", stats.MemoryItems)
	}

	count, err := env.cache.InvalidateByTag(ctx, "album:1")
	if err != nil || count != 5 {
		t.Fatalf("expected 5 invalidated, got %d (%v)", count, err)
	}
	if !env.vault.Has(tagIndexPath) || env.vault.Len() != 1 {
		t.Fatalf("vault should only keep the tag index, has %d objects", env.vault.Len())
	}
}

func TestLRUEvictsLeastRecentlyAccessed(t *testing.T) {
	env := newTestCache(t, 3, strategy.Balanced)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = env.cache.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), SetOptions{})
		env.clock.Advance(time.Millisecond)
	}
	_ = env.cache.Set(ctx, "k3", []byte("v"), SetOptions{})

	if _, ok := env.cache.Peek("k0"); ok {
		t.Fatalf("k0 should be evicted first")
	}
	for _, key := range []string{"k1", "k2", "k3"} {
		if _, ok := env.cache.Peek(key); !ok {
			t.Fatalf("%s should stay resident", key)
		}
	}
	if env.recorder.count(events.CacheEvict, events.ReasonLRU) != 1 {
		t.Fatalf("expected one lru eviction event")
	}

	// Reading k1 makes k2 the least recently used entry.
	env.cache.Get(ctx, "k1")
	_ = env.cache.Set(ctx, "k4", []byte("v"), SetOptions{})
	if _, ok := env.cache.Peek("k2"); ok {
		t.Fatalf("k2 should be evicted after k1 was read")
	}
	if _, ok := env.cache.Peek("k1"); !ok {
		t.Fatalf("k1 should stay resident after being read")
	}
}

func TestEvictedEntryIsPromotedFromVault(t *testing.T) {
	env := newTestCache(t, 1, strategy.Balanced)
	ctx := context.Background()

	_ = env.cache.Set(ctx, "a", []byte("A"), SetOptions{})
	_ = env.cache.Set(ctx, "b", []byte("B"), SetOptions{})

	got, ok := env.cache.Get(ctx, "a")
	if !ok || string(got) != "A" {
		t.Fatalf("evicted entry should be served from the vault, got %q, %v", got, ok)
	}
	if env.recorder.count(events.CacheHit, events.TierVault) != 1 {
		t.Fatalf("expected a vault-tier hit")
	}
	if _, ok := env.cache.Peek("a"); !ok {
		t.Fatalf("vault hit should be promoted into memory")
	}
	if _, ok := env.cache.Peek("b"); ok {
		t.Fatalf("promotion should evict b")
	}
}

func TestConservativeStrategyEvictsToWatermark(t *testing.T) {
	env := newTestCache(t, 10, strategy.Conservative)
	ctx := context.Background()
	for i := 0; i < 11; i++ {
		_ = env.cache.Set(ctx, fmt.Sprintf("k%02d", i), []byte("v"), SetOptions{})
	}
	if stats := env.cache.Stats(); stats.MemoryItems != 8 {
		t.Fatalf("expected eviction down to 8 items, got %d", stats.MemoryItems)
	}
}

func TestNewInstanceReadsThroughVault(t *testing.T) {
	env := newTestCache(t, 10, strategy.Balanced)
	ctx := context.Background()
	if err := env.cache.Set(ctx, "model:x", []byte("weights"), SetOptions{ContentType: "application/x-model", Tags: []string{"models"}}); err != nil {
		t.Fatalf("set error: %v", err)
	}

	second := env.reopen(t, 10, strategy.Balanced)
	got, ok := second.Get(ctx, "model:x")
	if !ok || string(got) != "weights" {
		t.Fatalf("reopened cache should read through, got %q, %v", got, ok)
	}
	entry, _ := second.Peek("model:x")
	if entry.ContentType != "application/x-model" || entry.OriginalSize != len("weights") {
		t.Fatalf("metadata should round trip, got %+v", entry)
	}
	if keys := second.TagKeys("models"); len(keys) != 1 {
		t.Fatalf("tag index should be restored, got %v", keys)
	}
}

func TestSetVaultFailureLeavesStateUntouched(t *testing.T) {
	env := newTestCache(t, 10, strategy.Balanced)
	ctx := context.Background()

	env.vault.setWriteFailure(metaPrefix)
	err := env.cache.Set(ctx, "k", []byte("v"), SetOptions{Tags: []string{"t"}})
	if !errors.Is(err, errInjected) {
		t.Fatalf("expected injected storage error, got %v", err)
	}
	if _, ok := env.cache.Peek("k"); ok {
		t.Fatalf("memory tier should not hold a failed write")
	}
	if keys := env.cache.TagKeys("t"); len(keys) != 0 {
		t.Fatalf("tag index should not reference a failed write, got %v", keys)
	}
	if env.recorder.count(events.StorageFailed, "") == 0 {
		t.Fatalf("expected a storage failure event")
	}
}

func TestSetSurfacesTagIndexPersistFailure(t *testing.T) {
	env := newTestCache(t, 10, strategy.Balanced)
	env.vault.setWriteFailure(tagIndexPath)
	if err := env.cache.Set(context.Background(), "k", []byte("v"), SetOptions{Tags: []string{"t"}}); err == nil {
		t.Fatalf("tag index persist failure should surface")
	}
}

func TestSetReplacesTags(t *testing.T) {
	env := newTestCache(t, 10, strategy.Balanced)
	ctx := context.Background()
	_ = env.cache.Set(ctx, "k", []byte("v1"), SetOptions{Tags: []string{"old", "shared"}})
	_ = env.cache.Set(ctx, "k", []byte("v2"), SetOptions{Tags: []string{"shared", "new"}})

	if keys := env.cache.TagKeys("old"); len(keys) != 0 {
		t.Fatalf("old tag should be dropped, got %v", keys)
	}
	for _, tag := range []string{"shared", "new"} {
		if keys := env.cache.TagKeys(tag); len(keys) != 1 {
			t.Fatalf("tag %s should reference k, got %v", tag, keys)
		}
	}
	got, _ := env.cache.Get(ctx, "k")
	if string(got) != "v2" {
		t.Fatalf("expected replaced payload, got %q", got)
	}
}

func TestInvalidateVaultOnlyEntryUsesStoredTags(t *testing.T) {
	env := newTestCache(t, 10, strategy.Balanced)
	ctx := context.Background()
	_ = env.cache.Set(ctx, "k", []byte("v"), SetOptions{Tags: []string{"a", "b"}})

	second := env.reopen(t, 10, strategy.Balanced)
	if err := second.Invalidate(ctx, "k"); err != nil {
		t.Fatalf("invalidate error: %v", err)
	}
	for _, tag := range []string{"a", "b"} {
		if keys := second.TagKeys(tag); len(keys) != 0 {
			t.Fatalf("tag %s should be cleared, got %v", tag, keys)
		}
	}
}

func TestInvalidateMissingKeyIsNotAnError(t *testing.T) {
	env := newTestCache(t, 10, strategy.Balanced)
	if err := env.cache.Invalidate(context.Background(), "never-set"); err != nil {
		t.Fatalf("invalidate of missing key should succeed, got %v", err)
	}
}

func TestInvalidateSurfacesDeleteFailure(t *testing.T) {
	env := newTestCache(t, 10, strategy.Balanced)
	ctx := context.Background()
	_ = env.cache.Set(ctx, "k", []byte("v"), SetOptions{Tags: []string{"t"}})

	env.vault.setDeleteFailure(blobPrefix)
	if err := env.cache.Invalidate(ctx, "k"); !errors.Is(err, errInjected) {
		t.Fatalf("expected delete failure to surface, got %v", err)
	}
	if keys := env.cache.TagKeys("t"); len(keys) != 1 {
		t.Fatalf("tag association should survive a failed delete, got %v", keys)
	}

	count, err := env.cache.InvalidateByTag(ctx, "t")
	if count != 0 || err == nil {
		t.Fatalf("expected partial failure, got %d, %v", count, err)
	}
}

func TestCorruptTagIndexRecoversEmpty(t *testing.T) {
	env := newTestCache(t, 10, strategy.Balanced)
	ctx := context.Background()
	_ = env.vault.MemoryVault.Write(ctx, tagIndexPath, []byte("not cbor at all"))

	second := env.reopen(t, 10, strategy.Balanced)
	if stats := second.Stats(); stats.Tags != 0 {
		t.Fatalf("expected empty index after recovery, got %+v", stats)
	}
	if env.recorder.count(events.IndexRecovered, "") != 1 {
		t.Fatalf("expected an index recovery event")
	}

	if err := second.Set(ctx, "k", []byte("v"), SetOptions{Tags: []string{"t"}}); err != nil {
		t.Fatalf("set after recovery: %v", err)
	}
	third := env.reopen(t, 10, strategy.Balanced)
	if keys := third.TagKeys("t"); len(keys) != 1 {
		t.Fatalf("index should be rebuilt by normal sets, got %v", keys)
	}
}

func TestLoadIndexFailsOnVaultError(t *testing.T) {
	env := newTestCache(t, 10, strategy.Balanced)
	env.vault.setReadFailure(tagIndexPath)
	if err := env.cache.LoadIndex(context.Background()); err == nil {
		t.Fatalf("unreadable vault should fail loudly")
	}
}

func TestGetDegradesToMissOnVaultTimeout(t *testing.T) {
	inner := vault.NewMemoryVault()
	slow := &blockingVault{MemoryVault: inner}
	c, err := New(vault.WithTimeout(slow, 20*time.Millisecond), Options{MaxMemoryItems: 4, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	start := time.Now()
	if _, ok := c.Get(context.Background(), "slow"); ok {
		t.Fatalf("timed out read should be a miss")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("get should not block, took %v", elapsed)
	}
	if err := c.Set(context.Background(), "slow", []byte("v"), SetOptions{}); !vault.IsTimeout(err) {
		t.Fatalf("set should surface the timeout, got %v", err)
	}
}

func TestContains(t *testing.T) {
	env := newTestCache(t, 1, strategy.Balanced)
	ctx := context.Background()
	_ = env.cache.Set(ctx, "a", []byte("A"), SetOptions{TTL: time.Second})
	_ = env.cache.Set(ctx, "b", []byte("B"), SetOptions{TTL: time.Minute})

	if !env.cache.Contains(ctx, "a") || !env.cache.Contains(ctx, "b") {
		t.Fatalf("both keys should be contained")
	}
	env.clock.Advance(2 * time.Second)
	if env.cache.Contains(ctx, "a") {
		t.Fatalf("expired vault-only key should not be contained")
	}
	if env.cache.Contains(ctx, "missing") {
		t.Fatalf("missing key should not be contained")
	}
}

func TestInvalidKeysAreRejected(t *testing.T) {
	env := newTestCache(t, 10, strategy.Balanced)
	ctx := context.Background()
	for _, key := range []string{"", "  ", "../escape", "a/./b", "a/", "a//b", "/a"} {
		if err := env.cache.Set(ctx, key, []byte("v"), SetOptions{}); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("expected ErrInvalidKey for %q, got %v", key, err)
		}
		if _, ok := env.cache.Get(ctx, key); ok {
			t.Fatalf("invalid key %q should miss", key)
		}
	}
}

func TestCompressedSizeIsRecorded(t *testing.T) {
	inner := vault.NewMemoryVault()
	c, err := New(vault.Compressed(inner, vault.CompressionDefault), Options{MaxMemoryItems: 4, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	payload := bytes.Repeat([]byte("la"), 4096)
	if err := c.Set(context.Background(), "song", payload, SetOptions{}); err != nil {
		t.Fatalf("set: %v", err)
	}
	entry, _ := c.Peek("song")
	if entry.OriginalSize != len(payload) || entry.CompressedSize >= entry.OriginalSize || entry.CompressedSize == 0 {
		t.Fatalf("unexpected sizes: %+v", entry)
	}
}

// blockingVault never answers reads or writes until the context ends.
type blockingVault struct {
	*vault.MemoryVault
}

func (b *blockingVault) Read(ctx context.Context, path string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *blockingVault) Write(ctx context.Context, path string, data []byte) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestConcurrentSetsKeepEveryTagUpdate(t *testing.T) {
	env := newTestCache(t, 256, strategy.Balanced)
	ctx := context.Background()

	const writers = 64
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("track/%02d", i)
			if err := env.cache.Set(ctx, key, []byte("v"), SetOptions{Tags: []string{"album", fmt.Sprintf("disc:%d", i%4)}}); err != nil {
				t.Errorf("set %s: %v", key, err)
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("scratch/%02d", i)
			if err := env.cache.Set(ctx, key, []byte("tmp"), SetOptions{Tags: []string{"album"}}); err != nil {
				t.Errorf("set %s: %v", key, err)
				return
			}
			if err := env.cache.Invalidate(ctx, key); err != nil {
				t.Errorf("invalidate %s: %v", key, err)
			}
		}(i)
	}
	wg.Wait()

	check := func(c *Cache, label string) {
		keys := c.TagKeys("album")
		if len(keys) != writers {
			t.Fatalf("%s: expected %d tagged keys, got %d: %v", label, writers, len(keys), keys)
		}
		for i, key := range keys {
			if want := fmt.Sprintf("track/%02d", i); key != want {
				t.Fatalf("%s: key %d = %s, want %s", label, i, key, want)
			}
		}
		if got := len(c.TagKeys("disc:1")); got != writers/4 {
			t.Fatalf("%s: expected %d keys on disc:1, got %d", label, writers/4, got)
		}
	}
	check(env.cache, "live")
	check(env.reopen(t, 256, strategy.Balanced), "reloaded")
}

func newDirCache(t *testing.T, dir string) *Cache {
	t.Helper()
	v, err := vault.NewDirVault(dir)
	if err != nil {
		t.Fatalf("dir vault: %v", err)
	}
	c, err := New(v, Options{MaxMemoryItems: 16, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	if err := c.LoadIndex(context.Background()); err != nil {
		t.Fatalf("load index: %v", err)
	}
	return c
}

func TestDirVaultKeysStayDistinctAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	c := newDirCache(t, dir)

	writes := map[string]string{
		"a":              "A",
		"track/42":       "track",
		"track/42/cover": "cover",
	}
	for key, value := range writes {
		if err := c.Set(ctx, key, []byte(value), SetOptions{Tags: []string{"t:" + key}}); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}
	for _, key := range []string{"a/", "a//"} {
		if err := c.Set(ctx, key, []byte("B"), SetOptions{}); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("expected ErrInvalidKey for %q, got %v", key, err)
		}
	}
	if err := c.Invalidate(ctx, "a//"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey on invalidate, got %v", err)
	}

	reopened := newDirCache(t, dir)
	for key, value := range writes {
		got, ok := reopened.Get(ctx, key)
		if !ok || string(got) != value {
			t.Fatalf("get %s after restart = %q, %v", key, got, ok)
		}
		if keys := reopened.TagKeys("t:" + key); len(keys) != 1 || keys[0] != key {
			t.Fatalf("tag index for %s = %v", key, keys)
		}
	}

	if err := reopened.Invalidate(ctx, "track/42"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if got, ok := reopened.Get(ctx, "track/42/cover"); !ok || string(got) != "cover" {
		t.Fatalf("nested key should survive parent invalidation, got %q, %v", got, ok)
	}
}
