package cache

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/20lawsobk/maxbooster7.5-sub001/internal/events"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/strategy"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/vault"
)

var errInjected = errors.New("injected failure")

// fakeClock is a manually advanced clock shared by cache and tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// faultVault wraps a MemoryVault and fails operations whose path has a given prefix.
type faultVault struct {
	*vault.MemoryVault

	mu          sync.Mutex
	failWrites  string
	failReads   string
	failDeletes string
}

func newFaultVault() *faultVault {
	return &faultVault{MemoryVault: vault.NewMemoryVault()}
}

func (f *faultVault) setWriteFailure(prefix string) {
	f.mu.Lock()
	f.failWrites = prefix
	f.mu.Unlock()
}

func (f *faultVault) setReadFailure(prefix string) {
	f.mu.Lock()
	f.failReads = prefix
	f.mu.Unlock()
}

func (f *faultVault) setDeleteFailure(prefix string) {
	f.mu.Lock()
	f.failDeletes = prefix
	f.mu.Unlock()
}

func matches(prefix, path string) bool {
	return prefix != "" && strings.HasPrefix(path, prefix)
}

func (f *faultVault) Read(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	fail := matches(f.failReads, path)
	f.mu.Unlock()
	if fail {
		return nil, errInjected
	}
	return f.MemoryVault.Read(ctx, path)
}

func (f *faultVault) Write(ctx context.Context, path string, data []byte) error {
	f.mu.Lock()
	fail := matches(f.failWrites, path)
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.MemoryVault.Write(ctx, path, data)
}

func (f *faultVault) Delete(ctx context.Context, path string) error {
	f.mu.Lock()
	fail := matches(f.failDeletes, path)
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.MemoryVault.Delete(ctx, path)
}

// recorder collects events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Observe(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) count(t events.Type, tierOrReason string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type != t {
			continue
		}
		if tierOrReason == "" || e.Tier == tierOrReason || e.Reason == tierOrReason {
			n++
		}
	}
	return n
}

type testEnv struct {
	cache    *Cache
	vault    *faultVault
	clock    *fakeClock
	recorder *recorder
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestCache(t *testing.T, maxItems int, strategyKey strategy.Key) *testEnv {
	t.Helper()
	env := &testEnv{
		vault:    newFaultVault(),
		clock:    newFakeClock(),
		recorder: &recorder{},
	}
	env.cache = env.reopen(t, maxItems, strategyKey)
	return env
}

// reopen builds a fresh cache instance over the same vault and clock.
func (env *testEnv) reopen(t *testing.T, maxItems int, strategyKey strategy.Key) *Cache {
	t.Helper()
	profile, ok := strategy.Lookup(string(strategyKey))
	if !ok {
		t.Fatalf("unknown strategy %s", strategyKey)
	}
	c, err := New(env.vault, Options{
		MaxMemoryItems: maxItems,
		Strategy:       profile,
		Logger:         quietLogger(),
		Observer:       env.recorder,
		Now:            env.clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	if err := c.LoadIndex(context.Background()); err != nil {
		t.Fatalf("load index: %v", err)
	}
	return c
}
