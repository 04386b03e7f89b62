package cache

import "sync"

// keyLocks 为每个 key 提供引用计数的互斥锁，Set/Invalidate/清扫/提升共用。
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*entryLock)}
}

func (l *keyLocks) lock(key string) func() {
	l.mu.Lock()
	lock := l.locks[key]
	if lock == nil {
		lock = &entryLock{}
		l.locks[key] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
