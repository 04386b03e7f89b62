package versions

import "sync"

// resourceLocks 为每个资源 id 提供引用计数的互斥锁，串行化同一资源的保存与链恢复。
type resourceLocks struct {
	mu    sync.Mutex
	locks map[string]*resourceLock
}

type resourceLock struct {
	mu   sync.Mutex
	refs int
}

func newResourceLocks() *resourceLocks {
	return &resourceLocks{locks: make(map[string]*resourceLock)}
}

func (l *resourceLocks) lock(resourceID string) func() {
	l.mu.Lock()
	lock := l.locks[resourceID]
	if lock == nil {
		lock = &resourceLock{}
		l.locks[resourceID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, resourceID)
		}
		l.mu.Unlock()
	}
}
