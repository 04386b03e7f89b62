package vault

import (
	"context"
	"sync"
)

// MemoryVault 是进程内的 Vault 实现，主要用于测试与临时实例。
type MemoryVault struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryVault 构建空的内存 vault。
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{objects: make(map[string][]byte)}
}

func (m *MemoryVault) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[path]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryVault) Write(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryVault) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, path)
	return nil
}

// Len 返回当前对象数量。
func (m *MemoryVault) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Has 判断 path 是否存在，不复制数据。
func (m *MemoryVault) Has(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[path]
	return ok
}
