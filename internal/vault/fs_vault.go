package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// NewDirVault 以 basePath 为根目录构建磁盘 vault，整个进程复用一份实例。
func NewDirVault(basePath string) (Vault, error) {
	if basePath == "" {
		return nil, errors.New("vault path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve vault path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create vault path: %w", err)
	}

	return &dirVault{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// dirVault 通过 entryLock 避免同一路径并发写入，同时复用 basePath。
type dirVault struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (v *dirVault) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath, err := v.entryPath(name)
	if err != nil {
		return nil, err
	}

	unlock := v.lockEntry(filePath)
	defer unlock()

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (v *dirVault) Write(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	filePath, err := v.entryPath(name)
	if err != nil {
		return err
	}

	unlock := v.lockEntry(filePath)
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".vault-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	if err == nil {
		err = tempFile.Sync()
	}
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (v *dirVault) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	filePath, err := v.entryPath(name)
	if err != nil {
		return err
	}

	unlock := v.lockEntry(filePath)
	defer unlock()

	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (v *dirVault) lockEntry(key string) func() {
	v.mu.Lock()
	lock := v.locks[key]
	if lock == nil {
		lock = &entryLock{}
		v.locks[key] = lock
	}
	lock.refs++
	v.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		v.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(v.locks, key)
		}
		v.mu.Unlock()
	}
}

// 目录段与对象名使用不同后缀，同一逻辑路径既可以是对象也可以是其他对象的前缀。
const (
	dirSuffix    = ".d"
	objectSuffix = ".obj"
)

// entryPath 将逻辑路径映射到 basePath 下的文件，拒绝越界或非规范路径（空段、. 与 ..）。
func (v *dirVault) entryPath(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("vault path required")
	}

	segments := strings.Split(name, "/")
	parts := make([]string, 0, len(segments)+1)
	parts = append(parts, v.basePath)
	for i, segment := range segments {
		if segment == "" || segment == "." || segment == ".." || strings.ContainsRune(segment, filepath.Separator) {
			return "", fmt.Errorf("invalid vault path: %q", name)
		}
		if i == len(segments)-1 {
			parts = append(parts, segment+objectSuffix)
		} else {
			parts = append(parts, segment+dirSuffix)
		}
	}

	filePath := filepath.Join(parts...)
	if !strings.HasPrefix(filePath, v.basePath+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid vault path: %q", name)
	}
	return filePath, nil
}
