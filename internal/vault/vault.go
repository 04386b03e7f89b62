package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Vault 是持久化对象存储的最小接口，路径使用 URL 风格的相对路径。
type Vault interface {
	// Read 返回 path 对应的完整内容，不存在时返回 ErrNotFound。
	Read(ctx context.Context, path string) ([]byte, error)

	// Write 以原子方式覆盖写入 path。
	Write(ctx context.Context, path string, data []byte) error

	// Delete 删除 path，不存在时不报错。
	Delete(ctx context.Context, path string) error
}

// SizedWriter 由会改变落盘体积的实现（例如压缩装饰器）提供，返回实际写入的字节数。
type SizedWriter interface {
	WriteSized(ctx context.Context, path string, data []byte) (int, error)
}

// WriteSized 写入 data 并返回落盘字节数；v 未实现 SizedWriter 时返回 len(data)。
func WriteSized(ctx context.Context, v Vault, path string, data []byte) (int, error) {
	if sw, ok := v.(SizedWriter); ok {
		return sw.WriteSized(ctx, path, data)
	}
	if err := v.Write(ctx, path, data); err != nil {
		return 0, err
	}
	return len(data), nil
}

// ErrNotFound 表示对象不存在。
var ErrNotFound = errors.New("vault object not found")

// StorageError 描述一次失败的 vault I/O，调用方可以通过 errors.As 取出路径与操作。
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("vault %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsNotFound 判断 err 是否代表对象缺失。
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTimeout 判断 err 是否由超时导致，调用方主动取消不算超时。
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// IsCanceled 判断 err 是否由调用方取消导致。
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

func wrapErr(op, path string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return err
	}
	return &StorageError{Op: op, Path: path, Err: err}
}

// Bounded 为每次调用附加统一的超时，并把底层错误包装成 StorageError。
type Bounded struct {
	inner   Vault
	timeout time.Duration
}

// WithTimeout 返回带超时的 Vault；timeout <= 0 时仅做错误包装。
func WithTimeout(inner Vault, timeout time.Duration) *Bounded {
	return &Bounded{inner: inner, timeout: timeout}
}

func (b *Bounded) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, b.timeout)
}

func (b *Bounded) Read(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	data, err := b.inner.Read(ctx, path)
	if err != nil {
		return nil, wrapErr("read", path, err)
	}
	return data, nil
}

func (b *Bounded) Write(ctx context.Context, path string, data []byte) error {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	return wrapErr("write", path, b.inner.Write(ctx, path, data))
}

func (b *Bounded) Delete(ctx context.Context, path string) error {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	return wrapErr("delete", path, b.inner.Delete(ctx, path))
}

// WriteSized 与 Write 相同，但返回内部实现报告的落盘字节数。
func (b *Bounded) WriteSized(ctx context.Context, path string, data []byte) (int, error) {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	n, err := WriteSized(ctx, b.inner, path, data)
	return n, wrapErr("write", path, err)
}

// Close 关闭内部实现（若其持有资源）。
func (b *Bounded) Close() error {
	return Close(b.inner)
}

// Close 在 v 实现 io.Closer 时释放其资源。
func Close(v Vault) error {
	if closer, ok := v.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
