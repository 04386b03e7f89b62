package vault

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

type slowVault struct {
	Vault
	delay time.Duration
}

func (s slowVault) Read(ctx context.Context, path string) ([]byte, error) {
	select {
	case <-time.After(s.delay):
		return s.Vault.Read(ctx, path)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s slowVault) Write(ctx context.Context, path string, data []byte) error {
	select {
	case <-time.After(s.delay):
		return s.Vault.Write(ctx, path, data)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestBoundedSurfacesTimeoutAsStorageError(t *testing.T) {
	b := WithTimeout(slowVault{Vault: NewMemoryVault(), delay: time.Second}, 20*time.Millisecond)

	err := b.Write(context.Background(), "cache/x", []byte("x"))
	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if storageErr.Op != "write" || storageErr.Path != "cache/x" {
		t.Fatalf("unexpected error details: %+v", storageErr)
	}
	if !IsTimeout(err) {
		t.Fatalf("expected timeout classification, got %v", err)
	}

	if _, err := b.Read(context.Background(), "cache/x"); !IsTimeout(err) {
		t.Fatalf("expected read timeout, got %v", err)
	}
}

func TestBoundedKeepsNotFoundUnwrapped(t *testing.T) {
	b := WithTimeout(NewMemoryVault(), time.Second)
	_, err := b.Read(context.Background(), "missing")
	if err != ErrNotFound {
		t.Fatalf("expected bare ErrNotFound, got %v", err)
	}
	if err := b.Delete(context.Background(), "missing"); err != nil {
		t.Fatalf("delete missing should succeed, got %v", err)
	}
}

func TestSQLiteVault(t *testing.T) {
	v, err := OpenSQLite(filepath.Join(t.TempDir(), "vault.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = v.Close() })

	ctx := context.Background()
	if _, err := v.Read(ctx, "cache/a"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := v.Write(ctx, "cache/a", []byte("one")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := v.Write(ctx, "cache/a", []byte("two")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	data, err := v.Read(ctx, "cache/a")
	if err != nil || string(data) != "two" {
		t.Fatalf("read = %q, %v", string(data), err)
	}
	if err := v.Delete(ctx, "cache/a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := v.Delete(ctx, "cache/a"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := v.Read(ctx, "cache/a"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestS3VaultConfigValidation(t *testing.T) {
	if _, err := NewS3Vault(S3Config{Bucket: "b"}); err == nil {
		t.Fatalf("missing endpoint should fail")
	}
	if _, err := NewS3Vault(S3Config{Endpoint: "localhost:9000"}); err == nil {
		t.Fatalf("missing bucket should fail")
	}
	v, err := NewS3Vault(S3Config{Endpoint: "localhost:9000", Bucket: "media", Prefix: "/engine/"})
	if err != nil {
		t.Fatalf("valid config: %v", err)
	}
	if got := v.key("/cache/track/42"); got != "engine/cache/track/42" {
		t.Fatalf("unexpected object key %s", got)
	}
}

func TestOpenBuildsBackends(t *testing.T) {
	dir := t.TempDir()
	testCases := []struct {
		name      string
		opts      Options
		shouldErr bool
	}{
		{"fs", Options{Backend: BackendDir, Path: filepath.Join(dir, "fs")}, false},
		{"default backend", Options{Path: filepath.Join(dir, "default")}, false},
		{"memory", Options{Backend: BackendMemory}, false},
		{"sqlite", Options{Backend: BackendSQLite, Path: filepath.Join(dir, "v.db")}, false},
		{"unknown", Options{Backend: "tape"}, true},
		{"fs without path", Options{Backend: BackendDir}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := Open(tc.opts)
			if tc.shouldErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			t.Cleanup(func() { _ = v.Close() })

			ctx := context.Background()
			if err := v.Write(ctx, "cache/k", []byte("value")); err != nil {
				t.Fatalf("write: %v", err)
			}
			data, err := v.Read(ctx, "cache/k")
			if err != nil || string(data) != "value" {
				t.Fatalf("read = %q, %v", string(data), err)
			}
		})
	}
}
