package vault

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestDirVaultWriteAndRead(t *testing.T) {
	v := newTestDirVault(t)
	payload := []byte("payload")
	if err := v.Write(context.Background(), "cache/track/42", payload); err != nil {
		t.Fatalf("write error: %v", err)
	}

	data, err := v.Read(context.Background(), "cache/track/42")
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if string(data) != string(payload) {
		t.Fatalf("payload mismatch: %s", string(data))
	}

	if err := v.Write(context.Background(), "cache/track/42", []byte("second")); err != nil {
		t.Fatalf("overwrite error: %v", err)
	}
	data, _ = v.Read(context.Background(), "cache/track/42")
	if string(data) != "second" {
		t.Fatalf("overwrite not visible: %s", string(data))
	}
}

func TestDirVaultReadMissing(t *testing.T) {
	v := newTestDirVault(t)
	if _, err := v.Read(context.Background(), "cache/missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDirVaultDeleteIsIdempotent(t *testing.T) {
	v := newTestDirVault(t)
	if err := v.Write(context.Background(), "cache/remove", []byte("data")); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if err := v.Delete(context.Background(), "cache/remove"); err != nil {
		t.Fatalf("delete error: %v", err)
	}
	if err := v.Delete(context.Background(), "cache/remove"); err != nil {
		t.Fatalf("second delete should be a no-op, got %v", err)
	}
	if _, err := v.Read(context.Background(), "cache/remove"); err != ErrNotFound {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestDirVaultIgnoresDirectories(t *testing.T) {
	v := newTestDirVault(t)
	dv, ok := v.(*dirVault)
	if !ok {
		t.Fatalf("unexpected vault type %T", v)
	}

	filePath, err := dv.entryPath("versions/model:a")
	if err != nil {
		t.Fatalf("path error: %v", err)
	}
	if err := os.MkdirAll(filePath, 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	if _, err := v.Read(context.Background(), "versions/model:a"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for directory, got %v", err)
	}
}

func TestDirVaultRejectsTraversal(t *testing.T) {
	v := newTestDirVault(t)
	dv := v.(*dirVault)
	for _, name := range []string{"", "/", "..", "../..", "../cache/x", "cache//x", "cache/x/", "/cache/x", "cache/./x"} {
		if _, err := dv.entryPath(name); err == nil {
			t.Fatalf("expected error for path %q", name)
		}
	}
	got, err := dv.entryPath("cache/x")
	if err != nil {
		t.Fatalf("path error: %v", err)
	}
	want := filepath.Join(dv.basePath, "cache"+dirSuffix, "x"+objectSuffix)
	if got != want {
		t.Fatalf("unexpected resolved path %s, want %s", got, want)
	}
}

func TestDirVaultStoresObjectsUnderOtherObjects(t *testing.T) {
	v := newTestDirVault(t)
	ctx := context.Background()
	writes := map[string]string{
		"cache/track/42":         "track",
		"cache/track/42/cover":   "cover",
		"cache/track/42.obj":     "suffixed",
		"cache/track/42.d/cover": "dir-suffixed",
	}
	for name, value := range writes {
		if err := v.Write(ctx, name, []byte(value)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	for name, value := range writes {
		data, err := v.Read(ctx, name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if string(data) != value {
			t.Fatalf("read %s = %q, want %q", name, data, value)
		}
	}

	if err := v.Delete(ctx, "cache/track/42"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := v.Read(ctx, "cache/track/42"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if data, err := v.Read(ctx, "cache/track/42/cover"); err != nil || string(data) != "cover" {
		t.Fatalf("nested object should survive, got %q, %v", data, err)
	}
}

func TestDirVaultHonorsCancelledContext(t *testing.T) {
	v := newTestDirVault(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := v.Write(ctx, "cache/x", []byte("x")); err == nil {
		t.Fatalf("write with cancelled context should fail")
	}
}

func newTestDirVault(t *testing.T) Vault {
	t.Helper()
	v, err := NewDirVault(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}
	return v
}
