package archive

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileSystemArchive_Layout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "archive")
	a, err := NewFileSystemArchive(root)
	if err != nil {
		t.Fatalf("NewFileSystemArchive() error = %v", err)
	}

	key := "u1/e1/20240115T103000Z.eml"
	if err := a.Put(context.Background(), key, strings.NewReader("hello"), 5); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "u1", "e1", "20240115T103000Z.eml"))
	if err != nil {
		t.Fatalf("object file not written: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("object file = %q, want hello", data)
	}
}

func TestFileSystemArchive_IgnoresTempFiles(t *testing.T) {
	root := t.TempDir()
	a, err := NewFileSystemArchive(root)
	if err != nil {
		t.Fatalf("NewFileSystemArchive() error = %v", err)
	}

	if err := os.MkdirAll(filepath.Join(root, "u1"), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "u1", ".tmp-123"), []byte("partial"), 0600); err != nil {
		t.Fatal(err)
	}

	keys, err := a.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("List() = %v, want no keys", keys)
	}
}

func TestFileSystemArchive_CancelledContext(t *testing.T) {
	a, err := NewFileSystemArchive(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemArchive() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Put(ctx, "u1/x.eml", strings.NewReader("x"), 1); err == nil {
		t.Error("Put() expected error for cancelled context")
	}
}
