package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreWriteAndSanitize(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	key, err := store.Write(context.Background(), "artifacts/job-1/game.zip", []byte("zipdata"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if key != "artifacts/job-1/game.zip" {
		t.Fatalf("key = %q", key)
	}

	data, err := os.ReadFile(filepath.Join(store.basePath, "artifacts", "job-1", "game.zip"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "zipdata" {
		t.Fatalf("data = %q", data)
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, err := store.Write(context.Background(), "../escape.zip", []byte("x")); err == nil {
		t.Fatal("expected error for traversal key")
	}
	if _, err := store.Write(context.Background(), "  ", []byte("x")); err == nil {
		t.Fatal("expected error for empty key")
	}
}
