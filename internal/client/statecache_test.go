package client

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStateCache_SaveLoad(t *testing.T) {
	cache := NewStateCacheAt(filepath.Join(t.TempDir(), "active.json"))

	sessions := []ActiveSession{
		{SessionID: "a", Path: "/tmp/a.bin", ChunkSize: 1024, TotalChunks: 7},
		{SessionID: "b", Path: "/tmp/b.bin", ChunkSize: 2048, TotalChunks: 3},
	}
	if err := cache.Save(sessions); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got := cache.Load()
	if len(got) != 2 {
		t.Fatalf("Load = %d sessions, want 2", len(got))
	}
	if got[0] != sessions[0] || got[1] != sessions[1] {
		t.Errorf("Load = %+v, want %+v", got, sessions)
	}
}

func TestStateCache_StaleDiscarded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "active.json")
	cache := NewStateCacheAt(path)
	cache.now = func() time.Time { return time.Now().Add(-6 * time.Minute) }

	if err := cache.Save([]ActiveSession{{SessionID: "old"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cache.now = time.Now
	if got := cache.Load(); got != nil {
		t.Errorf("Load = %+v, want nil for state older than %v", got, StaleAfter)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("stale state file must be removed")
	}
}

func TestStateCache_FreshWithinWindow(t *testing.T) {
	cache := NewStateCacheAt(filepath.Join(t.TempDir(), "active.json"))
	cache.now = func() time.Time { return time.Now().Add(-4 * time.Minute) }
	cache.Save([]ActiveSession{{SessionID: "recent"}})

	cache.now = time.Now
	if got := cache.Load(); len(got) != 1 || got[0].SessionID != "recent" {
		t.Errorf("Load = %+v, want the recent session", got)
	}
}

func TestStateCache_CorruptDiscarded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "active.json")
	os.WriteFile(path, []byte("{not json"), 0o644)

	cache := NewStateCacheAt(path)
	if got := cache.Load(); got != nil {
		t.Errorf("Load = %+v, want nil for corrupt state", got)
	}
}

func TestStateCache_AbsentIsNil(t *testing.T) {
	cache := NewStateCacheAt(filepath.Join(t.TempDir(), "missing.json"))
	if got := cache.Load(); got != nil {
		t.Errorf("Load = %+v, want nil", got)
	}
	cache.Clear()
}
