package upload

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *ChunkStore {
	t.Helper()
	cs, err := NewChunkStore(t.TempDir(), "temp_", testLogger())
	if err != nil {
		t.Fatalf("NewChunkStore: %v", err)
	}
	return cs
}

func TestChunkStore_WriteAndRead(t *testing.T) {
	cs := newTestStore(t)

	data := []byte("hello chunk")
	if err := cs.Write("s1", 0, data); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if !cs.Exists("s1", 0) {
		t.Error("Exists = false after write")
	}
	if cs.Exists("s1", 1) {
		t.Error("Exists = true for unwritten chunk")
	}

	size, err := cs.Size("s1", 0)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != int64(len(data)) {
		t.Errorf("Size = %d, want %d", size, len(data))
	}

	got, err := os.ReadFile(cs.ChunkPath("s1", 0))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("chunk content = %q, want %q", got, data)
	}
}

func TestChunkStore_WriteOverwrites(t *testing.T) {
	cs := newTestStore(t)

	if err := cs.Write("s1", 2, []byte("aaaaaaaa")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := cs.Write("s1", 2, []byte("bb")); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	size, _ := cs.Size("s1", 2)
	if size != 2 {
		t.Errorf("Size after overwrite = %d, want 2 (create-or-truncate)", size)
	}
}

func TestChunkStore_Layout(t *testing.T) {
	cs := newTestStore(t)
	if err := cs.Write("abc", 7, []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	want := filepath.Join(cs.BaseDir(), "temp_abc", "abc.part7")
	if got := cs.ChunkPath("abc", 7); got != want {
		t.Errorf("ChunkPath = %q, want %q", got, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("expected chunk at %s: %v", want, err)
	}
}

func TestChunkStore_ChunkPaths(t *testing.T) {
	cs := newTestStore(t)
	for i := 0; i < 3; i++ {
		if err := cs.Write("s", i, []byte{byte(i)}); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	paths, err := cs.ChunkPaths("s", 3)
	if err != nil {
		t.Fatalf("ChunkPaths: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("len(paths) = %d, want 3", len(paths))
	}

	if _, err := cs.ChunkPaths("s", 4); err == nil {
		t.Error("ChunkPaths with a missing chunk must fail")
	}
}

func TestChunkStore_TotalSize(t *testing.T) {
	cs := newTestStore(t)
	cs.Write("s", 0, bytes.Repeat([]byte("a"), 10))
	cs.Write("s", 1, bytes.Repeat([]byte("b"), 5))

	total, err := cs.TotalSize("s", 2)
	if err != nil {
		t.Fatalf("TotalSize: %v", err)
	}
	if total != 15 {
		t.Errorf("TotalSize = %d, want 15", total)
	}
}

func TestChunkStore_Cleanup(t *testing.T) {
	cs := newTestStore(t)
	cs.Write("s", 0, []byte("x"))
	dir := cs.TempDir("s")

	cs.Cleanup("s")
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("temp dir still present after cleanup: %v", err)
	}

	// Cleanup of an absent session is a no-op.
	cs.Cleanup("never-existed")
}

func TestChunkStore_DiskSpacePreflight(t *testing.T) {
	cs := newTestStore(t)
	cs.SetSpaceChecker(func(path string, required int64) error {
		return diskSpaceErr("", "preflight", required, 1, nil)
	})

	err := cs.Write("s", 0, []byte("data"))
	if err == nil {
		t.Fatal("Write must fail when the space check does")
	}
	var ue *Error
	if !errors.As(err, &ue) || ue.Kind != KindDiskSpace {
		t.Errorf("error = %v, want KindDiskSpace", err)
	}
	if ue.SessionID != "s" {
		t.Errorf("sessionID = %q, want s", ue.SessionID)
	}
	if cs.Exists("s", 0) {
		t.Error("no chunk may be written after a failed preflight")
	}
}
