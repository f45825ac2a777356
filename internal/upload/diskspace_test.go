package upload

import (
	"errors"
	"testing"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{-1, "unknown"},
		{0, "0.0 B"},
		{512, "512.0 B"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsSpaceError(t *testing.T) {
	if !isSpaceError(errors.New("write /x: no space left on device")) {
		t.Error("ENOSPC message must be recognized")
	}
	if isSpaceError(errors.New("permission denied")) {
		t.Error("unrelated error must not be treated as disk-full")
	}
	if isSpaceError(nil) {
		t.Error("nil is not a space error")
	}
}

func TestUsableSpace(t *testing.T) {
	n, err := UsableSpace(t.TempDir())
	if err != nil {
		t.Fatalf("UsableSpace: %v", err)
	}
	if n <= 0 {
		t.Errorf("usable space = %d, want > 0", n)
	}
}
