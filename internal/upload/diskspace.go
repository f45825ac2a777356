package upload

import (
	"fmt"
	"strings"
)

const (
	// MinFreeSpace is the absolute usable-space floor kept free on the volume.
	MinFreeSpace = 100 * 1024 * 1024
	// SafetyBuffer is added to every space requirement before checking.
	SafetyBuffer = 50 * 1024 * 1024
)

// SpaceChecker reports whether path's volume can hold required more bytes.
// The production implementation consults the filesystem; tests substitute
// their own to simulate full disks.
type SpaceChecker func(path string, required int64) error

// CheckSpace verifies the volume holding path has room for required bytes
// plus the safety buffer, and stays above the minimum free threshold.
func CheckSpace(path string, required int64) error {
	usable, err := UsableSpace(path)
	if err != nil {
		// Statfs itself failing is treated as no space: refusing the write is
		// safer than allocating blind.
		return diskSpaceErr("", "statfs", required, -1, err)
	}
	if usable < required+SafetyBuffer || usable < MinFreeSpace {
		return diskSpaceErr("", "preflight", required, usable, nil)
	}
	return nil
}

// FormatBytes renders a byte count in a human-readable unit.
func FormatBytes(n int64) string {
	if n < 0 {
		return "unknown"
	}
	units := []string{"B", "KB", "MB", "GB", "TB"}
	size := float64(n)
	i := 0
	for size >= 1024 && i < len(units)-1 {
		size /= 1024
		i++
	}
	return fmt.Sprintf("%.1f %s", size, units[i])
}

// isSpaceError reports whether err looks like the filesystem running out of
// room, for promoting wrapped write failures to the disk-space kind.
func isSpaceError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"no space left",
		"not enough space",
		"insufficient space",
		"disk full",
		"out of space",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
