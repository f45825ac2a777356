//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package upload

import "math"

// UsableSpace is unavailable on this platform; preflight checks pass.
func UsableSpace(path string) (int64, error) {
	return math.MaxInt64, nil
}
