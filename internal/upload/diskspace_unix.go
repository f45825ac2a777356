//go:build linux || darwin || freebsd || netbsd || openbsd

package upload

import "golang.org/x/sys/unix"

// UsableSpace returns the usable bytes on the volume holding path.
func UsableSpace(path string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}
