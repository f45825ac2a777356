package upload

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Assembler streams a complete chunk set into a single destination file.
// io.Copy between two *os.File values uses the kernel's file-to-file
// transfer (copy_file_range / sendfile) so chunk bytes never round-trip
// through a user-space buffer.
type Assembler struct {
	store  *ChunkStore
	logger *slog.Logger
}

// NewAssembler creates an assembler over the given chunk store.
func NewAssembler(store *ChunkStore, logger *slog.Logger) *Assembler {
	return &Assembler{store: store, logger: logger}
}

// Assemble concatenates chunks 0..totalChunks-1 into the destination derived
// from fileName and returns the final path. On any failure the partial
// destination is deleted and the temp chunks are left for inspection.
func (a *Assembler) Assemble(sessionID string, totalChunks int, fileName string) (string, error) {
	paths, err := a.store.ChunkPaths(sessionID, totalChunks)
	if err != nil {
		return "", assemblyErr(sessionID, err)
	}

	var totalSize int64
	for _, p := range paths {
		info, statErr := os.Stat(p)
		if statErr != nil {
			return "", assemblyErr(sessionID, statErr)
		}
		totalSize += info.Size()
	}

	dest := a.destinationPath(fileName, sessionID)

	if err := a.store.checkSpace(a.store.baseDir, totalSize); err != nil {
		if se := AsError(err); se != nil {
			se.SessionID = sessionID
			se.Op = "assemble"
			return "", se
		}
		return "", diskSpaceErr(sessionID, "assemble", totalSize, -1, err)
	}

	a.logger.Info("assembling file", "session", sessionID, "chunks", totalChunks, "dest", dest, "bytes", totalSize)

	if err := a.concat(paths, dest, sessionID); err != nil {
		return "", err
	}
	return dest, nil
}

func (a *Assembler) concat(paths []string, dest, sessionID string) error {
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return assemblyErr(sessionID, fmt.Errorf("open destination: %w", err))
	}

	fail := func(cause error) error {
		out.Close()
		if rmErr := os.Remove(dest); rmErr != nil {
			a.logger.Warn("could not remove partial destination", "path", dest, "error", rmErr)
		}
		if isSpaceError(cause) {
			return diskSpaceErr(sessionID, "assemble", 0, -1, cause)
		}
		return assemblyErr(sessionID, cause)
	}

	for i, p := range paths {
		in, openErr := os.Open(p)
		if openErr != nil {
			return fail(fmt.Errorf("open chunk %d: %w", i, openErr))
		}
		info, statErr := in.Stat()
		if statErr != nil {
			in.Close()
			return fail(fmt.Errorf("stat chunk %d: %w", i, statErr))
		}
		want := info.Size()
		n, copyErr := io.Copy(out, in)
		in.Close()
		if copyErr != nil {
			return fail(fmt.Errorf("transfer chunk %d: %w", i, copyErr))
		}
		if n != want {
			return fail(fmt.Errorf("incomplete transfer of chunk %d: %d of %d bytes", i, n, want))
		}
	}

	if err := out.Close(); err != nil {
		return fail(fmt.Errorf("close destination: %w", err))
	}
	return nil
}

// Validate re-checks that the assembled file's size equals the sum of the
// chunk sizes still on disk.
func (a *Assembler) Validate(sessionID string, totalChunks int, assembled string) (bool, error) {
	info, err := os.Stat(assembled)
	if err != nil {
		return false, err
	}
	want, err := a.store.TotalSize(sessionID, totalChunks)
	if err != nil {
		return false, err
	}
	return info.Size() == want, nil
}

// destinationPath resolves the final path inside the base directory, suffixing
// the base name with _1, _2, ... until it does not collide.
func (a *Assembler) destinationPath(fileName, sessionID string) string {
	if strings.TrimSpace(fileName) == "" {
		fileName = sessionID + ".bin"
	}
	dest := filepath.Join(a.store.baseDir, fileName)
	base, ext := splitExt(fileName)
	for n := 1; ; n++ {
		if _, err := os.Stat(dest); os.IsNotExist(err) {
			return dest
		}
		dest = filepath.Join(a.store.baseDir, fmt.Sprintf("%s_%d%s", base, n, ext))
	}
}

// splitExt splits "name.tar.gz" into ("name.tar", ".gz"); a leading dot is
// not treated as an extension.
func splitExt(name string) (string, string) {
	dot := strings.LastIndex(name, ".")
	if dot <= 0 {
		return name, ""
	}
	return name[:dot], name[dot:]
}
