package upload

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ChunkStore persists individual chunks under per-session temporary
// directories until assembly. Layout:
//
//	<base>/<prefix><sessionID>/<sessionID>.part<index>
type ChunkStore struct {
	baseDir    string
	tempPrefix string
	checkSpace SpaceChecker
	logger     *slog.Logger
}

// NewChunkStore creates a store rooted at baseDir, creating the directory if
// needed.
func NewChunkStore(baseDir, tempPrefix string, logger *slog.Logger) (*ChunkStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, storageErr("", "init", fmt.Errorf("create base directory %s: %w", baseDir, err))
	}
	logger.Info("storage directory ready", "dir", baseDir)
	return &ChunkStore{
		baseDir:    baseDir,
		tempPrefix: tempPrefix,
		checkSpace: CheckSpace,
		logger:     logger,
	}, nil
}

// SetSpaceChecker overrides the disk-space preflight (for tests).
func (cs *ChunkStore) SetSpaceChecker(fn SpaceChecker) {
	if fn != nil {
		cs.checkSpace = fn
	}
}

// BaseDir returns the destination directory for assembled files.
func (cs *ChunkStore) BaseDir() string { return cs.baseDir }

// TempDir returns the temporary directory for a session.
func (cs *ChunkStore) TempDir(sessionID string) string {
	return filepath.Join(cs.baseDir, cs.tempPrefix+sessionID)
}

// ChunkPath returns the on-disk path of one chunk.
func (cs *ChunkStore) ChunkPath(sessionID string, index int) string {
	return filepath.Join(cs.TempDir(sessionID), fmt.Sprintf("%s.part%d", sessionID, index))
}

// Write persists one chunk, replacing any previous artifact at the same
// index. The write is create-or-truncate so a replay converges on the same
// bytes.
func (cs *ChunkStore) Write(sessionID string, index int, data []byte) error {
	dir := cs.TempDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return storageErr(sessionID, "create_temp_dir", err)
	}

	if err := cs.checkSpace(dir, int64(len(data))); err != nil {
		if se := AsError(err); se != nil {
			se.SessionID = sessionID
			return se
		}
		return diskSpaceErr(sessionID, "save_chunk", int64(len(data)), -1, err)
	}

	path := cs.ChunkPath(sessionID, index)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		if isSpaceError(err) {
			return diskSpaceErr(sessionID, "save_chunk", int64(len(data)), -1, err)
		}
		return storageErr(sessionID, "save_chunk", err)
	}
	cs.logger.Debug("saved chunk", "session", sessionID, "chunk", index, "bytes", len(data))
	return nil
}

// Exists reports whether the chunk file is on disk.
func (cs *ChunkStore) Exists(sessionID string, index int) bool {
	_, err := os.Stat(cs.ChunkPath(sessionID, index))
	return err == nil
}

// Size returns the byte length of one chunk file.
func (cs *ChunkStore) Size(sessionID string, index int) (int64, error) {
	info, err := os.Stat(cs.ChunkPath(sessionID, index))
	if err != nil {
		return 0, storageErr(sessionID, "chunk_size", err)
	}
	return info.Size(), nil
}

// ChunkPaths returns the paths of chunks 0..totalChunks-1, failing if any
// file is missing.
func (cs *ChunkStore) ChunkPaths(sessionID string, totalChunks int) ([]string, error) {
	paths := make([]string, totalChunks)
	for i := 0; i < totalChunks; i++ {
		p := cs.ChunkPath(sessionID, i)
		if _, err := os.Stat(p); err != nil {
			return nil, storageErr(sessionID, "list_chunks", fmt.Errorf("missing chunk file %d: %w", i, err))
		}
		paths[i] = p
	}
	return paths, nil
}

// AllExist reports whether every chunk file of the session is on disk.
func (cs *ChunkStore) AllExist(sessionID string, totalChunks int) bool {
	for i := 0; i < totalChunks; i++ {
		if !cs.Exists(sessionID, i) {
			return false
		}
	}
	return true
}

// TotalSize sums the chunk file sizes for a session.
func (cs *ChunkStore) TotalSize(sessionID string, totalChunks int) (int64, error) {
	var total int64
	for i := 0; i < totalChunks; i++ {
		n, err := cs.Size(sessionID, i)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Cleanup removes the session's temporary directory. Best effort: per-entry
// failures are logged and swallowed.
func (cs *ChunkStore) Cleanup(sessionID string) {
	dir := cs.TempDir(sessionID)
	if _, err := os.Stat(dir); err != nil {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		cs.logger.Warn("cleanup failed, retrying per entry", "session", sessionID, "error", err)
		// RemoveAll stops at the first undeletable entry on some platforms.
		// Walk what remains and delete whatever still can be.
		entries, readErr := os.ReadDir(dir)
		if readErr != nil {
			return
		}
		for _, e := range entries {
			if rmErr := os.Remove(filepath.Join(dir, e.Name())); rmErr != nil {
				cs.logger.Warn("could not delete temp entry", "session", sessionID, "entry", e.Name(), "error", rmErr)
			}
		}
		_ = os.Remove(dir)
		return
	}
	cs.logger.Debug("removed temp directory", "session", sessionID)
}
