package client

import (
	"fmt"
	"io"
)

// Slicer produces chunk byte ranges from a file on demand using positional
// reads, so concurrent chunk sends never contend on a shared offset and the
// file is never materialized in memory.
type Slicer struct {
	src       io.ReaderAt
	fileSize  int64
	chunkSize int64
}

// NewSlicer creates a slicer over src. chunkSize must be positive.
func NewSlicer(src io.ReaderAt, fileSize, chunkSize int64) (*Slicer, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if fileSize < 0 {
		return nil, fmt.Errorf("file size must be non-negative, got %d", fileSize)
	}
	return &Slicer{src: src, fileSize: fileSize, chunkSize: chunkSize}, nil
}

// TotalChunks returns the number of chunks the file divides into. An empty
// file still occupies one (empty) chunk.
func (s *Slicer) TotalChunks() int {
	if s.fileSize == 0 {
		return 1
	}
	return int((s.fileSize + s.chunkSize - 1) / s.chunkSize)
}

// ChunkSize returns the configured chunk size.
func (s *Slicer) ChunkSize() int64 { return s.chunkSize }

// FileSize returns the source file size.
func (s *Slicer) FileSize() int64 { return s.fileSize }

// ReadChunk returns the exact bytes of chunk index.
func (s *Slicer) ReadChunk(index int) ([]byte, error) {
	total := s.TotalChunks()
	if index < 0 || index >= total {
		return nil, fmt.Errorf("chunk index %d out of range [0,%d)", index, total)
	}
	start := int64(index) * s.chunkSize
	end := start + s.chunkSize
	if end > s.fileSize {
		end = s.fileSize
	}
	buf := make([]byte, end-start)
	if len(buf) == 0 {
		return buf, nil
	}
	n, err := s.src.ReadAt(buf, start)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read chunk %d: %w", index, err)
	}
	if int64(n) != end-start {
		return nil, fmt.Errorf("short read for chunk %d: %d of %d bytes", index, n, end-start)
	}
	return buf, nil
}
