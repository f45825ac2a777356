package upload

import (
	"log/slog"
	"sync"
	"time"

	"github.com/haulbit/haulbit/pkg/protocol"
)

// Metadata is the optional session metadata a client may supply on a resume
// handshake or first chunk.
type Metadata struct {
	FileName  string
	FileSize  int64
	ChunkSize int64
}

// Registry is the thread-safe in-memory database of upload sessions. It is
// the exclusive owner of session records; callers only ever see snapshots.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
	logger   *slog.Logger
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return NewRegistryWithNow(logger, time.Now)
}

// NewRegistryWithNow creates a registry with a custom time source (for tests).
func NewRegistryWithNow(logger *slog.Logger, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		sessions: make(map[string]*session),
		logger:   logger,
		now:      now,
	}
}

// GetOrCreate returns the session for id, creating it with totalChunks when
// absent. A totalChunks mismatch on an existing session keeps the stored
// value (first wins) and logs the violation.
func (r *Registry) GetOrCreate(id string, totalChunks int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getOrCreateLocked(id, totalChunks)
}

func (r *Registry) getOrCreateLocked(id string, totalChunks int) *session {
	if s, ok := r.sessions[id]; ok {
		if s.totalChunks != totalChunks {
			r.logger.Warn("totalChunks mismatch, keeping original",
				"session", id, "stored", s.totalChunks, "got", totalChunks)
		}
		return s
	}
	s := newSession(id, totalChunks, r.now())
	r.sessions[id] = s
	r.logger.Debug("created upload session", "session", id, "total_chunks", totalChunks)
	return s
}

// GetOrCreateWithMetadata is GetOrCreate plus metadata application. Filename
// is first-write-wins; size fields fill in when previously unset.
func (r *Registry) GetOrCreateWithMetadata(id string, totalChunks int, md Metadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.getOrCreateLocked(id, totalChunks)
	r.applyMetadataLocked(s, md)
}

func (r *Registry) applyMetadataLocked(s *session, md Metadata) {
	if s.fileName == "" && md.FileName != "" {
		s.fileName = md.FileName
	}
	if s.fileSize == 0 && md.FileSize > 0 {
		s.fileSize = md.FileSize
	}
	if s.chunkSize == 0 && md.ChunkSize > 0 {
		s.chunkSize = md.ChunkSize
	}
	s.lastUpdated = r.now()
}

// SetFileName records the original filename, first non-empty value wins.
func (r *Registry) SetFileName(id, fileName string) {
	if fileName == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok && s.fileName == "" {
		s.fileName = fileName
		s.lastUpdated = r.now()
	}
}

// SetMetadata updates optional metadata on an existing session.
func (r *Registry) SetMetadata(id string, md Metadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		r.applyMetadataLocked(s, md)
	}
}

// AddChunk records a received chunk and credits its byte size. Unknown
// sessions are logged and ignored.
func (r *Registry) AddChunk(id string, index int, size int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		r.logger.Warn("chunk for unknown session", "session", id, "chunk", index)
		return
	}
	s.addChunk(index, size)
	s.lastUpdated = r.now()
}

// HasChunk reports whether index is already recorded for id.
func (r *Registry) HasChunk(id string, index int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	_, got := s.received[index]
	return got
}

// IsComplete reports whether every chunk of id has been received.
func (r *Registry) IsComplete(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return ok && s.complete()
}

// Missing returns the missing chunk indices for id in ascending order.
func (r *Registry) Missing(id string) ([]int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return s.missing(), true
}

// FileName returns the stored filename for id.
func (r *Registry) FileName(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return "", false
	}
	return s.fileName, true
}

// TotalChunks returns the fixed chunk count for id.
func (r *Registry) TotalChunks(id string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return 0, false
	}
	return s.totalChunks, true
}

// MarkCompleted transitions id to the completed state.
func (r *Registry) MarkCompleted(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.state = protocol.StateCompleted
		s.lastUpdated = r.now()
	}
}

// MarkFailed transitions id to the failed state with a reason.
func (r *Registry) MarkFailed(id, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.state = protocol.StateFailed
		s.errorMessage = message
		s.lastUpdated = r.now()
	}
}

// Remove deletes id from the registry. Safe on absent ids.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Status returns a snapshot of id.
func (r *Registry) Status(id string) (protocol.Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return protocol.Status{}, false
	}
	return s.snapshot(r.now()), true
}

// Resume returns the resume record for id.
func (r *Registry) Resume(id string) (protocol.Resume, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return protocol.Resume{}, false
	}
	return s.resumeRecord(r.now()), true
}

// All returns snapshots of every session.
func (r *Registry) All() []protocol.Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()
	out := make([]protocol.Status, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.snapshot(now))
	}
	return out
}

// Resumable returns snapshots of sessions that can still accept chunks.
func (r *Registry) Resumable() []protocol.Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()
	out := make([]protocol.Status, 0)
	for _, s := range r.sessions {
		if s.canResume() {
			out = append(out, s.snapshot(now))
		}
	}
	return out
}

// Stats returns registry totals by lifecycle state.
func (r *Registry) Stats() protocol.Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := protocol.Stats{TotalUploads: len(r.sessions)}
	for _, s := range r.sessions {
		switch s.state {
		case protocol.StateCompleted:
			st.CompletedUploads++
		case protocol.StateFailed:
			st.FailedUploads++
		default:
			st.InProgressUploads++
		}
	}
	st.InProgressUploads = st.TotalUploads - st.CompletedUploads - st.FailedUploads
	return st
}

// Cleanup removes terminal sessions whose last update is older than maxAge
// and returns their ids.
func (r *Registry) Cleanup(maxAge time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var removed []string
	for id, s := range r.sessions {
		terminal := s.state == protocol.StateCompleted || s.state == protocol.StateFailed
		if terminal && now.Sub(s.lastUpdated) >= maxAge {
			delete(r.sessions, id)
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		r.logger.Info("cleaned up old upload sessions", "count", len(removed))
	}
	return removed
}
