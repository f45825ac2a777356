package upload

import (
	"sort"
	"time"

	"github.com/haulbit/haulbit/pkg/protocol"
)

// session is one upload's tracking record. It is owned by the Registry and
// only ever touched with the registry lock held.
type session struct {
	id            string
	totalChunks   int
	received      map[int]struct{}
	fileName      string
	fileSize      int64
	chunkSize     int64
	uploadedBytes int64
	state         string
	errorMessage  string
	createdAt     time.Time
	lastUpdated   time.Time
}

func newSession(id string, totalChunks int, now time.Time) *session {
	return &session{
		id:          id,
		totalChunks: totalChunks,
		received:    make(map[int]struct{}),
		state:       protocol.StateActive,
		createdAt:   now,
		lastUpdated: now,
	}
}

// addChunk records index and credits size to the byte counter. The counter
// moves only on an absent-to-present transition, so replays do not
// double-count.
func (s *session) addChunk(index int, size int64) {
	if _, dup := s.received[index]; !dup {
		s.received[index] = struct{}{}
		s.uploadedBytes += size
	}
}

func (s *session) complete() bool {
	return len(s.received) == s.totalChunks
}

func (s *session) canResume() bool {
	return s.state == protocol.StateActive && len(s.received) < s.totalChunks
}

func (s *session) receivedSorted() []int {
	out := make([]int, 0, len(s.received))
	for i := range s.received {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

func (s *session) missing() []int {
	out := make([]int, 0, s.totalChunks-len(s.received))
	for i := 0; i < s.totalChunks; i++ {
		if _, ok := s.received[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}

func (s *session) nextExpected() int {
	for i := 0; i < s.totalChunks; i++ {
		if _, ok := s.received[i]; !ok {
			return i
		}
	}
	return s.totalChunks
}

// progress is a percentage in [0,100]: byte-based when the file size is
// known, chunk-count based otherwise.
func (s *session) progress() float64 {
	if s.fileSize > 0 {
		return float64(s.uploadedBytes) / float64(s.fileSize) * 100.0
	}
	if s.totalChunks > 0 {
		return float64(len(s.received)) / float64(s.totalChunks) * 100.0
	}
	return 0
}

// speed is the average upload rate in bytes per second since creation.
func (s *session) speed(now time.Time) float64 {
	if s.uploadedBytes == 0 {
		return 0
	}
	elapsed := now.Sub(s.createdAt).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.uploadedBytes) / elapsed
}

// eta estimates remaining transfer time. Zero when unknowable.
func (s *session) eta(now time.Time) time.Duration {
	if s.fileSize == 0 || s.uploadedBytes == 0 {
		return 0
	}
	remaining := s.fileSize - s.uploadedBytes
	if remaining <= 0 {
		return 0
	}
	sp := s.speed(now)
	if sp <= 0 {
		return 0
	}
	return time.Duration(float64(remaining) / sp * float64(time.Second))
}

func (s *session) snapshot(now time.Time) protocol.Status {
	return protocol.Status{
		SessionID:      s.id,
		TotalChunks:    s.totalChunks,
		ReceivedChunks: s.receivedSorted(),
		FileName:       s.fileName,
		FileSize:       s.fileSize,
		ChunkSize:      s.chunkSize,
		UploadedBytes:  s.uploadedBytes,
		State:          s.state,
		ErrorMessage:   s.errorMessage,
		Progress:       s.progress(),
		UploadSpeed:    s.speed(now),
		ETAMillis:      s.eta(now).Milliseconds(),
		CreatedAt:      s.createdAt,
		LastUpdatedAt:  s.lastUpdated,
	}
}

func (s *session) resumeRecord(now time.Time) protocol.Resume {
	return protocol.Resume{
		SessionID:     s.id,
		TotalChunks:   s.totalChunks,
		FileName:      s.fileName,
		FileSize:      s.fileSize,
		ChunkSize:     s.chunkSize,
		Received:      s.receivedSorted(),
		Missing:       s.missing(),
		NextExpected:  s.nextExpected(),
		UploadedBytes: s.uploadedBytes,
		Progress:      s.progress(),
		CanResume:     s.canResume(),
		Completed:     s.state == protocol.StateCompleted,
		Failed:        s.state == protocol.StateFailed,
		ErrorMessage:  s.errorMessage,
		CreatedAt:     s.createdAt,
		LastUpdatedAt: s.lastUpdated,
	}
}
