package client

import (
	"os"
	"sync"

	"github.com/haulbit/haulbit/internal/progress"
)

// TaskState is the client-side lifecycle of one upload.
type TaskState string

const (
	StatePending    TaskState = "pending"
	StateUploading  TaskState = "uploading"
	StatePaused     TaskState = "paused"
	StateCompleting TaskState = "completing"
	StateCompleted  TaskState = "completed"
	StateFailed     TaskState = "failed"
	StateCancelled  TaskState = "cancelled"
)

// terminal reports whether no further transitions are possible.
func (s TaskState) terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// TaskEvent is one progress notification for the presentation layer.
type TaskEvent struct {
	SessionID string
	State     TaskState
	Chunk     int
	Stats     progress.Stats
	Err       string
}

// Task mirrors one server session on the client: the open file handle, the
// received-chunk set, lifecycle state and progress estimators. The file
// handle is exclusively owned by the task; the slicer reads positional
// ranges so concurrent chunk sends never share an offset.
type Task struct {
	ID       string
	Path     string
	FileName string

	mu       sync.Mutex
	file     *os.File
	slicer   *Slicer
	total    int
	received map[int]struct{}
	state    TaskState
	paused   bool
	running  bool
	errMsg   string
	abort    func() // cancels in-flight sends; nil when not running

	Meter *progress.Meter
}

// NewTask opens path and prepares an upload task with the given session id
// and chunk size.
func NewTask(id, path string, chunkSize int64) (*Task, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	slicer, err := NewSlicer(f, info.Size(), chunkSize)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Task{
		ID:       id,
		Path:     path,
		FileName: info.Name(),
		file:     f,
		slicer:   slicer,
		total:    slicer.TotalChunks(),
		received: make(map[int]struct{}),
		state:    StatePending,
		Meter:    progress.NewMeter(),
	}, nil
}

// TotalChunks returns the fixed chunk count.
func (t *Task) TotalChunks() int { return t.total }

// ChunkSize returns the slice size.
func (t *Task) ChunkSize() int64 { return t.slicer.ChunkSize() }

// FileSize returns the source file size.
func (t *Task) FileSize() int64 { return t.slicer.FileSize() }

// State returns the current lifecycle state.
func (t *Task) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// MarkReceived records chunks the server already holds (from a resume
// handshake) without crediting transfer rate.
func (t *Task) MarkReceived(indices []int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, i := range indices {
		if i >= 0 && i < t.total {
			t.received[i] = struct{}{}
		}
	}
}

// ReceivedCount returns how many chunks the server has acknowledged.
func (t *Task) ReceivedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.received)
}

// missingChunks returns indices not yet acknowledged, ascending.
func (t *Task) missingChunks() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int, 0, t.total-len(t.received))
	for i := 0; i < t.total; i++ {
		if _, ok := t.received[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}

// receivedBytes sums the byte lengths of acknowledged chunks.
func (t *Task) receivedBytes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var sum int64
	for i := range t.received {
		start := int64(i) * t.slicer.ChunkSize()
		end := start + t.slicer.ChunkSize()
		if end > t.slicer.FileSize() {
			end = t.slicer.FileSize()
		}
		if end > start {
			sum += end - start
		}
	}
	return sum
}

// Close releases the file handle.
func (t *Task) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}

// Tasks is the client-side session registry: id to task, plus the bounded
// event stream a presentation layer consumes.
type Tasks struct {
	mu     sync.RWMutex
	byID   map[string]*Task
	events chan TaskEvent
}

// NewTasks creates an empty task registry.
func NewTasks() *Tasks {
	return &Tasks{
		byID:   make(map[string]*Task),
		events: make(chan TaskEvent, 128),
	}
}

// Add registers a task.
func (r *Tasks) Add(t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[t.ID] = t
}

// Get returns the task for id.
func (r *Tasks) Get(id string) (*Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	return t, ok
}

// Remove drops the task for id.
func (r *Tasks) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

// IDs returns the registered session ids.
func (r *Tasks) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byID))
	for id := range r.byID {
		out = append(out, id)
	}
	return out
}

// Events returns the stream of task events.
func (r *Tasks) Events() <-chan TaskEvent { return r.events }

// emit publishes ev, dropping it when the consumer is behind.
func (r *Tasks) emit(ev TaskEvent) {
	select {
	case r.events <- ev:
	default:
	}
}
