package client

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haulbit/haulbit/internal/httpapi"
	"github.com/haulbit/haulbit/internal/upload"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startServer brings up a real upload server, optionally behind a wrapper
// for fault injection, and returns its base URL plus the storage directory.
func startServer(t *testing.T, wrap func(http.Handler) http.Handler) (string, string) {
	t.Helper()
	logger := discardLogger()

	store, err := upload.NewChunkStore(t.TempDir(), "temp_", logger)
	if err != nil {
		t.Fatalf("NewChunkStore: %v", err)
	}
	registry := upload.NewRegistry(logger)
	validator := upload.NewValidator(upload.Limits{
		MaxChunkSize:  100 * 1024 * 1024,
		MaxChunkCount: 10000,
	})
	coord := upload.NewCoordinator(registry, store, upload.NewAssembler(store, logger), validator, upload.NewHub(), 10, 4, logger)

	handler := httpapi.New(coord, httpapi.Options{MaxChunkSize: 100 * 1024 * 1024}, logger).Handler()
	if wrap != nil {
		handler = wrap(handler)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv.URL, store.BaseDir()
}

func makeSourceFile(t *testing.T, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i * 31)
	}
	path := filepath.Join(t.TempDir(), "source.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path, data
}

func newTestPump(t *testing.T, baseURL string, sender Sender, concurrency int) (*Pump, *Tasks) {
	t.Helper()
	api := NewAPI(baseURL, 10*time.Second, false)
	tasks := NewTasks()
	policy := NewRetryPolicy(3, time.Millisecond)
	return NewPump(api, sender, tasks, policy, concurrency, discardLogger()), tasks
}

// waitForState consumes task events until the wanted terminal state shows up.
func waitForState(t *testing.T, tasks *Tasks, want TaskState, timeout time.Duration) TaskEvent {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-tasks.Events():
			if ev.State == want {
				return ev
			}
			if ev.State == StateFailed && want != StateFailed {
				t.Fatalf("task failed: %s", ev.Err)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %q", want)
		}
	}
}

func TestPump_RoundTripMultipart(t *testing.T) {
	baseURL, destDir := startServer(t, nil)
	path, data := makeSourceFile(t, 613)

	task, err := NewTask("rt-multipart", path, 64)
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	pump, tasks := newTestPump(t, baseURL, &MultipartSender{Client: NewHTTPClient(10*time.Second, false)}, 3)
	tasks.Add(task)

	pump.Start(task)
	waitForState(t, tasks, StateCompleted, 10*time.Second)

	got, err := os.ReadFile(filepath.Join(destDir, "source.bin"))
	if err != nil {
		t.Fatalf("assembled file: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("assembled output differs from source")
	}
}

func TestPump_RoundTripBinary(t *testing.T) {
	baseURL, destDir := startServer(t, nil)
	path, data := makeSourceFile(t, 1000)

	task, err := NewTask("rt-binary", path, 128)
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	pump, tasks := newTestPump(t, baseURL, &BinarySender{Client: NewHTTPClient(10*time.Second, false)}, 2)
	tasks.Add(task)

	pump.Start(task)
	waitForState(t, tasks, StateCompleted, 10*time.Second)

	got, err := os.ReadFile(filepath.Join(destDir, "source.bin"))
	if err != nil {
		t.Fatalf("assembled file: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("assembled output differs from source")
	}
}

func TestPump_StartIdempotent(t *testing.T) {
	baseURL, destDir := startServer(t, nil)
	path, data := makeSourceFile(t, 300)

	task, _ := NewTask("idem", path, 50)
	pump, tasks := newTestPump(t, baseURL, &BinarySender{Client: NewHTTPClient(10*time.Second, false)}, 2)
	tasks.Add(task)

	pump.Start(task)
	pump.Start(task) // second call while running is a no-op
	waitForState(t, tasks, StateCompleted, 10*time.Second)

	got, _ := os.ReadFile(filepath.Join(destDir, "source.bin"))
	if !bytes.Equal(got, data) {
		t.Error("assembled output differs from source")
	}
	// A duplicate dispatch would have produced a second destination file.
	if _, err := os.Stat(filepath.Join(destDir, "source_1.bin")); !os.IsNotExist(err) {
		t.Error("duplicate start must not re-upload into a second file")
	}
}

func TestPump_RetriesTransientFailures(t *testing.T) {
	var failures int32 = 3
	wrap := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/upload/binary" && atomic.AddInt32(&failures, -1) >= 0 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	baseURL, destDir := startServer(t, wrap)
	path, data := makeSourceFile(t, 256)

	task, _ := NewTask("flaky", path, 64)
	pump, tasks := newTestPump(t, baseURL, &BinarySender{Client: NewHTTPClient(10*time.Second, false)}, 1)
	tasks.Add(task)

	pump.Start(task)
	waitForState(t, tasks, StateCompleted, 10*time.Second)

	got, _ := os.ReadFile(filepath.Join(destDir, "source.bin"))
	if !bytes.Equal(got, data) {
		t.Error("assembled output differs from source")
	}
}

func TestPump_NonRetryableFailsTask(t *testing.T) {
	var rejected int32
	wrap := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/upload/binary" && atomic.CompareAndSwapInt32(&rejected, 0, 1) {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	baseURL, _ := startServer(t, wrap)
	path, _ := makeSourceFile(t, 256)

	task, _ := NewTask("fatal", path, 64)
	pump, tasks := newTestPump(t, baseURL, &BinarySender{Client: NewHTTPClient(10*time.Second, false)}, 1)
	tasks.Add(task)

	pump.Start(task)
	ev := waitForState(t, tasks, StateFailed, 10*time.Second)
	if ev.Err == "" {
		t.Error("failed event must carry the server message")
	}
	if task.State() != StateFailed {
		t.Errorf("state = %q, want failed", task.State())
	}
}

func TestPump_PauseAndResume(t *testing.T) {
	wrap := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/upload/binary" {
				time.Sleep(20 * time.Millisecond)
			}
			next.ServeHTTP(w, r)
		})
	}
	baseURL, destDir := startServer(t, wrap)
	path, data := makeSourceFile(t, 1280) // 20 chunks of 64

	task, _ := NewTask("pausable", path, 64)
	pump, tasks := newTestPump(t, baseURL, &BinarySender{Client: NewHTTPClient(10*time.Second, false)}, 1)
	tasks.Add(task)

	pump.Start(task)
	waitForState(t, tasks, StateUploading, 5*time.Second)
	pump.Pause("pausable")

	if got := task.State(); got != StatePaused {
		t.Fatalf("state after pause = %q, want paused", got)
	}
	// Dispatch must have stopped well short of the full set.
	time.Sleep(100 * time.Millisecond)
	if task.ReceivedCount() >= task.TotalChunks() {
		t.Fatal("pause must stop dispatch before completion")
	}

	if err := pump.Resume(context.Background(), "pausable"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitForState(t, tasks, StateCompleted, 15*time.Second)

	got, err := os.ReadFile(filepath.Join(destDir, "source.bin"))
	if err != nil {
		t.Fatalf("assembled file: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("assembled output differs from source")
	}
}

func TestPump_CancelRemovesServerSession(t *testing.T) {
	wrap := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/upload/binary" {
				time.Sleep(20 * time.Millisecond)
			}
			next.ServeHTTP(w, r)
		})
	}
	baseURL, _ := startServer(t, wrap)
	path, _ := makeSourceFile(t, 1280)

	task, _ := NewTask("doomed", path, 64)
	pump, tasks := newTestPump(t, baseURL, &BinarySender{Client: NewHTTPClient(10*time.Second, false)}, 1)
	tasks.Add(task)

	pump.Start(task)
	waitForState(t, tasks, StateUploading, 5*time.Second)

	if err := pump.Cancel(context.Background(), "doomed"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, ok := tasks.Get("doomed"); ok {
		t.Error("cancelled task must be discarded")
	}

	resp, err := http.Get(baseURL + "/upload/doomed")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status after cancel = %d, want 404", resp.StatusCode)
	}
}

func TestPump_ResumeSkipsServerHeldChunks(t *testing.T) {
	baseURL, destDir := startServer(t, nil)
	path, data := makeSourceFile(t, 640) // 10 chunks of 64

	// Pre-seed the server with chunks 0..4, as a crashed client would have.
	seed := &BinarySender{Client: NewHTTPClient(10*time.Second, false)}
	for i := 0; i < 5; i++ {
		chunk := Chunk{SessionID: "reborn", Index: i, TotalChunks: 10, FileName: "source.bin", Data: data[i*64 : (i+1)*64]}
		if err := seed.Send(context.Background(), baseURL, chunk); err != nil {
			t.Fatalf("seed chunk %d: %v", i, err)
		}
	}

	var sent int32
	wrapSender := senderFunc(func(ctx context.Context, base string, c Chunk) error {
		atomic.AddInt32(&sent, 1)
		return seed.Send(ctx, base, c)
	})

	task, _ := NewTask("reborn", path, 64)
	pump, tasks := newTestPump(t, baseURL, wrapSender, 2)
	tasks.Add(task)

	// The resume path queries the server before dispatch.
	if err := pump.Resume(context.Background(), "reborn"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitForState(t, tasks, StateCompleted, 10*time.Second)

	if n := atomic.LoadInt32(&sent); n != 5 {
		t.Errorf("sent %d chunks after resume, want only the 5 missing", n)
	}
	got, _ := os.ReadFile(filepath.Join(destDir, "source.bin"))
	if !bytes.Equal(got, data) {
		t.Error("assembled output differs from source")
	}
}

type senderFunc func(ctx context.Context, baseURL string, chunk Chunk) error

func (f senderFunc) Send(ctx context.Context, baseURL string, chunk Chunk) error {
	return f(ctx, baseURL, chunk)
}
