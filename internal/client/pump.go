package client

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Pump transfers the missing chunks of upload tasks to the server with
// bounded concurrency, and drives the pause/resume/cancel lifecycle.
type Pump struct {
	api         *API
	sender      Sender
	tasks       *Tasks
	policy      *RetryPolicy
	concurrency int
	logger      *slog.Logger
}

// NewPump wires a pump. concurrency bounds in-flight chunk sends per task.
func NewPump(api *API, sender Sender, tasks *Tasks, policy *RetryPolicy, concurrency int, logger *slog.Logger) *Pump {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pump{
		api:         api,
		sender:      sender,
		tasks:       tasks,
		policy:      policy,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Start begins or resumes transfer of t. Idempotent: starting a task that is
// already running is a no-op.
func (p *Pump) Start(t *Task) {
	t.mu.Lock()
	if t.running || t.state.terminal() {
		t.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.running = true
	t.paused = false
	t.state = StateUploading
	t.abort = cancel
	t.mu.Unlock()

	t.Meter.Start(t.FileSize(), t.receivedBytes())
	p.emitState(t, StateUploading, "")

	go p.run(ctx, t)
}

// Pause cooperatively stops dispatch and aborts in-flight sends. Chunks the
// server already acknowledged stay recorded; the session remains resumable.
func (p *Pump) Pause(id string) {
	t, ok := p.tasks.Get(id)
	if !ok {
		return
	}
	t.mu.Lock()
	if t.state.terminal() || t.state == StatePaused {
		t.mu.Unlock()
		return
	}
	t.paused = true
	t.state = StatePaused
	abort := t.abort
	t.mu.Unlock()

	if abort != nil {
		abort()
	}
	p.emitState(t, StatePaused, "")
}

// Resume clears the paused flag, refreshes the missing-chunk set from the
// server, and re-enters the dispatch loop. Also resumes from Failed.
func (p *Pump) Resume(ctx context.Context, id string) error {
	t, ok := p.tasks.Get(id)
	if !ok {
		return nil
	}
	t.mu.Lock()
	if t.running || t.state.terminal() {
		t.mu.Unlock()
		return nil
	}
	t.paused = false
	t.state = StatePending
	t.errMsg = ""
	t.mu.Unlock()

	// The server's view wins: recompute received before dispatch.
	rec, err := p.api.Resume(ctx, id, t.TotalChunks(), t.FileName, t.FileSize(), t.ChunkSize())
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.received = make(map[int]struct{}, len(rec.Received))
	t.mu.Unlock()
	t.MarkReceived(rec.Received)

	p.Start(t)
	return nil
}

// Cancel aborts the task, deletes the session server-side and discards the
// task. Idempotent.
func (p *Pump) Cancel(ctx context.Context, id string) error {
	t, ok := p.tasks.Get(id)
	if !ok {
		return nil
	}
	t.mu.Lock()
	alreadyCancelled := t.state == StateCancelled
	t.paused = true
	t.state = StateCancelled
	abort := t.abort
	t.mu.Unlock()

	if abort != nil {
		abort()
	}
	err := p.api.Cancel(ctx, id)
	if !alreadyCancelled {
		p.emitState(t, StateCancelled, "")
	}
	t.Close()
	p.tasks.Remove(id)
	return err
}

// run dispatches the missing chunks with bounded concurrency, then
// finalizes. A chunk that exhausts its retries fails the whole task.
func (p *Pump) run(ctx context.Context, t *Task) {
	defer func() {
		t.mu.Lock()
		t.running = false
		t.abort = nil
		t.mu.Unlock()
	}()

	missing := t.missingChunks()
	p.logger.Debug("dispatching chunks", "session", t.ID, "missing", len(missing), "concurrency", p.concurrency)

	indices := make(chan int)
	var wg sync.WaitGroup
	var failMu sync.Mutex
	var failErr error
	failed := make(chan struct{})

	fail := func(err error) {
		failMu.Lock()
		if failErr == nil {
			failErr = err
			close(failed)
		}
		failMu.Unlock()
	}

	for w := 0; w < p.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indices {
				if err := p.sendChunk(ctx, t, i); err != nil {
					if ctx.Err() == nil {
						fail(err)
					}
					return
				}
			}
		}()
	}

feed:
	for _, i := range missing {
		select {
		case <-ctx.Done():
			break feed
		case <-failed:
			break feed
		case indices <- i:
		}
	}
	close(indices)
	wg.Wait()

	if ctx.Err() != nil {
		// Paused or cancelled; state was already set by the caller.
		return
	}
	failMu.Lock()
	err := failErr
	failMu.Unlock()
	if err != nil {
		p.failTask(t, err)
		return
	}
	p.finalize(t)
}

// sendChunk transfers one chunk, consulting the retry policy on failure.
func (p *Pump) sendChunk(ctx context.Context, t *Task, index int) error {
	data, err := t.slicer.ReadChunk(index)
	if err != nil {
		return err
	}
	chunk := Chunk{
		SessionID:   t.ID,
		Index:       index,
		TotalChunks: t.TotalChunks(),
		FileName:    t.FileName,
		Data:        data,
	}

	for attempt := 0; ; attempt++ {
		err = p.sender.Send(ctx, p.api.BaseURL, chunk)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !p.policy.Retryable(err) || attempt+1 >= p.policy.MaxAttempts {
			return err
		}
		delay := p.policy.Delay(attempt)
		p.logger.Debug("retrying chunk", "session", t.ID, "chunk", index, "attempt", attempt+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	t.mu.Lock()
	if _, dup := t.received[index]; !dup {
		t.received[index] = struct{}{}
		t.Meter.Add(int64(len(data)))
	}
	t.mu.Unlock()

	p.tasks.emit(TaskEvent{
		SessionID: t.ID,
		State:     StateUploading,
		Chunk:     index,
		Stats:     t.Meter.Snapshot(),
	})
	return nil
}

// finalize asks the server to assemble once every chunk is acknowledged. A
// finalize failure does not revert server state; resuming the failed task
// retries it.
func (p *Pump) finalize(t *Task) {
	if len(t.missingChunks()) > 0 {
		// Dispatch drained without covering everything (e.g. raced with a
		// pause that flipped back); leave the task resumable.
		return
	}

	t.mu.Lock()
	t.state = StateCompleting
	t.mu.Unlock()
	p.emitState(t, StateCompleting, "")

	if err := p.api.Finalize(context.Background(), t.ID); err != nil {
		p.failTask(t, err)
		return
	}

	t.mu.Lock()
	t.state = StateCompleted
	t.mu.Unlock()
	p.emitState(t, StateCompleted, "")
	t.Close()
	p.logger.Info("upload completed", "session", t.ID, "file", t.FileName)
}

func (p *Pump) failTask(t *Task, err error) {
	t.mu.Lock()
	t.state = StateFailed
	t.errMsg = err.Error()
	t.mu.Unlock()
	p.emitState(t, StateFailed, err.Error())
	p.logger.Warn("upload failed", "session", t.ID, "error", err)
}

func (p *Pump) emitState(t *Task, state TaskState, errMsg string) {
	p.tasks.emit(TaskEvent{
		SessionID: t.ID,
		State:     state,
		Stats:     t.Meter.Snapshot(),
		Err:       errMsg,
	})
}
