package upload

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/haulbit/haulbit/pkg/protocol"
)

// Coordinator orchestrates chunk persistence, status tracking, assembly and
// cleanup. It is the only component that mutates server-side upload state;
// transport adapters call nothing else.
type Coordinator struct {
	registry  *Registry
	store     *ChunkStore
	assembler *Assembler
	validator *Validator
	hub       *Hub
	logger    *slog.Logger
	saveSlots chan struct{}
	ioSlots   chan struct{}
}

// NewCoordinator wires the upload engine together. maxConcurrent bounds
// chunk saves in flight; requests beyond the ceiling fail with a retryable
// busy error. ioPool bounds assembly and cancel-time cleanup, which queue
// rather than reject; cleanup after finalize and in the janitor runs
// outside the pool.
func NewCoordinator(registry *Registry, store *ChunkStore, assembler *Assembler, validator *Validator, hub *Hub, maxConcurrent, ioPool int, logger *slog.Logger) *Coordinator {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if ioPool < 1 {
		ioPool = 1
	}
	return &Coordinator{
		registry:  registry,
		store:     store,
		assembler: assembler,
		validator: validator,
		hub:       hub,
		logger:    logger,
		saveSlots: make(chan struct{}, maxConcurrent),
		ioSlots:   make(chan struct{}, ioPool),
	}
}

// SaveChunk validates and persists one chunk, then records it. Creates the
// session on first receipt. Idempotent per (session, index): a replay
// overwrites the same artifact and leaves the received set unchanged. Never
// auto-finalizes.
func (c *Coordinator) SaveChunk(req ChunkRequest) error {
	if err := c.validator.ValidateChunk(req); err != nil {
		c.logger.Warn("rejected chunk", "session", req.SessionID, "chunk", req.ChunkIndex, "error", err)
		return err
	}

	select {
	case c.saveSlots <- struct{}{}:
		defer func() { <-c.saveSlots }()
	default:
		return busyErr()
	}

	c.registry.GetOrCreate(req.SessionID, req.TotalChunks)
	// The stored totalChunks wins over a mismatched request value, so the
	// index is checked against it as well.
	if total, ok := c.registry.TotalChunks(req.SessionID); ok && req.ChunkIndex >= total {
		err := validationErr("validation failed", map[string]string{
			"chunkIndex": fmt.Sprintf("chunkIndex must be less than the session's totalChunks (%d)", total),
		})
		c.logger.Warn("rejected chunk", "session", req.SessionID, "chunk", req.ChunkIndex, "error", err)
		return err
	}
	if req.FileName != "" {
		c.registry.SetFileName(req.SessionID, req.FileName)
	}

	if err := c.store.Write(req.SessionID, req.ChunkIndex, req.Data); err != nil {
		c.logger.Error("chunk write failed", "session", req.SessionID, "chunk", req.ChunkIndex, "error", err)
		return err
	}

	c.registry.AddChunk(req.SessionID, req.ChunkIndex, int64(len(req.Data)))

	if st, ok := c.registry.Status(req.SessionID); ok {
		c.hub.Publish(protocol.Event{
			SessionID:     req.SessionID,
			Type:          protocol.EventChunk,
			ChunkIndex:    req.ChunkIndex,
			Received:      len(st.ReceivedChunks),
			TotalChunks:   st.TotalChunks,
			UploadedBytes: st.UploadedBytes,
			Progress:      st.Progress,
		})
	}
	return nil
}

// Finalize assembles the session into its destination file, marks it
// completed, removes the temp directory and drops the session from the
// registry. Refuses while chunks are missing; on assembly failure the
// session is marked failed and temp data is kept for inspection.
func (c *Coordinator) Finalize(sessionID string) (string, error) {
	totalChunks, ok := c.registry.TotalChunks(sessionID)
	if !ok {
		return "", notFoundErr(sessionID)
	}
	missing, _ := c.registry.Missing(sessionID)
	if len(missing) > 0 {
		return "", incompleteErr(sessionID, missing)
	}

	fileName, _ := c.registry.FileName(sessionID)

	c.ioSlots <- struct{}{}
	dest, err := c.assembler.Assemble(sessionID, totalChunks, fileName)
	<-c.ioSlots
	if err != nil {
		c.registry.MarkFailed(sessionID, err.Error())
		c.publishState(sessionID, protocol.EventFailed, err.Error())
		c.logger.Error("assembly failed", "session", sessionID, "error", err)
		return "", err
	}

	c.registry.MarkCompleted(sessionID)
	c.publishState(sessionID, protocol.EventCompleted, "")
	c.store.Cleanup(sessionID)
	c.registry.Remove(sessionID)
	c.logger.Info("upload finalized", "session", sessionID, "dest", dest)
	return dest, nil
}

// Cancel removes the session's temp data and registry record. Idempotent and
// safe on unknown sessions.
func (c *Coordinator) Cancel(sessionID string) {
	c.ioSlots <- struct{}{}
	c.store.Cleanup(sessionID)
	<-c.ioSlots
	if _, known := c.registry.Status(sessionID); known {
		c.publishState(sessionID, protocol.EventCancelled, "")
	}
	c.registry.Remove(sessionID)
	c.logger.Info("upload cancelled", "session", sessionID)
}

// Resume performs the resume handshake: validates, gets or creates the
// session with the supplied metadata, and returns the server's view.
func (c *Coordinator) Resume(sessionID string, totalChunks int, md Metadata) (protocol.Resume, error) {
	if err := c.validator.ValidateSession(sessionID, totalChunks, md.FileName); err != nil {
		return protocol.Resume{}, err
	}
	c.registry.GetOrCreateWithMetadata(sessionID, totalChunks, md)
	rec, _ := c.registry.Resume(sessionID)
	return rec, nil
}

// Status returns a snapshot of one session.
func (c *Coordinator) Status(sessionID string) (protocol.Status, error) {
	st, ok := c.registry.Status(sessionID)
	if !ok {
		return protocol.Status{}, notFoundErr(sessionID)
	}
	return st, nil
}

// All returns snapshots of every session.
func (c *Coordinator) All() []protocol.Status { return c.registry.All() }

// Resumable returns snapshots of sessions still accepting chunks.
func (c *Coordinator) Resumable() []protocol.Status { return c.registry.Resumable() }

// Stats returns registry totals by state.
func (c *Coordinator) Stats() protocol.Stats { return c.registry.Stats() }

// Events exposes the progress event hub.
func (c *Coordinator) Events() *Hub { return c.hub }

func (c *Coordinator) publishState(sessionID, eventType, message string) {
	st, ok := c.registry.Status(sessionID)
	if !ok {
		c.hub.Publish(protocol.Event{SessionID: sessionID, Type: eventType, Message: message})
		return
	}
	c.hub.Publish(protocol.Event{
		SessionID:     sessionID,
		Type:          eventType,
		Received:      len(st.ReceivedChunks),
		TotalChunks:   st.TotalChunks,
		UploadedBytes: st.UploadedBytes,
		Progress:      st.Progress,
		Message:       message,
	})
}

// RunJanitor periodically removes terminal sessions older than maxAge,
// together with any temp data they left behind. Blocks until ctx is done.
func (c *Coordinator) RunJanitor(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range c.registry.Cleanup(maxAge) {
				c.store.Cleanup(id)
			}
		}
	}
}
