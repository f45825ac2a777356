// Package httpapi adapts the upload engine to its HTTP surface. Handlers
// parse and normalize requests into coordinator calls; every failure leaves
// through the same error envelope.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/haulbit/haulbit/internal/upload"
	"github.com/haulbit/haulbit/pkg/protocol"
)

// bodySlack is headroom over the chunk-size ceiling for multipart framing.
const bodySlack = 1 << 20

// Options configures the HTTP adapter.
type Options struct {
	MaxChunkSize int64
	CORS         CORSConfig
}

// Server is the HTTP adapter over the upload coordinator.
type Server struct {
	coord  *upload.Coordinator
	opts   Options
	logger *slog.Logger
}

// New creates the adapter.
func New(coord *upload.Coordinator, opts Options, logger *slog.Logger) *Server {
	return &Server{coord: coord, opts: opts, logger: logger}
}

// Handler returns the routed HTTP handler, CORS middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})

	mux.HandleFunc("POST /upload", s.handleUploadMultipart)
	mux.HandleFunc("POST /upload/binary", s.handleUploadBinary)
	mux.HandleFunc("GET /upload", s.handleListAll)
	mux.HandleFunc("GET /upload/resumable", s.handleListResumable)
	mux.HandleFunc("GET /upload/stats", s.handleStats)
	mux.HandleFunc("GET /upload/events", s.handleEvents)
	mux.HandleFunc("GET /upload/{id}", s.handleStatus)
	mux.HandleFunc("DELETE /upload/{id}", s.handleCancel)
	mux.HandleFunc("POST /upload/{id}/complete", s.handleComplete)
	mux.HandleFunc("POST /upload/{id}/resume", s.handleResume)

	return corsMiddleware(s.opts.CORS, mux)
}

func (s *Server) handleUploadMultipart(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxChunkSize+bodySlack)
	if err := r.ParseMultipartForm(s.opts.MaxChunkSize + bodySlack); err != nil {
		s.writeError(w, r, &upload.Error{
			Kind:    upload.KindValidation,
			Message: "malformed multipart body",
			Err:     err,
		})
		return
	}
	defer r.MultipartForm.RemoveAll()

	req, err := s.chunkFromMultipart(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.coord.SaveChunk(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Debug("chunk accepted", "session", req.SessionID, "chunk", req.ChunkIndex)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) chunkFromMultipart(r *http.Request) (upload.ChunkRequest, error) {
	var req upload.ChunkRequest

	file, _, err := r.FormFile("file")
	if err != nil {
		return req, validationFieldErr("file", "file part is required")
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return req, &upload.Error{Kind: upload.KindIO, Op: "read_body", Err: err}
	}

	req.SessionID = r.FormValue("sessionId")
	req.FileName = r.FormValue("fileName")
	req.Data = data

	if req.ChunkIndex, err = formInt(r, "chunkIndex"); err != nil {
		return req, validationFieldErr("chunkIndex", "chunkIndex must be a valid integer")
	}
	if req.TotalChunks, err = formInt(r, "totalChunks"); err != nil {
		return req, validationFieldErr("totalChunks", "totalChunks must be a valid integer")
	}
	return req, nil
}

func (s *Server) handleUploadBinary(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxChunkSize+bodySlack)

	var req upload.ChunkRequest
	req.SessionID = r.Header.Get(protocol.HeaderFileID)
	req.FileName = r.Header.Get(protocol.HeaderFileName)

	var err error
	if req.ChunkIndex, err = headerInt(r, protocol.HeaderChunkNumber); err != nil {
		s.writeError(w, r, validationFieldErr("chunkIndex", protocol.HeaderChunkNumber+" must be a valid integer"))
		return
	}
	if req.TotalChunks, err = headerInt(r, protocol.HeaderTotalChunks); err != nil {
		s.writeError(w, r, validationFieldErr("totalChunks", protocol.HeaderTotalChunks+" must be a valid integer"))
		return
	}

	req.Data, err = io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, r, &upload.Error{Kind: upload.KindIO, Op: "read_body", Err: err})
		return
	}

	if err := s.coord.SaveChunk(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Debug("binary chunk accepted", "session", req.SessionID, "chunk", req.ChunkIndex)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.coord.Status(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleListAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.All())
}

func (s *Server) handleListResumable(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Resumable())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Stats())
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.coord.Finalize(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.coord.Cancel(r.PathValue("id"))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	q := r.URL.Query()

	totalChunks, err := strconv.Atoi(q.Get("totalChunks"))
	if err != nil {
		s.writeError(w, r, validationFieldErr("totalChunks", "totalChunks must be a valid integer"))
		return
	}

	md := upload.Metadata{FileName: q.Get("fileName")}
	if v := q.Get("fileSize"); v != "" {
		if md.FileSize, err = strconv.ParseInt(v, 10, 64); err != nil {
			s.writeError(w, r, validationFieldErr("fileSize", "fileSize must be a valid integer"))
			return
		}
	}
	if v := q.Get("chunkSize"); v != "" {
		if md.ChunkSize, err = strconv.ParseInt(v, 10, 64); err != nil {
			s.writeError(w, r, validationFieldErr("chunkSize", "chunkSize must be a valid integer"))
			return
		}
	}

	rec, err := s.coord.Resume(id, totalChunks, md)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// writeError maps an engine error onto a status code and the uniform
// envelope. The trace id in the envelope also appears in the log record.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	traceID := uuid.NewString()
	status, code, label := classify(err)

	details := make(map[string]any)
	var ue *upload.Error
	if errors.As(err, &ue) {
		if ue.SessionID != "" {
			details["sessionId"] = ue.SessionID
		}
		if len(ue.FieldErrors) > 0 {
			details["fieldErrors"] = ue.FieldErrors
		}
		if len(ue.Missing) > 0 {
			details["missingChunks"] = ue.Missing
		}
		if ue.Kind == upload.KindDiskSpace {
			details["requiredBytes"] = ue.Required
			details["availableBytes"] = ue.Available
		}
	}
	if len(details) == 0 {
		details = nil
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "trace", traceID, "path", r.URL.Path, "error", err)
	} else {
		s.logger.Warn("request rejected", "trace", traceID, "path", r.URL.Path, "error", err)
	}

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, protocol.ErrorResponse{
		Timestamp: time.Now().UTC(),
		Status:    status,
		Error:     label,
		Message:   err.Error(),
		Path:      r.URL.Path,
		ErrorCode: code,
		Details:   details,
		TraceID:   traceID,
	})
}

func classify(err error) (status int, code, label string) {
	switch upload.KindOf(err) {
	case upload.KindValidation:
		return http.StatusBadRequest, protocol.CodeValidation, "Validation Error"
	case upload.KindNotFound:
		return http.StatusNotFound, protocol.CodeNotFound, "Not Found"
	case upload.KindIncomplete:
		return http.StatusBadRequest, protocol.CodeIncomplete, "Incomplete Upload"
	case upload.KindDiskSpace:
		return http.StatusInternalServerError, protocol.CodeInsufficientSpace, "Insufficient Disk Space"
	case upload.KindStorage:
		return http.StatusInternalServerError, protocol.CodeStorage, "Storage Error"
	case upload.KindAssembly:
		return http.StatusInternalServerError, protocol.CodeUpload, "Assembly Error"
	case upload.KindBusy:
		return http.StatusServiceUnavailable, protocol.CodeUpload, "Server Busy"
	default:
		return http.StatusInternalServerError, protocol.CodeIO, "IO Error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func validationFieldErr(field, msg string) *upload.Error {
	return &upload.Error{
		Kind:        upload.KindValidation,
		Message:     msg,
		FieldErrors: map[string]string{field: msg},
	}
}

func formInt(r *http.Request, field string) (int, error) {
	return strconv.Atoi(r.FormValue(field))
}

func headerInt(r *http.Request, name string) (int, error) {
	return strconv.Atoi(r.Header.Get(name))
}
