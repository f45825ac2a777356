package upload

import (
	"bytes"
	"errors"
	"testing"
)

func defaultLimits() Limits {
	return Limits{
		MaxChunkSize:      100 * 1024 * 1024,
		MaxChunkCount:     10000,
		MaxFileSize:       50 * 1024 * 1024 * 1024,
		BlockedExtensions: []string{"exe", "bat", "cmd", "scr", "com", "pif"},
	}
}

func validChunk() ChunkRequest {
	return ChunkRequest{
		SessionID:   "abc-123",
		ChunkIndex:  0,
		TotalChunks: 3,
		FileName:    "file.txt",
		Data:        []byte("payload"),
	}
}

func TestValidator_ChunkRequests(t *testing.T) {
	v := NewValidator(defaultLimits())

	tests := []struct {
		name     string
		mutate   func(*ChunkRequest)
		wantErr  bool
		badField string
	}{
		{name: "valid", mutate: func(r *ChunkRequest) {}},
		{name: "empty session id", mutate: func(r *ChunkRequest) { r.SessionID = "" }, wantErr: true, badField: "sessionId"},
		{name: "blank session id", mutate: func(r *ChunkRequest) { r.SessionID = "   " }, wantErr: true, badField: "sessionId"},
		{name: "session id too long", mutate: func(r *ChunkRequest) { r.SessionID = string(bytes.Repeat([]byte("a"), 256)) }, wantErr: true, badField: "sessionId"},
		{name: "session id non-printable", mutate: func(r *ChunkRequest) { r.SessionID = "ab\x01c" }, wantErr: true, badField: "sessionId"},
		{name: "negative index", mutate: func(r *ChunkRequest) { r.ChunkIndex = -1 }, wantErr: true, badField: "chunkIndex"},
		{name: "index equals total", mutate: func(r *ChunkRequest) { r.ChunkIndex = 3 }, wantErr: true, badField: "chunkIndex"},
		{name: "zero total", mutate: func(r *ChunkRequest) { r.TotalChunks = 0 }, wantErr: true, badField: "totalChunks"},
		{name: "total above ceiling", mutate: func(r *ChunkRequest) { r.TotalChunks = 10001 }, wantErr: true, badField: "totalChunks"},
		{name: "empty data multi-chunk", mutate: func(r *ChunkRequest) { r.Data = nil }, wantErr: true, badField: "chunkData"},
		{name: "empty data single chunk", mutate: func(r *ChunkRequest) { r.Data = nil; r.TotalChunks = 1 }},
		{name: "traversal filename", mutate: func(r *ChunkRequest) { r.FileName = "../../etc/passwd" }, wantErr: true, badField: "fileName"},
		{name: "slash filename", mutate: func(r *ChunkRequest) { r.FileName = "a/b.txt" }, wantErr: true, badField: "fileName"},
		{name: "backslash filename", mutate: func(r *ChunkRequest) { r.FileName = `a\b.txt` }, wantErr: true, badField: "fileName"},
		{name: "null byte filename", mutate: func(r *ChunkRequest) { r.FileName = "a\x00b.txt" }, wantErr: true, badField: "fileName"},
		{name: "reserved device name", mutate: func(r *ChunkRequest) { r.FileName = "CON.txt" }, wantErr: true, badField: "fileName"},
		{name: "filename too long", mutate: func(r *ChunkRequest) { r.FileName = string(bytes.Repeat([]byte("a"), 252)) + ".txt" }, wantErr: true, badField: "fileName"},
		{name: "blocked extension", mutate: func(r *ChunkRequest) { r.FileName = "setup.exe" }, wantErr: true, badField: "fileName"},
		{name: "blocked extension uppercase", mutate: func(r *ChunkRequest) { r.FileName = "SETUP.EXE" }, wantErr: true, badField: "fileName"},
		{name: "no extension ok", mutate: func(r *ChunkRequest) { r.FileName = "README" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validChunk()
			tt.mutate(&req)
			err := v.ValidateChunk(req)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("ValidateChunk: %v", err)
				}
				return
			}
			var ue *Error
			if !errors.As(err, &ue) || ue.Kind != KindValidation {
				t.Fatalf("error = %v, want validation error", err)
			}
			if _, ok := ue.FieldErrors[tt.badField]; !ok {
				t.Errorf("fieldErrors = %v, want entry for %q", ue.FieldErrors, tt.badField)
			}
		})
	}
}

func TestValidator_ChunkSizeCeiling(t *testing.T) {
	limits := defaultLimits()
	limits.MaxChunkSize = 8
	limits.MaxFileSize = 0
	v := NewValidator(limits)

	req := validChunk()
	req.Data = bytes.Repeat([]byte("x"), 9)
	if err := v.ValidateChunk(req); err == nil {
		t.Error("oversized chunk must be rejected")
	}
}

func TestValidator_EstimatedFileSize(t *testing.T) {
	limits := defaultLimits()
	limits.MaxFileSize = 20
	v := NewValidator(limits)

	req := validChunk()
	req.TotalChunks = 3
	req.ChunkIndex = 0
	req.Data = bytes.Repeat([]byte("x"), 10) // 3*10 > 20
	err := v.ValidateChunk(req)
	var ue *Error
	if !errors.As(err, &ue) {
		t.Fatalf("error = %v, want validation error", err)
	}
	if _, ok := ue.FieldErrors["fileSize"]; !ok {
		t.Errorf("fieldErrors = %v, want fileSize entry", ue.FieldErrors)
	}
}

func TestValidator_AllowList(t *testing.T) {
	limits := defaultLimits()
	limits.AllowedExtensions = []string{"txt", "pdf"}
	v := NewValidator(limits)

	req := validChunk()
	req.FileName = "doc.pdf"
	if err := v.ValidateChunk(req); err != nil {
		t.Errorf("allowed extension rejected: %v", err)
	}

	req.FileName = "image.png"
	if err := v.ValidateChunk(req); err == nil {
		t.Error("extension outside allow-list must be rejected")
	}
}

func TestValidator_MultipleFieldErrorsCollected(t *testing.T) {
	v := NewValidator(defaultLimits())
	err := v.ValidateChunk(ChunkRequest{
		SessionID:   "",
		ChunkIndex:  -1,
		TotalChunks: 0,
		Data:        nil,
	})
	var ue *Error
	if !errors.As(err, &ue) {
		t.Fatalf("error = %v, want validation error", err)
	}
	if len(ue.FieldErrors) < 3 {
		t.Errorf("fieldErrors = %v, want several fields reported at once", ue.FieldErrors)
	}
}

func TestValidator_Session(t *testing.T) {
	v := NewValidator(defaultLimits())

	if err := v.ValidateSession("id", 10, "ok.txt"); err != nil {
		t.Errorf("valid session rejected: %v", err)
	}
	if err := v.ValidateSession("", 10, ""); err == nil {
		t.Error("empty session id must be rejected")
	}
	if err := v.ValidateSession("id", 0, ""); err == nil {
		t.Error("non-positive totalChunks must be rejected")
	}
	if err := v.ValidateSession("id", 5, "../x"); err == nil {
		t.Error("traversal filename must be rejected")
	}
}
