// Package protocol defines the wire types shared by the haulbit server and
// client: session status and resume records, the uniform error envelope, and
// the frames pushed over the progress event stream.
package protocol

import "time"

// Header names for the binary chunk upload endpoint.
const (
	HeaderFileID      = "X-File-Id"
	HeaderChunkNumber = "X-Chunk-Number"
	HeaderTotalChunks = "X-Total-Chunks"
	HeaderFileName    = "X-File-Name"
)

// Session lifecycle states.
const (
	StateActive    = "active"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Status is a point-in-time snapshot of one upload session.
type Status struct {
	SessionID      string    `json:"sessionId"`
	TotalChunks    int       `json:"totalChunks"`
	ReceivedChunks []int     `json:"receivedChunks"`
	FileName       string    `json:"fileName,omitempty"`
	FileSize       int64     `json:"fileSize,omitempty"`
	ChunkSize      int64     `json:"chunkSize,omitempty"`
	UploadedBytes  int64     `json:"uploadedBytes"`
	State          string    `json:"state"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	Progress       float64   `json:"progressPercentage"`
	UploadSpeed    float64   `json:"uploadSpeed"`
	ETAMillis      int64     `json:"estimatedRemainingTime,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	LastUpdatedAt  time.Time `json:"lastUpdatedAt"`
}

// Resume is the response to a resume handshake. It carries everything a
// restarted client needs to dispatch only the missing chunks.
type Resume struct {
	SessionID     string    `json:"sessionId"`
	TotalChunks   int       `json:"totalChunks"`
	FileName      string    `json:"fileName,omitempty"`
	FileSize      int64     `json:"fileSize,omitempty"`
	ChunkSize     int64     `json:"chunkSize,omitempty"`
	Received      []int     `json:"receivedChunks"`
	Missing       []int     `json:"missingChunks"`
	NextExpected  int       `json:"nextExpectedChunk"`
	UploadedBytes int64     `json:"uploadedBytes"`
	Progress      float64   `json:"progressPercentage"`
	CanResume     bool      `json:"canResume"`
	Completed     bool      `json:"completed"`
	Failed        bool      `json:"failed"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
}

// Stats summarizes the registry by lifecycle state.
type Stats struct {
	TotalUploads      int `json:"totalUploads"`
	CompletedUploads  int `json:"completedUploads"`
	FailedUploads     int `json:"failedUploads"`
	InProgressUploads int `json:"inProgressUploads"`
}

// Error codes carried in the error envelope.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeUpload            = "UPLOAD_ERROR"
	CodeStorage           = "STORAGE_ERROR"
	CodeInsufficientSpace = "INSUFFICIENT_DISK_SPACE"
	CodeIO                = "IO_ERROR"
	CodeInternal          = "INTERNAL_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeIncomplete        = "INCOMPLETE_UPLOAD"
)

// ErrorResponse is the uniform error envelope returned on every failed
// request. TraceID also appears in the server log record for the failure.
type ErrorResponse struct {
	Timestamp time.Time      `json:"timestamp"`
	Status    int            `json:"status"`
	Error     string         `json:"error"`
	Message   string         `json:"message"`
	Path      string         `json:"path"`
	ErrorCode string         `json:"errorCode"`
	Details   map[string]any `json:"details,omitempty"`
	TraceID   string         `json:"traceId"`
}

// Event types pushed over the /upload/events stream.
const (
	EventChunk     = "chunk"
	EventCompleted = "completed"
	EventFailed    = "failed"
	EventCancelled = "cancelled"
)

// Event is one progress notification for a session.
type Event struct {
	SessionID     string  `json:"sessionId"`
	Type          string  `json:"type"`
	ChunkIndex    int     `json:"chunkIndex,omitempty"`
	Received      int     `json:"received"`
	TotalChunks   int     `json:"totalChunks"`
	UploadedBytes int64   `json:"uploadedBytes"`
	Progress      float64 `json:"progressPercentage"`
	Message       string  `json:"message,omitempty"`
}
