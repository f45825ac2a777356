package upload

import (
	"fmt"
	"strings"
	"unicode"
)

// Limits configures the validator.
type Limits struct {
	MaxChunkSize      int64
	MaxChunkCount     int
	MaxFileSize       int64
	AllowedExtensions []string // empty permits anything not blocked
	BlockedExtensions []string
}

// Validator rejects malformed requests before they reach the store.
type Validator struct {
	limits  Limits
	allowed map[string]struct{}
	blocked map[string]struct{}
}

// Reserved Windows device names, rejected as filenames in any case.
var reservedNames = map[string]struct{}{
	"con": {}, "prn": {}, "aux": {}, "nul": {},
	"com1": {}, "com2": {}, "com3": {}, "com4": {}, "com5": {},
	"com6": {}, "com7": {}, "com8": {}, "com9": {},
	"lpt1": {}, "lpt2": {}, "lpt3": {}, "lpt4": {}, "lpt5": {},
	"lpt6": {}, "lpt7": {}, "lpt8": {}, "lpt9": {},
}

// NewValidator creates a validator with the given limits.
func NewValidator(limits Limits) *Validator {
	v := &Validator{
		limits:  limits,
		allowed: make(map[string]struct{}, len(limits.AllowedExtensions)),
		blocked: make(map[string]struct{}, len(limits.BlockedExtensions)),
	}
	for _, e := range limits.AllowedExtensions {
		v.allowed[strings.ToLower(strings.TrimPrefix(e, "."))] = struct{}{}
	}
	for _, e := range limits.BlockedExtensions {
		v.blocked[strings.ToLower(strings.TrimPrefix(e, "."))] = struct{}{}
	}
	return v
}

// ChunkRequest is the shape every chunk submission reduces to before
// validation.
type ChunkRequest struct {
	SessionID   string
	ChunkIndex  int
	TotalChunks int
	FileName    string
	Data        []byte
}

// ValidateChunk checks a chunk submission, accumulating every field error
// into a single validation failure.
func (v *Validator) ValidateChunk(req ChunkRequest) error {
	errs := make(map[string]string)

	v.checkSessionID(req.SessionID, errs)

	if req.TotalChunks < 1 {
		errs["totalChunks"] = "totalChunks must be positive"
	} else if req.TotalChunks > v.limits.MaxChunkCount {
		errs["totalChunks"] = fmt.Sprintf("totalChunks exceeds maximum allowed: %d", v.limits.MaxChunkCount)
	}

	if req.ChunkIndex < 0 {
		errs["chunkIndex"] = "chunkIndex must be non-negative"
	} else if req.TotalChunks >= 1 && req.ChunkIndex >= req.TotalChunks {
		errs["chunkIndex"] = "chunkIndex must be less than totalChunks"
	}

	if len(req.Data) == 0 {
		// A single-chunk session may legitimately carry an empty payload.
		if req.TotalChunks != 1 {
			errs["chunkData"] = "chunk data cannot be empty"
		}
	} else if int64(len(req.Data)) > v.limits.MaxChunkSize {
		errs["chunkSize"] = fmt.Sprintf("chunk size exceeds maximum allowed: %d", v.limits.MaxChunkSize)
	}

	if v.limits.MaxFileSize > 0 && req.TotalChunks >= 1 {
		if est := int64(req.TotalChunks) * int64(len(req.Data)); est > v.limits.MaxFileSize {
			errs["fileSize"] = fmt.Sprintf("estimated file size exceeds maximum allowed: %d", v.limits.MaxFileSize)
		}
	}

	if req.FileName != "" {
		v.checkFileName(req.FileName, errs)
	}

	if len(errs) > 0 {
		return validationErr("validation failed", errs)
	}
	return nil
}

// ValidateSession checks the fields of a resume handshake.
func (v *Validator) ValidateSession(sessionID string, totalChunks int, fileName string) error {
	errs := make(map[string]string)
	v.checkSessionID(sessionID, errs)
	if totalChunks < 1 {
		errs["totalChunks"] = "totalChunks must be positive"
	} else if totalChunks > v.limits.MaxChunkCount {
		errs["totalChunks"] = fmt.Sprintf("totalChunks exceeds maximum allowed: %d", v.limits.MaxChunkCount)
	}
	if fileName != "" {
		v.checkFileName(fileName, errs)
	}
	if len(errs) > 0 {
		return validationErr("validation failed", errs)
	}
	return nil
}

func (v *Validator) checkSessionID(id string, errs map[string]string) {
	if strings.TrimSpace(id) == "" {
		errs["sessionId"] = "sessionId is required and cannot be empty"
		return
	}
	if len(id) > 255 {
		errs["sessionId"] = "sessionId cannot exceed 255 characters"
		return
	}
	for _, r := range id {
		if !unicode.IsPrint(r) {
			errs["sessionId"] = "sessionId contains non-printable characters"
			return
		}
	}
}

func (v *Validator) checkFileName(name string, errs map[string]string) {
	if len(name) > 255 {
		errs["fileName"] = "fileName cannot exceed 255 characters"
		return
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, "/\\") {
		errs["fileName"] = "fileName contains invalid characters"
		return
	}
	for _, r := range name {
		if r == 0 || unicode.IsControl(r) {
			errs["fileName"] = "fileName contains control characters"
			return
		}
	}
	base := strings.ToLower(name)
	if dot := strings.Index(base, "."); dot >= 0 {
		base = base[:dot]
	}
	if _, bad := reservedNames[base]; bad {
		errs["fileName"] = "fileName is a reserved device name"
		return
	}

	ext := fileExtension(name)
	if ext == "" {
		return
	}
	if _, bad := v.blocked[ext]; bad {
		errs["fileName"] = fmt.Sprintf("file extension %q is not allowed", ext)
		return
	}
	if len(v.allowed) > 0 {
		if _, ok := v.allowed[ext]; !ok {
			errs["fileName"] = fmt.Sprintf("file extension %q is not in allowed list", ext)
		}
	}
}

// fileExtension returns the lower-cased extension without the dot, or "".
func fileExtension(name string) string {
	dot := strings.LastIndex(name, ".")
	if dot <= 0 || dot == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[dot+1:])
}
