package upload

import (
	"errors"
	"fmt"
)

// Kind classifies an upload error into the closed set the transport adapter
// maps onto HTTP statuses and error codes.
type Kind int

const (
	// KindValidation is a malformed request. Non-retryable.
	KindValidation Kind = iota
	// KindNotFound means the session is unknown.
	KindNotFound
	// KindIncomplete means finalize was called with chunks still missing.
	KindIncomplete
	// KindStorage is a chunk write, directory create, or cleanup failure.
	KindStorage
	// KindDiskSpace is a distinguished storage failure: not enough usable space.
	KindDiskSpace
	// KindAssembly is a failure while streaming chunks into the destination.
	KindAssembly
	// KindIO is an unclassified filesystem or transport error.
	KindIO
	// KindBusy means the server is at its concurrent-upload ceiling. Retryable.
	KindBusy
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindIncomplete:
		return "incomplete_upload"
	case KindStorage:
		return "storage"
	case KindDiskSpace:
		return "insufficient_disk_space"
	case KindAssembly:
		return "assembly"
	case KindBusy:
		return "busy"
	default:
		return "io"
	}
}

// Error is the single error type raised by the upload engine.
type Error struct {
	Kind      Kind
	SessionID string
	Op        string
	Message   string
	// FieldErrors holds per-field messages for validation failures.
	FieldErrors map[string]string
	// Missing holds the missing chunk indices for incomplete-upload failures.
	Missing []int
	// Required and Available are set for disk-space failures.
	Required  int64
	Available int64
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.SessionID != "" && e.Op != "" {
		return fmt.Sprintf("%s: %s: session %s: %s", e.Kind, e.Op, e.SessionID, msg)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the error kind, defaulting to KindIO for foreign errors.
func KindOf(err error) Kind {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return KindIO
}

// AsError extracts an *Error from err, or nil.
func AsError(err error) *Error {
	var ue *Error
	if errors.As(err, &ue) {
		return ue
	}
	return nil
}

func validationErr(message string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: message, FieldErrors: fields}
}

func notFoundErr(sessionID string) *Error {
	return &Error{Kind: KindNotFound, SessionID: sessionID, Message: "upload session not found"}
}

func incompleteErr(sessionID string, missing []int) *Error {
	return &Error{
		Kind:      KindIncomplete,
		SessionID: sessionID,
		Message:   fmt.Sprintf("upload incomplete: %d chunks missing", len(missing)),
		Missing:   missing,
	}
}

func storageErr(sessionID, op string, err error) *Error {
	return &Error{Kind: KindStorage, SessionID: sessionID, Op: op, Err: err}
}

func diskSpaceErr(sessionID, op string, required, available int64, err error) *Error {
	return &Error{
		Kind:      KindDiskSpace,
		SessionID: sessionID,
		Op:        op,
		Message:   fmt.Sprintf("insufficient disk space: required %s, available %s", FormatBytes(required), FormatBytes(available)),
		Required:  required,
		Available: available,
		Err:       err,
	}
}

func assemblyErr(sessionID string, err error) *Error {
	return &Error{Kind: KindAssembly, SessionID: sessionID, Op: "assemble", Err: err}
}

func busyErr() *Error {
	return &Error{Kind: KindBusy, Message: "too many concurrent uploads"}
}
