package data

import (
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable classification surfaced to callers.
type ErrorKind string

const (
	// KindInvalidFormatRequest marks a malformed request, rejected before any
	// backend call.
	KindInvalidFormatRequest ErrorKind = "InvalidFormatRequest"
	// KindDownloadFailed means every backend in the fallback chain failed;
	// the detail carries the last backend's error.
	KindDownloadFailed ErrorKind = "DownloadFailed"
	// KindPostProcessingFailed means fetch succeeded but a local transform
	// (remux, transcode, subtitle embed) did not. Terminal, never retried.
	KindPostProcessingFailed ErrorKind = "PostProcessingFailed"
	// KindUploadFailed means the remote store rejected or was unreachable;
	// the local artifact is preserved as a fallback.
	KindUploadFailed ErrorKind = "UploadFailed"
	// KindStorageUnavailable marks a misconfigured storage target.
	KindStorageUnavailable ErrorKind = "StorageUnavailable"
)

// Error pairs a kind with a human-readable detail. It optionally wraps the
// underlying cause for errors.Is/As.
type Error struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func NewError(kind ErrorKind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

func WrapError(kind ErrorKind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Detail == "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the error kind, or "" for errors from outside this package.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
