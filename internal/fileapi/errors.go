// Package fileapi is the client for the file service HTTP API: streaming
// and resumable uploads, ranged downloads, listings, resumable
// management, and the retry discipline shared by all of them.
package fileapi

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status classification.
// Use errors.Is(err, fileapi.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("fileapi: bad request")
	ErrUnauthorized = errors.New("fileapi: unauthorized")
	ErrForbidden    = errors.New("fileapi: forbidden")
	ErrNotFound     = errors.New("fileapi: not found")
	ErrConflict     = errors.New("fileapi: conflict")
	ErrServerError  = errors.New("fileapi: server error")
)

// ErrResumeMismatch means the local bytes for the last committed chunk do
// not hash to the server's md5sum. The upload cannot be salvaged; the
// caller must delete the server-side resumable and start over.
var ErrResumeMismatch = errors.New("fileapi: cannot resume upload, client/server chunks do not match")

// ErrIsDirectory is returned by Head when the remote resource is a
// directory; the caller should use the directory downloader instead.
var ErrIsDirectory = errors.New("fileapi: remote resource is a directory")

// APIError wraps a sentinel with the HTTP status and response body for
// diagnostics.
type APIError struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fileapi: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}
