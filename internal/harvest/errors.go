package harvest

import (
	"errors"
	"fmt"
)

// ErrUnsupportedURL marks candidate URLs the pool will not attempt to fetch.
var ErrUnsupportedURL = errors.New("unsupported url")

// DiscoveryError reports that discovery failed entirely for a term.
type DiscoveryError struct {
	Term string
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discover %q: %v", e.Term, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies a failed download.
type ErrorKind string

// Download failure kinds.
const (
	KindTransport  ErrorKind = "transport"
	KindHTTPStatus ErrorKind = "http-status"
	KindStorage    ErrorKind = "storage"
)

// DownloadError describes why a single candidate failed.
type DownloadError struct {
	Kind       ErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	if e.Kind == KindHTTPStatus {
		return fmt.Sprintf("%s %s: status %d", e.Kind, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// StorageError kinds.
const (
	StorageMkdir = "mkdir"
	StorageWrite = "write"
)

// StorageError reports a failed storage operation.
type StorageError struct {
	Kind string
	Term string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("storage %s %s: %v", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("storage %s term %q: %v", e.Kind, e.Term, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
