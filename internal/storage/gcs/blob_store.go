// Package gcs provides a storage sink backed by Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/imgharvest/internal/harvest"
)

// Config captures the parameters required to write into GCS.
type Config struct {
	Bucket      string
	Prefix      string
	ContentType string
	Extension   string
}

// Sink writes artifacts to gs://{bucket}/{prefix}/{term}/{id}{ext}.
type Sink struct {
	client      *storage.Client
	bucket      string
	prefix      string
	contentType string
	ext         string
}

// New creates a GCS-backed sink.
func New(client *storage.Client, cfg Config) (*Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	ext := cfg.Extension
	if ext == "" {
		ext = ".jpg"
	}
	return &Sink{
		client:      client,
		bucket:      cfg.Bucket,
		prefix:      strings.Trim(cfg.Prefix, "/"),
		contentType: cfg.ContentType,
		ext:         ext,
	}, nil
}

// EnsureDirectory validates the term. Object stores have no directories, so
// there is nothing to create.
func (s *Sink) EnsureDirectory(_ context.Context, term string) error {
	if err := harvest.ValidateName(term); err != nil {
		return &harvest.StorageError{Kind: harvest.StorageMkdir, Term: term, Err: err}
	}
	return nil
}

// Write uploads data. The object only becomes visible once the writer closes
// successfully, so failed uploads never leave partial objects.
func (s *Sink) Write(ctx context.Context, term, id string, data []byte) (string, error) {
	name, err := s.ObjectName(term, id)
	if err != nil {
		return "", &harvest.StorageError{Kind: harvest.StorageWrite, Term: term, Err: err}
	}
	fail := func(err error) (string, error) {
		return "", &harvest.StorageError{Kind: harvest.StorageWrite, Term: term, Path: name, Err: err}
	}

	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(writeCtx)
	if s.contentType != "" {
		writer.ContentType = s.contentType
	}
	if _, err := writer.Write(data); err != nil {
		// Canceling the context aborts the upload before Close.
		cancel()
		_ = writer.Close()
		return fail(fmt.Errorf("write object: %w", err))
	}
	if err := writer.Close(); err != nil {
		return fail(fmt.Errorf("close writer: %w", err))
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}

// ObjectName builds the object key for (term, id).
func (s *Sink) ObjectName(term, id string) (string, error) {
	if err := harvest.ValidateName(term); err != nil {
		return "", fmt.Errorf("invalid term %q: %w", term, err)
	}
	if err := harvest.ValidateName(id); err != nil {
		return "", fmt.Errorf("invalid id %q: %w", id, err)
	}
	return path.Join(s.prefix, term, id+s.ext), nil
}
