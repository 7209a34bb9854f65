// Package local implements the storage sink on a local (or afero-backed) filesystem.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/JakeFAU/imgharvest/internal/harvest"
)

// DefaultExtension is appended to every artifact name.
const DefaultExtension = ".jpg"

// Config captures the parameters for the local filesystem sink.
type Config struct {
	// BaseDir is the root directory where term directories are created.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
	// Extension is appended to artifact names (defaults to ".jpg").
	Extension string `mapstructure:"extension" yaml:"extension"`
}

// Sink writes artifacts under {BaseDir}/{term}/{id}{Extension}.
type Sink struct {
	fs      afero.Fs
	baseDir string
	ext     string

	mu      sync.Mutex
	ensured map[string]struct{}
}

// New creates a sink on the host filesystem.
func New(cfg Config) (*Sink, error) {
	return NewWithFs(afero.NewOsFs(), cfg)
}

// NewWithFs creates a sink on the supplied filesystem.
func NewWithFs(fs afero.Fs, cfg Config) (*Sink, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := fs.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := fs.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := afero.WriteFile(fs, testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := fs.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	ext := cfg.Extension
	if ext == "" {
		ext = DefaultExtension
	}
	return &Sink{
		fs:      fs,
		baseDir: filepath.Clean(cfg.BaseDir),
		ext:     ext,
		ensured: make(map[string]struct{}),
	}, nil
}

// EnsureDirectory creates the term directory if it does not exist yet. It is
// idempotent and serialized, so concurrent callers never race on creation.
func (s *Sink) EnsureDirectory(ctx context.Context, term string) error {
	dir, err := s.termDir(term)
	if err != nil {
		return &harvest.StorageError{Kind: harvest.StorageMkdir, Term: term, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return &harvest.StorageError{Kind: harvest.StorageMkdir, Term: term, Path: dir, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ensured[term]; ok {
		return nil
	}
	if err := s.fs.MkdirAll(dir, 0o750); err != nil {
		return &harvest.StorageError{Kind: harvest.StorageMkdir, Term: term, Path: dir, Err: err}
	}
	info, err := s.fs.Stat(dir)
	if err != nil {
		return &harvest.StorageError{Kind: harvest.StorageMkdir, Term: term, Path: dir, Err: err}
	}
	if !info.IsDir() {
		return &harvest.StorageError{
			Kind: harvest.StorageMkdir,
			Term: term,
			Path: dir,
			Err:  fmt.Errorf("not a directory"),
		}
	}
	s.ensured[term] = struct{}{}
	return nil
}

// Write stores data atomically: bytes land in a temp file next to the target
// and are renamed into place, so a partial file is never visible. Rewriting the
// same (term, id) replaces the previous content.
func (s *Sink) Write(ctx context.Context, term, id string, data []byte) (string, error) {
	target, err := s.Path(term, id)
	if err != nil {
		return "", &harvest.StorageError{Kind: harvest.StorageWrite, Term: term, Err: err}
	}
	fail := func(err error) (string, error) {
		return "", &harvest.StorageError{Kind: harvest.StorageWrite, Term: term, Path: target, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	tmp, err := afero.TempFile(s.fs, filepath.Dir(target), "."+id+"-*.tmp")
	if err != nil {
		return fail(fmt.Errorf("create temp file: %w", err))
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = s.fs.Remove(tmpName)
	}
	// TempFile creates 0600; artifacts are ordinary readable files.
	if err := s.fs.Chmod(tmpName, 0o644); err != nil {
		_ = tmp.Close()
		cleanup()
		return fail(fmt.Errorf("chmod temp file: %w", err))
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fail(fmt.Errorf("write temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fail(fmt.Errorf("close temp file: %w", err))
	}
	// Last chance to abandon the write before it becomes visible.
	if err := ctx.Err(); err != nil {
		cleanup()
		return fail(err)
	}
	if err := s.fs.Rename(tmpName, target); err != nil {
		cleanup()
		return fail(fmt.Errorf("rename into place: %w", err))
	}
	return fmt.Sprintf("file://%s", target), nil
}

// Path returns the target file path for (term, id) after validating both names.
func (s *Sink) Path(term, id string) (string, error) {
	dir, err := s.termDir(term)
	if err != nil {
		return "", err
	}
	if err := harvest.ValidateName(id); err != nil {
		return "", fmt.Errorf("invalid id %q: %w", id, err)
	}
	return filepath.Join(dir, id+s.ext), nil
}

func (s *Sink) termDir(term string) (string, error) {
	if err := harvest.ValidateName(term); err != nil {
		return "", fmt.Errorf("invalid term %q: %w", term, err)
	}
	dir := filepath.Join(s.baseDir, term)
	// The term directory must stay a direct child of baseDir.
	rel, err := filepath.Rel(s.baseDir, dir)
	if err != nil || rel != term || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return dir, nil
}
