// Package attachment persists attachment payloads and hands back a
// durable storage path.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// Sink stores attachment payloads.
type Sink interface {
	// Store writes content and returns a path that Open and Delete accept.
	Store(ctx context.Context, filename string, content []byte) (string, error)
	Delete(ctx context.Context, storagePath string) error
}

// StorageError indicates an attachment payload could not be written.
type StorageError struct {
	Filename string
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error (%s): %v", e.Filename, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageError reports whether err (or any error in its chain) is a
// StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// FileSink writes payloads under a directory of an afero filesystem using
// UUID file names that keep the original extension.
type FileSink struct {
	fs  afero.Fs
	dir string
}

// NewFileSink returns a sink rooted at dir on fs.
func NewFileSink(fs afero.Fs, dir string) *FileSink {
	return &FileSink{fs: fs, dir: dir}
}

// NewOsFileSink returns a sink on the local filesystem.
func NewOsFileSink(dir string) *FileSink {
	return NewFileSink(afero.NewOsFs(), dir)
}

// Store writes content to a new file. The returned path is relative to the
// filesystem root, e.g. "EmailAttachments/<uuid>.pdf".
func (s *FileSink) Store(ctx context.Context, filename string, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &StorageError{Filename: filename, Err: err}
	}

	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return "", &StorageError{Filename: filename, Err: fmt.Errorf("creating %s: %w", s.dir, err)}
	}

	name := uuid.New().String() + "." + extension(filename)
	p := filepath.Join(s.dir, name)

	f, err := s.fs.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", &StorageError{Filename: filename, Err: err}
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		_ = s.fs.Remove(p)
		return "", &StorageError{Filename: filename, Err: err}
	}
	if err := f.Close(); err != nil {
		_ = s.fs.Remove(p)
		return "", &StorageError{Filename: filename, Err: err}
	}

	return p, nil
}

// Open reads a stored payload.
func (s *FileSink) Open(storagePath string) ([]byte, error) {
	b, err := afero.ReadFile(s.fs, storagePath)
	if err != nil {
		return nil, fmt.Errorf("reading attachment %s: %w", storagePath, err)
	}
	return b, nil
}

// Delete removes a stored payload. Missing files are not an error.
func (s *FileSink) Delete(_ context.Context, storagePath string) error {
	err := s.fs.Remove(storagePath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting attachment %s: %w", storagePath, err)
	}
	return nil
}

// extension returns the lower-cased extension of filename, or "bin".
func extension(filename string) string {
	ext := strings.TrimPrefix(path.Ext(filepath.Base(filename)), ".")
	if ext == "" || len(ext) > 16 || strings.ContainsAny(ext, `/\ `) {
		return "bin"
	}
	return strings.ToLower(ext)
}
