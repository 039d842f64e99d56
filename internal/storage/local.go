package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var ErrInvalidPath = errors.New("invalid storage path")

// LocalStorage stores export artifacts on the local filesystem. Files
// appear under their final name only once fully written.
type LocalStorage struct {
	basePath string
}

func NewLocalStorage(basePath string) *LocalStorage {
	return &LocalStorage{basePath: basePath}
}

// WriteFile writes the artifact dir/filename by calling write with a
// temporary file in the same directory and renaming it into place. When
// write fails, or ctx ends first, the temporary file is removed and no
// file is left at the target path.
func (s *LocalStorage) WriteFile(ctx context.Context, dir, filename string, write func(io.Writer) error) (string, error) {
	target, err := s.resolve(dir, filename)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err := write(tmp); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("rename file: %w", err)
	}
	committed = true
	return target, nil
}

// Open returns the artifact dir/filename for reading.
func (s *LocalStorage) Open(_ context.Context, dir, filename string) (io.ReadCloser, error) {
	target, err := s.resolve(dir, filename)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(target)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// Delete removes the artifact dir/filename. A missing file is not an error.
func (s *LocalStorage) Delete(_ context.Context, dir, filename string) error {
	target, err := s.resolve(dir, filename)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}
	// Try to remove the parent dir if empty, but never the base path itself
	if parent := filepath.Dir(target); parent != filepath.Clean(s.basePath) {
		_ = os.Remove(parent)
	}
	return nil
}

// resolve joins dir and filename under the base path, rejecting names that
// would escape it.
func (s *LocalStorage) resolve(dir, filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) || filename == "." || filename == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, filename)
	}
	base := filepath.Clean(s.basePath)
	target := filepath.Join(base, dir, filename)
	if !strings.HasPrefix(target, base+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes %s", ErrInvalidPath, filepath.Join(dir, filename), base)
	}
	return target, nil
}
