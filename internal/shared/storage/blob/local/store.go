package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"civicease-backend/internal/shared/storage/blob"
)

// Store implements blob.Store using a single file on the local filesystem.
type Store struct {
	path string
}

// New creates a file-backed blob store at path.
func New(path string) blob.Store {
	return &Store{path: path}
}

// Read returns the file contents, or blob.ErrNotExist if it was never written.
func (s *Store) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, blob.ErrNotExist
		}
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

// Write replaces the file contents atomically via a temp file and rename, so
// a crash mid-write never leaves a truncated library behind.
func (s *Store) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		return fmt.Errorf("rename blob: %w", err)
	}
	return nil
}
