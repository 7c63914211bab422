// Package store persists downloaded media on the local filesystem for the
// retention window. Each job gets its own directory under the configured
// root so eviction can remove everything a job produced in one call.
package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// Store is a local-filesystem byte store.
type Store struct {
	root string
}

// New creates a Store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("downloads directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create downloads directory %s: %w", dir, err)
	}
	return &Store{root: dir}, nil
}

// Root returns the downloads root directory.
func (s *Store) Root() string {
	return s.root
}

// InitJob creates and returns the working directory for a job.
func (s *Store) InitJob(jobID string) (string, error) {
	dir := s.JobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create job directory %s: %w", dir, err)
	}
	return dir, nil
}

// JobDir returns the directory path for a job without creating it.
func (s *Store) JobDir(jobID string) string {
	return filepath.Join(s.root, jobID)
}

// Open opens a stored file for reading.
func (s *Store) Open(path string) (*os.File, error) {
	return os.Open(path)
}

// RemoveJob deletes a job's directory and everything in it.
func (s *Store) RemoveJob(jobID string) error {
	return os.RemoveAll(s.JobDir(jobID))
}
