package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const uriScheme = "file://"

// LocalBlobStore persists opaque payloads on disk under a base directory and
// hands back retrievable references. Callers treat the returned URI as an
// opaque pointer.
type LocalBlobStore struct {
	baseDir string
}

// NewLocalBlobStore ensures the base directory exists and returns a handle.
func NewLocalBlobStore(baseDir string) (*LocalBlobStore, error) {
	if baseDir == "" {
		baseDir = "./blobs"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return &LocalBlobStore{baseDir: baseDir}, nil
}

// Put writes the payload under the given object name and returns its URI.
func (s *LocalBlobStore) Put(name string, data []byte) (string, error) {
	path, err := s.resolve(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("prepare blob directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob %s: %w", name, err)
	}
	return uriScheme + name, nil
}

// Get reads back the payload referenced by the URI.
func (s *LocalBlobStore) Get(uri string) ([]byte, error) {
	name, ok := strings.CutPrefix(uri, uriScheme)
	if !ok {
		return nil, fmt.Errorf("unsupported blob uri %q", uri)
	}
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", name, err)
	}
	return data, nil
}

// Delete removes the payload referenced by the URI. Missing blobs are not an
// error, they may already have been cleaned up.
func (s *LocalBlobStore) Delete(uri string) error {
	name, ok := strings.CutPrefix(uri, uriScheme)
	if !ok {
		return fmt.Errorf("unsupported blob uri %q", uri)
	}
	path, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob %s: %w", name, err)
	}
	return nil
}

func (s *LocalBlobStore) resolve(name string) (string, error) {
	clean := filepath.Clean(name)
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid blob name %q", name)
	}
	return filepath.Join(s.baseDir, clean), nil
}
