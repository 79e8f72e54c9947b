package photos

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrInvalidName is returned for object names that would escape the store root.
var ErrInvalidName = errors.New("invalid object name")

// LocalStore keeps photos in a directory, for development without a cloud bucket.
// Objects are written to a temporary file and renamed into place.
type LocalStore struct {
	Root          string
	bucket        string
	publicBaseURL string
	mu            sync.Mutex
}

// NewLocalStore creates the bucket directory under root.
// Photos are expected to be served at publicBaseURL (e.g. "/photos").
func NewLocalStore(root, bucket, publicBaseURL string) (*LocalStore, error) {
	dir := filepath.Join(root, bucket)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create photo directory: %w", err)
	}
	return &LocalStore{
		Root:          dir,
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

func (s *LocalStore) Bucket() string { return s.bucket }

func (s *LocalStore) Upload(ctx context.Context, name string, data []byte, contentType string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to commit %s: %w", name, err)
	}
	return nil
}

func (s *LocalStore) PublicURL(name string) string {
	return s.publicBaseURL + "/" + url.PathEscape(name)
}

// Delete removes the object. A missing object is not an error.
func (s *LocalStore) Delete(ctx context.Context, name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	return nil
}

// Read returns the stored object.
func (s *LocalStore) Read(name string) ([]byte, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func (s *LocalStore) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.Root, name), nil
}
