// Package photos holds the object stores for inspection photos.
package photos

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStore keeps photos in a Cloud Storage bucket.
type GCSStore struct {
	client        *storage.Client
	bucket        string
	publicBaseURL string
}

// NewGCSStore opens a storage client with the service account at credentialsPath.
// publicBaseURL overrides the default https://storage.googleapis.com/<bucket> prefix.
func NewGCSStore(ctx context.Context, bucket, publicBaseURL, credentialsPath string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx, option.WithCredentialsFile(credentialsPath))
	if err != nil {
		return nil, fmt.Errorf("error initializing Cloud Storage client: %w", err)
	}

	if publicBaseURL == "" {
		publicBaseURL = "https://storage.googleapis.com/" + bucket
	}

	return &GCSStore{
		client:        client,
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

// Close closes the storage client
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) Bucket() string { return s.bucket }

// Upload writes data to the object, replacing any previous version.
func (s *GCSStore) Upload(ctx context.Context, name string, data []byte, contentType string) error {
	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", name, err)
	}
	return nil
}

func (s *GCSStore) PublicURL(name string) string {
	return s.publicBaseURL + "/" + url.PathEscape(name)
}

// Delete removes the object. A missing object is not an error.
func (s *GCSStore) Delete(ctx context.Context, name string) error {
	err := s.client.Bucket(s.bucket).Object(name).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	return nil
}
