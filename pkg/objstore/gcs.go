package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCS stores objects in a Google Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket string
}

// NewGCS creates a client for bucket. With an empty credentialsFile the
// client uses Application Default Credentials.
func NewGCS(ctx context.Context, bucket, credentialsFile string) (*GCS, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); err != nil {
			return nil, fmt.Errorf("%w: service account key %q: %w", ErrObjectStore, credentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: creating GCS storage client: %w", ErrObjectStore, err)
	}

	return &GCS{client: client, bucket: bucket}, nil
}

func (s *GCS) Bucket() string {
	return s.bucket
}

func (s *GCS) Put(ctx context.Context, key string, data []byte) error {
	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = "application/octet-stream"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("%w: writing gs://%s/%s: %w", ErrObjectStore, s.bucket, key, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("%w: closing GCS writer for gs://%s/%s: %w", ErrObjectStore, s.bucket, key, err)
	}
	return nil
}

func (s *GCS) Fetch(ctx context.Context, key string) (Lookup, error) {
	reader, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return Lookup{}, nil
	}
	if err != nil {
		return Lookup{}, fmt.Errorf("%w: opening gs://%s/%s: %w", ErrObjectStore, s.bucket, key, err)
	}
	defer func() {
		_ = reader.Close()
	}()

	data, err := io.ReadAll(reader)
	if err != nil {
		return Lookup{}, fmt.Errorf("%w: reading gs://%s/%s: %w", ErrObjectStore, s.bucket, key, err)
	}
	return Lookup{Found: true, Object: data}, nil
}

func (s *GCS) Close() error {
	return s.client.Close()
}
