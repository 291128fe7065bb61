// Package objstore stores model artifacts under string keys in a bucket.
package objstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/willbeason/insurance-eligibility/pkg/config"
)

var ErrObjectStore = errors.New("object store")

// Lookup is the outcome of fetching a key. Found is false when the key does
// not exist, which is not an error.
type Lookup struct {
	Found  bool
	Object []byte
}

type Store interface {
	// Bucket names the bucket keys are resolved in.
	Bucket() string
	// Put writes data at key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte) error
	Fetch(ctx context.Context, key string) (Lookup, error)
}

// Conn is an open object store handle. The owner closes it.
type Conn interface {
	Store
	Close() error
}

// Open connects to the configured backend.
func Open(ctx context.Context, cfg config.ObjectStore) (Conn, error) {
	switch cfg.Backend {
	case config.BackendGCS:
		return NewGCS(ctx, cfg.Bucket, cfg.CredentialsFile)
	case config.BackendDir:
		return NewDir(cfg.Dir, cfg.Bucket)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrObjectStore, cfg.Backend)
	}
}
