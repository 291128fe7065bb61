// Package docstore reads customer records from a document database or from
// JSON-lines dumps of one.
package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/willbeason/insurance-eligibility/pkg/config"
)

// Document is one record as a mapping from field name to value. Values are
// nil, bool, float64, string, []any or map[string]any.
type Document = map[string]any

var (
	ErrDocumentStore = errors.New("document store")
	ErrReadOnly      = errors.New("document store is read-only")
)

// Store fetches whole collections. There is no filtering or pagination; the
// full collection is returned in memory.
type Store interface {
	FetchAll(ctx context.Context, collection string) ([]Document, error)
}

// Conn is an open connection handle. The owner closes it.
type Conn interface {
	Store
	InsertAll(ctx context.Context, collection string, docs []Document) (int, error)
	Close(ctx context.Context) error
}

// Open connects to the configured backend.
func Open(ctx context.Context, cfg config.DocumentStore) (Conn, error) {
	switch cfg.Backend {
	case config.BackendMongo:
		return ConnectMongo(ctx, cfg.URI, cfg.Database, cfg.ConnectTimeout)
	case config.BackendJSONL:
		return NewJSONL(cfg.Path)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrDocumentStore, cfg.Backend)
	}
}
