package docstore

import (
	"context"
	"maps"
	"sync"
)

// Memory keeps collections in process memory.
type Memory struct {
	mu          sync.Mutex
	collections map[string][]Document
}

func NewMemory() *Memory {
	return &Memory{collections: make(map[string][]Document)}
}

func (m *Memory) FetchAll(_ context.Context, collection string) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	docs := make([]Document, len(m.collections[collection]))
	for i, doc := range m.collections[collection] {
		docs[i] = maps.Clone(doc)
	}
	return docs, nil
}

func (m *Memory) InsertAll(_ context.Context, collection string, docs []Document) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, doc := range docs {
		m.collections[collection] = append(m.collections[collection], maps.Clone(doc))
	}
	return len(docs), nil
}

func (m *Memory) Close(context.Context) error {
	return nil
}
