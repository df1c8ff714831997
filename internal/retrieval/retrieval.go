// Package retrieval provides the document context retriever consumed by the
// info agent.
//
// The default implementation ranks stored info chunks by keyword overlap.
// Semantic/vector search lives behind the same interface and is out of scope
// here.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/carebridge/clinicflow/internal/store"
)

// DefaultChunkCount is the number of chunks retrieved per info query.
const DefaultChunkCount = 4

// Retriever returns document chunks relevant to a query.
type Retriever interface {
	// Retrieve returns up to k chunks, best match first.
	Retrieve(ctx context.Context, query string, k int) ([]string, error)
	// Ready reports whether the retriever can serve queries. Checked at
	// session start so a broken retriever fails fast.
	Ready(ctx context.Context) error
}

// StoreRetriever serves chunks from the Store's info chunk table.
type StoreRetriever struct {
	store store.Store
}

// NewStoreRetriever creates a retriever backed by a Store.
func NewStoreRetriever(st store.Store) *StoreRetriever {
	return &StoreRetriever{store: st}
}

// Retrieve returns up to k chunks, best match first.
func (r *StoreRetriever) Retrieve(ctx context.Context, query string, k int) ([]string, error) {
	if k <= 0 {
		k = DefaultChunkCount
	}
	chunks, err := r.store.SearchInfoChunks(query, k)
	if err != nil {
		slog.Error("StoreRetriever.Retrieve: search failed", "error", err)
		return nil, fmt.Errorf("chunk search failed: %w", err)
	}
	slog.Debug("StoreRetriever.Retrieve: retrieved chunks", "count", len(chunks), "k", k)
	return chunks, nil
}

// Ready probes the backing store with an empty search.
func (r *StoreRetriever) Ready(ctx context.Context) error {
	if _, err := r.store.SearchInfoChunks("", 1); err != nil {
		return fmt.Errorf("retriever store not ready: %w", err)
	}
	return nil
}
