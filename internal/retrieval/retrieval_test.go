package retrieval

import (
	"context"
	"testing"

	"github.com/carebridge/clinicflow/internal/store"
)

func TestStoreRetrieverRetrieve(t *testing.T) {
	st := store.NewInMemoryStore()
	for _, c := range []string{
		"The clinic is open weekdays from 9am to 5pm.",
		"Walk-in vaccination slots are available on Saturdays.",
		"Parking is free for patients.",
	} {
		if err := st.SaveInfoChunk(c); err != nil {
			t.Fatalf("SaveInfoChunk failed: %v", err)
		}
	}
	r := NewStoreRetriever(st)

	chunks, err := r.Retrieve(context.Background(), "vaccination", 2)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 match, got %d: %v", len(chunks), chunks)
	}

	// Non-positive k falls back to the default chunk count.
	chunks, err = r.Retrieve(context.Background(), "clinic vaccination parking", 0)
	if err != nil {
		t.Fatalf("Retrieve with k=0 failed: %v", err)
	}
	if len(chunks) == 0 || len(chunks) > DefaultChunkCount {
		t.Errorf("expected up to %d matches, got %d", DefaultChunkCount, len(chunks))
	}
}

func TestStoreRetrieverReady(t *testing.T) {
	r := NewStoreRetriever(store.NewInMemoryStore())
	if err := r.Ready(context.Background()); err != nil {
		t.Errorf("Ready on empty store should succeed, got %v", err)
	}
}
