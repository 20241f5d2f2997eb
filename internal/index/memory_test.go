package index

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func entry(chunkID, docID string, idx int, embedding []float32) Entry {
	return Entry{
		ChunkID:    chunkID,
		DocID:      docID,
		Filename:   docID + ".txt",
		ChunkIndex: idx,
		Content:    "content of " + chunkID,
		Embedding:  embedding,
	}
}

func TestMemory_QueryOrdersByScore(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	err := m.Insert(ctx, []Entry{
		entry("c0", "d1", 0, []float32{1, 0, 0}),
		entry("c1", "d1", 1, []float32{0, 1, 0}),
		entry("c2", "d1", 2, []float32{1, 1, 0}),
	})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	results, err := m.Query(ctx, []float32{1, 0, 0}, 10, 0.1)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	// c0 is an exact match (score 1), c2 is at 45 degrees (~0.707),
	// c1 is orthogonal and filtered by minScore.
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ChunkID != "c0" {
		t.Errorf("top result: expected c0, got %s", results[0].ChunkID)
	}
	if results[1].ChunkID != "c2" {
		t.Errorf("second result: expected c2, got %s", results[1].ChunkID)
	}
	if results[0].Score < 0.999 {
		t.Errorf("exact match score: expected ~1.0, got %f", results[0].Score)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("results not in descending score order: %f <= %f", results[0].Score, results[1].Score)
	}
}

func TestMemory_TiesBreakByInsertionOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	// Same vector inserted twice: earlier chunk must win.
	err := m.Insert(ctx, []Entry{
		entry("first", "d1", 0, []float32{0, 1, 0}),
		entry("second", "d2", 0, []float32{0, 1, 0}),
	})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	results, err := m.Query(ctx, []float32{0, 1, 0}, 2, 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ChunkID != "first" || results[1].ChunkID != "second" {
		t.Errorf("tie not broken by insertion order: %s, %s", results[0].ChunkID, results[1].ChunkID)
	}
}

func TestMemory_EmptyIndexReturnsEmpty(t *testing.T) {
	m := NewMemory()
	results, err := m.Query(context.Background(), []float32{1, 0, 0}, 5, 0.1)
	if err != nil {
		t.Fatalf("Query on empty index returned error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestMemory_KLimitsResults(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var entries []Entry
	for i := 0; i < 10; i++ {
		entries = append(entries, entry(fmt.Sprintf("c%d", i), "d1", i, []float32{1, 0, 0}))
	}
	if err := m.Insert(ctx, entries); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	results, err := m.Query(ctx, []float32{1, 0, 0}, 3, 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("expected 3 results with k=3, got %d", len(results))
	}
}

func TestMemory_DeleteByDocumentCompleteness(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	err := m.Insert(ctx, []Entry{
		entry("a0", "keep", 0, []float32{1, 0, 0}),
		entry("b0", "drop", 0, []float32{1, 0, 0}),
		entry("b1", "drop", 1, []float32{0.9, 0.1, 0}),
	})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if err := m.DeleteByDocument(ctx, "drop"); err != nil {
		t.Fatalf("DeleteByDocument failed: %v", err)
	}

	results, err := m.Query(ctx, []float32{1, 0, 0}, 10, 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	for _, r := range results {
		if r.DocID == "drop" {
			t.Errorf("deleted document surfaced in query: %s", r.ChunkID)
		}
	}
	if len(results) != 1 || results[0].ChunkID != "a0" {
		t.Errorf("expected only a0 to remain, got %v", results)
	}

	count, err := m.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected count 1 after delete, got %d", count)
	}
}

func TestMemory_DeleteUnknownDocumentIsNoop(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.Insert(ctx, []Entry{entry("a0", "d1", 0, []float32{1, 0, 0})}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if err := m.DeleteByDocument(ctx, "no-such-doc"); err != nil {
		t.Errorf("delete of unknown doc returned error: %v", err)
	}
	count, _ := m.Count(ctx)
	if count != 1 {
		t.Errorf("expected count unchanged, got %d", count)
	}
}

func TestMemory_CompactionPreservesOrdering(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	err := m.Insert(ctx, []Entry{
		entry("a0", "bulk", 0, []float32{1, 0, 0}),
		entry("a1", "bulk", 1, []float32{1, 0, 0}),
		entry("a2", "bulk", 2, []float32{1, 0, 0}),
		entry("keep0", "keep", 0, []float32{0, 1, 0}),
	})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	// Deleting 3 of 4 entries triggers compaction.
	if err := m.DeleteByDocument(ctx, "bulk"); err != nil {
		t.Fatalf("DeleteByDocument failed: %v", err)
	}

	// Insert after compaction; the surviving entry must still win ties.
	if err := m.Insert(ctx, []Entry{entry("keep1", "keep", 1, []float32{0, 1, 0})}); err != nil {
		t.Fatalf("Insert after compaction failed: %v", err)
	}

	results, err := m.Query(ctx, []float32{0, 1, 0}, 5, 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ChunkID != "keep0" || results[1].ChunkID != "keep1" {
		t.Errorf("insertion order lost after compaction: %s, %s", results[0].ChunkID, results[1].ChunkID)
	}
}

func TestMemory_DimensionMismatchCorruptsWrites(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Insert(ctx, []Entry{entry("a0", "d1", 0, []float32{1, 0, 0})}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	err := m.Insert(ctx, []Entry{entry("bad", "d2", 0, []float32{1, 0})})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}

	// Writes stay disabled until the index is cleared.
	err = m.Insert(ctx, []Entry{entry("a1", "d1", 1, []float32{0, 1, 0})})
	if !errors.Is(err, ErrIndexCorrupted) {
		t.Fatalf("expected ErrIndexCorrupted after mismatch, got %v", err)
	}

	if err := m.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if err := m.Insert(ctx, []Entry{entry("a1", "d1", 0, []float32{0, 1})}); err != nil {
		t.Errorf("insert after Clear should succeed, got %v", err)
	}
}

func TestMemory_QueryDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.Insert(ctx, []Entry{entry("a0", "d1", 0, []float32{1, 0, 0})}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	_, err := m.Query(ctx, []float32{1, 0}, 5, 0)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestMemory_ClearRemovesEverything(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.Insert(ctx, []Entry{entry("a0", "d1", 0, []float32{1, 0, 0})}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if err := m.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	results, err := m.Query(ctx, []float32{1, 0, 0}, 5, 0)
	if err != nil {
		t.Fatalf("Query after Clear failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty results after Clear, got %d", len(results))
	}
}

func TestMemory_ConcurrentQueriesDuringMutation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				docID := fmt.Sprintf("w%d-d%d", w, i)
				_ = m.Insert(ctx, []Entry{entry(docID+"-c0", docID, 0, []float32{1, 0, 0})})
				_, _ = m.Query(ctx, []float32{1, 0, 0}, 3, 0.1)
				_ = m.DeleteByDocument(ctx, docID)
			}
		}(w)
	}
	wg.Wait()

	count, err := m.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected empty index after balanced insert/delete, got %d", count)
	}
}
