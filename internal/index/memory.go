package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Memory is a flat in-memory index using brute-force cosine similarity over
// L2-normalized vectors. Mutations take the write lock so concurrent queries
// never observe a half-applied insert or delete. Deletes tombstone entries
// and the slice is compacted once dead entries outnumber live ones.
type Memory struct {
	mu        sync.RWMutex
	dim       int
	entries   []memEntry
	dead      int
	nextSeq   int
	corrupted bool
}

type memEntry struct {
	Entry
	seq     int // insertion order, for deterministic tie-breaking
	deleted bool
}

// NewMemory creates an empty in-memory index. The embedding dimension is
// fixed by the first insert.
func NewMemory() *Memory {
	return &Memory{}
}

// Insert appends entries after validating dimensions. A dimension mismatch
// latches the corrupted state: further inserts fail until Clear.
func (m *Memory) Insert(_ context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.corrupted {
		return ErrIndexCorrupted
	}

	dim := m.dim
	if dim == 0 {
		dim = len(entries[0].Embedding)
	}
	for _, e := range entries {
		if len(e.Embedding) != dim {
			m.corrupted = true
			return fmt.Errorf("%w: chunk %s has %d dimensions, expected %d",
				ErrDimensionMismatch, e.ChunkID, len(e.Embedding), dim)
		}
	}
	m.dim = dim

	for _, e := range entries {
		stored := e
		stored.Embedding = normalize(e.Embedding)
		m.entries = append(m.entries, memEntry{Entry: stored, seq: m.nextSeq})
		m.nextSeq++
	}
	return nil
}

// Query scores every live entry against the normalized query vector.
func (m *Memory) Query(_ context.Context, embedding []float32, k int, minScore float64) ([]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.entries) == m.dead {
		return nil, nil
	}
	if len(embedding) != m.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(embedding), m.dim)
	}
	if k <= 0 {
		k = DefaultTopK
	}

	query := normalize(embedding)
	matches := make([]memEntry, 0, len(m.entries)-m.dead)
	scores := make(map[int]float64)
	for _, e := range m.entries {
		if e.deleted {
			continue
		}
		score := dot(e.Embedding, query)
		if score < minScore {
			continue
		}
		scores[e.seq] = score
		matches = append(matches, e)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		si, sj := scores[matches[i].seq], scores[matches[j].seq]
		if si != sj {
			return si > sj
		}
		return matches[i].seq < matches[j].seq
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	results := make([]Result, len(matches))
	for i, e := range matches {
		results[i] = Result{
			ChunkID:    e.ChunkID,
			DocID:      e.DocID,
			Filename:   e.Filename,
			ChunkIndex: e.ChunkIndex,
			Content:    e.Content,
			Score:      scores[e.seq],
		}
	}
	return results, nil
}

// DeleteByDocument tombstones every chunk of docID. Unknown ids are a no-op.
func (m *Memory) DeleteByDocument(_ context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.entries {
		if !m.entries[i].deleted && m.entries[i].DocID == docID {
			m.entries[i].deleted = true
			m.dead++
		}
	}
	if m.dead > len(m.entries)-m.dead {
		m.compactLocked()
	}
	return nil
}

// compactLocked rewrites the entry slice without tombstones so query cost
// tracks live entries. Insertion order (seq) is preserved. Caller holds the
// write lock.
func (m *Memory) compactLocked() {
	live := make([]memEntry, 0, len(m.entries)-m.dead)
	for _, e := range m.entries {
		if !e.deleted {
			live = append(live, e)
		}
	}
	m.entries = live
	m.dead = 0
}

// Clear removes everything and resets the corrupted latch and dimension.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
	m.dead = 0
	m.dim = 0
	m.nextSeq = 0
	m.corrupted = false
	return nil
}

// Count returns the number of live chunks.
func (m *Memory) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries) - m.dead, nil
}

// Entries returns a snapshot of live entries in insertion order, without
// embeddings. Used by the status endpoint.
func (m *Memory) Entries() []Result {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Result, 0, len(m.entries)-m.dead)
	for _, e := range m.entries {
		if e.deleted {
			continue
		}
		out = append(out, Result{
			ChunkID:    e.ChunkID,
			DocID:      e.DocID,
			Filename:   e.Filename,
			ChunkIndex: e.ChunkIndex,
			Content:    e.Content,
		})
	}
	return out
}

// normalize returns an L2-normalized copy so cosine similarity reduces to a
// dot product. Zero vectors are returned as-is and score zero everywhere.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	if norm == 0 {
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
