// Package index stores chunk embeddings and serves similarity queries.
package index

import "context"

const (
	// DefaultTopK is how many chunks a query returns when unspecified.
	DefaultTopK = 5

	// DefaultMinScore is the relevance threshold below which matches are
	// discarded.
	DefaultMinScore = 0.1
)

// Entry is a chunk being inserted into the index.
type Entry struct {
	ChunkID    string
	DocID      string
	Filename   string
	ChunkIndex int
	Content    string
	Embedding  []float32
}

// Result is a chunk matched by a similarity query, highest score first.
type Result struct {
	ChunkID    string
	DocID      string
	Filename   string
	ChunkIndex int
	Content    string
	Score      float64
}

// Index is the vector store contract. Implementations must keep mutations
// atomic with respect to concurrent queries: a query observes either the
// pre- or post-mutation state, never a partial one.
type Index interface {
	// Insert appends chunk entries. All entries must match the index's
	// embedding dimension.
	Insert(ctx context.Context, entries []Entry) error

	// Query returns up to k chunks with cosine similarity >= minScore,
	// ordered by descending score with ties broken by insertion order.
	// An empty index yields an empty result, not an error.
	Query(ctx context.Context, embedding []float32, k int, minScore float64) ([]Result, error)

	// DeleteByDocument removes every chunk of the given document. Unknown
	// document ids are a no-op.
	DeleteByDocument(ctx context.Context, docID string) error

	// Clear removes all entries.
	Clear(ctx context.Context) error

	// Count reports the number of live chunks.
	Count(ctx context.Context) (int, error)
}
