// Package retrieval embeds queries and finds the most relevant chunks.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docchat/docchat/internal/embedding"
	"github.com/docchat/docchat/internal/index"
)

// Engine answers similarity queries against the vector index. An empty
// index yields an empty result; "no grounding available" is not an error.
type Engine struct {
	embedder embedding.Embedder
	idx      index.Index
	topK     int
	minScore float64
	logger   *slog.Logger
}

// NewEngine creates a retrieval engine with default k and score threshold.
// Zero topK and negative minScore select the index package defaults.
func NewEngine(embedder embedding.Embedder, idx index.Index, topK int, minScore float64, logger *slog.Logger) *Engine {
	if topK <= 0 {
		topK = index.DefaultTopK
	}
	if minScore < 0 {
		minScore = index.DefaultMinScore
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		embedder: embedder,
		idx:      idx,
		topK:     topK,
		minScore: minScore,
		logger:   logger,
	}
}

// Retrieve returns the chunks most similar to the query text using the
// engine's configured defaults.
func (e *Engine) Retrieve(ctx context.Context, query string) ([]index.Result, error) {
	return e.RetrieveWith(ctx, query, e.topK, e.minScore)
}

// RetrieveWith is Retrieve with explicit k and score threshold.
func (e *Engine) RetrieveWith(ctx context.Context, query string, k int, minScore float64) ([]index.Result, error) {
	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := e.idx.Query(ctx, vector, k, minScore)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}

	e.logger.Debug("retrieved chunks", "query_len", len(query), "matches", len(results))
	return results, nil
}
