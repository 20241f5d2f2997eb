package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/docchat/docchat/internal/index"
	"github.com/docchat/docchat/internal/ingest"
	"github.com/docchat/docchat/internal/retrieval"
)

// makeSearchHandler creates the search_docs tool handler. The query is
// embedded and matched against indexed passages; results come back best
// first with their similarity scores.
func makeSearchHandler(engine *retrieval.Engine) func(
	context.Context, *mcp.CallToolRequest, SearchDocsInput,
) (*mcp.CallToolResult, SearchDocsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchDocsInput) (
		*mcp.CallToolResult, SearchDocsOutput, error,
	) {
		maxResults := input.MaxResults
		if maxResults <= 0 {
			maxResults = index.DefaultTopK
		}
		minScore := input.MinScore
		if minScore <= 0 {
			minScore = index.DefaultMinScore
		}

		matches, err := engine.RetrieveWith(ctx, input.Query, maxResults, minScore)
		if err != nil {
			return nil, SearchDocsOutput{}, fmt.Errorf("search failed: %w", err)
		}

		results := make([]SearchResult, len(matches))
		for i, m := range matches {
			results[i] = SearchResult{
				Filename:   m.Filename,
				ChunkIndex: m.ChunkIndex,
				Content:    m.Content,
				Score:      m.Score,
			}
		}

		if len(results) == 0 {
			return nil, SearchDocsOutput{
				Results: []SearchResult{},
				Message: "No matching passages found. Try broader search terms.",
			}, nil
		}
		return nil, SearchDocsOutput{Results: results}, nil
	}
}

// makeStatusHandler creates the get_index_status tool handler.
func makeStatusHandler(pipeline *ingest.Pipeline, idx index.Index) func(
	context.Context, *mcp.CallToolRequest, StatusInput,
) (*mcp.CallToolResult, StatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input StatusInput) (
		*mcp.CallToolResult, StatusOutput, error,
	) {
		count, err := idx.Count(ctx)
		if err != nil {
			return nil, StatusOutput{}, fmt.Errorf("index_error: failed to count chunks: %w", err)
		}

		registry := pipeline.Documents()
		docs := make([]DocumentStatus, len(registry))
		for i, d := range registry {
			docs[i] = DocumentStatus{
				Filename:   d.Filename,
				ChunkCount: d.ChunkCount,
				IngestedAt: d.CreatedAt,
			}
		}

		return nil, StatusOutput{
			DocumentCount: len(registry),
			ChunkCount:    count,
			Documents:     docs,
		}, nil
	}
}
