// Package mcp exposes document search over the Model Context Protocol.
package mcp

import "time"

// SearchDocsInput defines the input parameters for the search_docs tool.
type SearchDocsInput struct {
	// Query is the semantic search query.
	Query string `json:"query" jsonschema:"required,description=The semantic search query for finding relevant document passages"`
	// MaxResults is the maximum number of passages to return.
	MaxResults int `json:"max_results,omitempty" jsonschema:"minimum=1,maximum=20,default=5,description=Maximum number of passages to return"`
	// MinScore is the minimum similarity threshold (0-1).
	MinScore float64 `json:"min_score,omitempty" jsonschema:"minimum=0,maximum=1,default=0.1,description=Minimum similarity score threshold (0-1)"`
}

// SearchDocsOutput contains the search results.
type SearchDocsOutput struct {
	// Results is the list of matching passages, best first.
	Results []SearchResult `json:"results"`
	// Message provides informational context (e.g., "No matching passages found").
	Message string `json:"message,omitempty"`
}

// SearchResult is a single passage match from semantic search.
type SearchResult struct {
	// Filename is the source document the passage came from.
	Filename string `json:"filename"`
	// ChunkIndex is the passage's position within its document.
	ChunkIndex int `json:"chunk_index"`
	// Content is the passage text.
	Content string `json:"content"`
	// Score is the similarity score (0-1).
	Score float64 `json:"score"`
}

// StatusInput defines the input parameters for the get_index_status tool.
// The tool takes no parameters.
type StatusInput struct{}

// StatusOutput describes the current state of the index.
type StatusOutput struct {
	// DocumentCount is the number of ingested documents.
	DocumentCount int `json:"document_count"`
	// ChunkCount is the number of indexed passages.
	ChunkCount int `json:"chunk_count"`
	// Documents lists each ingested document.
	Documents []DocumentStatus `json:"documents"`
}

// DocumentStatus is one registry entry in the status output.
type DocumentStatus struct {
	Filename   string    `json:"filename"`
	ChunkCount int       `json:"chunk_count"`
	IngestedAt time.Time `json:"ingested_at"`
}
