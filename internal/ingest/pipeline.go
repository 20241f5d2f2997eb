package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docchat/docchat/internal/chunker"
	"github.com/docchat/docchat/internal/embedding"
	"github.com/docchat/docchat/internal/index"
)

// ErrNoChunks is returned when a document produces no indexable content.
var ErrNoChunks = fmt.Errorf("document produced no chunks")

// InputDoc is one document to ingest: extracted text plus its original
// filename. Extraction from binary formats happens upstream.
type InputDoc struct {
	Filename string
	Text     string
}

// Document is a registry entry for an ingested document.
type Document struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// DocResult reports one successfully ingested document.
type DocResult struct {
	Filename   string `json:"filename"`
	DocID      string `json:"doc_id"`
	ChunkCount int    `json:"chunk_count"`
}

// FailedDoc reports one document that could not be ingested.
type FailedDoc struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

// Result contains statistics about an ingest operation.
type Result struct {
	Docs        []DocResult
	Failed      []FailedDoc
	TotalChunks int
	Duration    time.Duration
}

// Pipeline runs documents through chunking, embedding, and indexing, and
// keeps the document registry.
type Pipeline struct {
	text     *chunker.Splitter
	markdown *chunker.MarkdownSplitter
	embedder embedding.Embedder
	idx      index.Index
	logger   *slog.Logger

	mu   sync.Mutex
	docs map[string]Document
}

// NewPipeline creates an ingest pipeline with the given components.
func NewPipeline(text *chunker.Splitter, markdown *chunker.MarkdownSplitter, embedder embedding.Embedder, idx index.Index, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		text:     text,
		markdown: markdown,
		embedder: embedder,
		idx:      idx,
		logger:   logger,
		docs:     make(map[string]Document),
	}
}

// Ingest processes each document independently. A failed document is rolled
// back and reported in Result.Failed without disturbing documents already
// committed. With clearExisting, the index and registry are emptied first.
func (p *Pipeline) Ingest(ctx context.Context, docs []InputDoc, clearExisting bool) (*Result, error) {
	start := time.Now()

	if clearExisting {
		if err := p.Reset(ctx); err != nil {
			return nil, fmt.Errorf("clear existing: %w", err)
		}
	}

	result := &Result{}
	for _, doc := range docs {
		res, err := p.processDocument(ctx, doc)
		if err != nil {
			p.logger.Warn("failed to ingest document", "filename", doc.Filename, "error", err)
			result.Failed = append(result.Failed, FailedDoc{Filename: doc.Filename, Reason: err.Error()})
			continue
		}
		result.Docs = append(result.Docs, res)
		result.TotalChunks += res.ChunkCount
	}

	result.Duration = time.Since(start)
	p.logger.Info("ingest complete",
		"successful", len(result.Docs),
		"failed", len(result.Failed),
		"chunks", result.TotalChunks,
		"duration", result.Duration,
	)
	return result, nil
}

// processDocument runs one document through the full pipeline. Chunks already
// inserted for the document are deleted on failure.
func (p *Pipeline) processDocument(ctx context.Context, doc InputDoc) (DocResult, error) {
	chunks, err := p.chunk(doc)
	if err != nil {
		return DocResult{}, fmt.Errorf("chunk: %w", err)
	}
	if len(chunks) == 0 {
		return DocResult{}, ErrNoChunks
	}

	embeddings, err := p.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return DocResult{}, fmt.Errorf("embed: %w", err)
	}

	docID := uuid.New().String()
	entries := make([]index.Entry, len(chunks))
	for i, content := range chunks {
		entries[i] = index.Entry{
			ChunkID:    uuid.New().String(),
			DocID:      docID,
			Filename:   doc.Filename,
			ChunkIndex: i,
			Content:    content,
			Embedding:  embeddings[i],
		}
	}

	if err := p.idx.Insert(ctx, entries); err != nil {
		// Insert may have committed part of a multi-batch write.
		if delErr := p.idx.DeleteByDocument(ctx, docID); delErr != nil {
			p.logger.Error("rollback failed", "doc_id", docID, "error", delErr)
		}
		return DocResult{}, fmt.Errorf("index: %w", err)
	}

	p.mu.Lock()
	p.docs[docID] = Document{
		ID:         docID,
		Filename:   doc.Filename,
		ChunkCount: len(chunks),
		CreatedAt:  time.Now(),
	}
	p.mu.Unlock()

	p.logger.Info("ingested document", "filename", doc.Filename, "doc_id", docID, "chunks", len(chunks))
	return DocResult{Filename: doc.Filename, DocID: docID, ChunkCount: len(chunks)}, nil
}

// chunk picks the splitter by file extension: markdown files keep their
// heading structure, everything else splits on sentence boundaries.
func (p *Pipeline) chunk(doc InputDoc) ([]string, error) {
	switch strings.ToLower(filepath.Ext(doc.Filename)) {
	case ".md", ".markdown":
		return p.markdown.Chunk(doc.Text)
	default:
		return p.text.Chunk(doc.Text)
	}
}

// Delete removes one document and its chunks.
func (p *Pipeline) Delete(ctx context.Context, docID string) error {
	if err := p.idx.DeleteByDocument(ctx, docID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	p.mu.Lock()
	delete(p.docs, docID)
	p.mu.Unlock()
	return nil
}

// Reset drops the registry and the index together.
func (p *Pipeline) Reset(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.idx.Clear(ctx); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	p.docs = make(map[string]Document)
	return nil
}

// Documents returns registry entries ordered by creation time.
func (p *Pipeline) Documents() []Document {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Document, 0, len(p.docs))
	for _, d := range p.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Filename < out[j].Filename
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
