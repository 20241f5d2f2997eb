package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/docchat/docchat/internal/retry"
)

const (
	// Model is the embedding model. Dimension below must match it.
	Model = "text-embedding-3-small"

	// Dimension is the vector size produced by text-embedding-3-small.
	Dimension = 1536

	// DefaultBatchSize balances requests-per-minute against tokens-per-minute
	// rate limits. The API accepts up to 2048 texts per request.
	DefaultBatchSize = 500
)

// ErrUnavailable signals the embedding service could not be reached after
// retries. It must propagate to the caller; returning a zero vector instead
// would corrupt similarity rankings.
var ErrUnavailable = errors.New("embedding service unavailable")

// Embedder turns text into fixed-dimension vectors. EmbedBatch must produce
// results identical, element-wise, to calling Embed on each text; the batch
// form exists purely for throughput.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// OpenAI is an Embedder backed by the OpenAI embeddings API. Requests are
// batched and retried with exponential backoff on rate limit and server
// errors.
type OpenAI struct {
	client    *Client
	batchSize int
}

// NewOpenAI creates an embedder with the given client and optional batch
// size. Zero batchSize selects DefaultBatchSize.
func NewOpenAI(client *Client, batchSize int) *OpenAI {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &OpenAI{client: client, batchSize: batchSize}
}

// Dimension returns the embedding vector size.
func (e *OpenAI) Dimension() int { return Dimension }

// Embed generates the embedding for a single text.
func (e *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for all texts, preserving order.
func (e *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var all [][]float32
	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))
		vectors, err := e.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		all = append(all, vectors...)
	}
	return all, nil
}

// embedBatch sends one API request with retry. Rate limit (429), server
// (5xx), and transport errors are retried; other API errors fail fast.
func (e *OpenAI) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32

	policy := retry.DefaultPolicy()
	policy.Retryable = isRetryable

	err := retry.Do(ctx, policy, func() error {
		resp, err := e.client.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			Model: Model,
		})
		if err != nil {
			return err
		}
		if len(resp.Data) != len(texts) {
			return fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
		}
		vectors = make([][]float32, len(resp.Data))
		for i, data := range resp.Data {
			vectors[i] = toFloat32(data.Embedding)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return vectors, nil
}

// isRetryable reports whether an error is a transient service failure.
// API errors other than 429 and 5xx are permanent.
func isRetryable(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	// Transport-level failure, assume transient.
	return true
}

// toFloat32 narrows the API's float64 vectors for storage.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
