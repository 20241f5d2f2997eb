package index

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/docchat/docchat/internal/retry"
)

// DefaultCollection is the Qdrant collection holding chunk vectors.
const DefaultCollection = "chunks"

// Qdrant is an Index backed by a Qdrant server over gRPC. Qdrant applies
// point operations atomically, so the mutation-vs-query guarantee of the
// Index contract holds without extra locking here.
type Qdrant struct {
	client     *qdrant.Client
	collection string
	dim        int
}

// NewQdrant connects to Qdrant and verifies reachability with a backoff
// health check, failing fast if the server stays unreachable.
func NewQdrant(host string, port int, collection string, dim int) (*Qdrant, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	if collection == "" {
		collection = DefaultCollection
	}
	q := &Qdrant{client: client, collection: collection, dim: dim}

	ctx := context.Background()
	if err := retry.Do(ctx, retry.DefaultPolicy(), func() error {
		return q.Health(ctx)
	}); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrIndexUnreachable, err)
	}

	return q, nil
}

// Health performs a single health check against the server.
func (q *Qdrant) Health(ctx context.Context) error {
	result, err := q.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// EnsureCollection creates the chunk collection with cosine distance and a
// keyword index on doc_id. Idempotent.
func (q *Qdrant) EnsureCollection(ctx context.Context) error {
	collections, err := q.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	for _, name := range collections {
		if name == q.collection {
			return nil
		}
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}

	// DeleteByDocument filters on doc_id; without this index the filter
	// falls back to a full scan.
	_, err = q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: q.collection,
		FieldName:      "doc_id",
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("create doc_id index: %w", err)
	}

	return nil
}

// Insert upserts chunk points in batches of 100 with backoff retry.
func (q *Qdrant) Insert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	for _, e := range entries {
		if len(e.Embedding) != q.dim {
			return fmt.Errorf("%w: chunk %s has %d dimensions, expected %d",
				ErrDimensionMismatch, e.ChunkID, len(e.Embedding), q.dim)
		}
	}

	const batchSize = 100
	for i := 0; i < len(entries); i += batchSize {
		end := min(i+batchSize, len(entries))
		batch := entries[i:end]

		points := make([]*qdrant.PointStruct, len(batch))
		for j, e := range batch {
			points[j] = &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(e.ChunkID),
				Vectors: qdrant.NewVectors(e.Embedding...),
				Payload: qdrant.NewValueMap(map[string]any{
					"doc_id":      e.DocID,
					"filename":    e.Filename,
					"chunk_index": int64(e.ChunkIndex),
					"content":     e.Content,
				}),
			}
		}

		err := retry.Do(ctx, retry.DefaultPolicy(), func() error {
			_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
				CollectionName: q.collection,
				Points:         points,
			})
			return err
		})
		if err != nil {
			return fmt.Errorf("upsert batch %d-%d: %w", i, end, err)
		}
	}

	return nil
}

// Query performs a similarity search, letting the server apply the score
// threshold and ordering.
func (q *Qdrant) Query(ctx context.Context, embedding []float32, k int, minScore float64) ([]Result, error) {
	if len(embedding) != q.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(embedding), q.dim)
	}
	if k <= 0 {
		k = DefaultTopK
	}

	threshold := float32(minScore)
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          qdrant.PtrOf(uint64(k)),
		ScoreThreshold: &threshold,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}

	results := make([]Result, 0, len(points))
	for _, p := range points {
		payload := p.Payload
		results = append(results, Result{
			ChunkID:    p.Id.GetUuid(),
			DocID:      payload["doc_id"].GetStringValue(),
			Filename:   payload["filename"].GetStringValue(),
			ChunkIndex: int(payload["chunk_index"].GetIntegerValue()),
			Content:    payload["content"].GetStringValue(),
			Score:      float64(p.Score),
		})
	}
	return results, nil
}

// DeleteByDocument removes all points whose doc_id matches. Deleting an
// unknown document matches nothing and succeeds.
func (q *Qdrant) DeleteByDocument(ctx context.Context, docID string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("doc_id", docID),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("delete document %s: %w", docID, err)
	}
	return nil
}

// Clear drops and recreates the collection.
func (q *Qdrant) Clear(ctx context.Context) error {
	if err := q.client.DeleteCollection(ctx, q.collection); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	return q.EnsureCollection(ctx)
}

// Count reports the number of stored chunk points.
func (q *Qdrant) Count(ctx context.Context) (int, error) {
	info, err := q.client.GetCollectionInfo(ctx, q.collection)
	if err != nil {
		return 0, fmt.Errorf("get collection info: %w", err)
	}
	return int(info.GetPointsCount()), nil
}

// Close releases the gRPC connection.
func (q *Qdrant) Close() error {
	if q.client != nil {
		return q.client.Close()
	}
	return nil
}
