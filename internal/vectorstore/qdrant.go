package vectorstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/qdrant/go-client/qdrant"

	"github.com/smartrag/smartrag/internal/document"
)

// QdrantRepository delegates top-K cosine retrieval to a Qdrant
// collection: client construction, CreateCollection with cosine
// distance, Upsert with payload, and Query with a limit and keyword
// match filters. No score threshold is applied at this layer.
type QdrantRepository struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantRepository connects to a Qdrant instance and ensures the
// target collection exists with the given embedding dimension.
func NewQdrantRepository(ctx context.Context, host string, port int, collection string, dimensions uint64) (*QdrantRepository, error) {
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant: %w", err)
	}

	exists, err := client.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("check collection: %w", err)
	}
	if !exists {
		err = client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     dimensions,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return nil, fmt.Errorf("create collection: %w", err)
		}
	}

	return &QdrantRepository{client: client, collection: collection}, nil
}

func (q *QdrantRepository) Upsert(ctx context.Context, chunk document.Chunk) error {
	return q.UpsertBatch(ctx, []document.Chunk{chunk})
}

func (q *QdrantRepository) UpsertBatch(ctx context.Context, chunks []document.Chunk) error {
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		payload, err := qdrant.TryValueMap(map[string]any{
			"document_id":  c.DocumentID,
			"index":        c.Index,
			"text":         c.Text,
			"content_type": string(c.ContentType),
			"language":     c.Language,
		})
		if err != nil {
			return fmt.Errorf("build payload for chunk %s: %w", c.ID, err)
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(c.ID),
			Vectors: qdrant.NewVectors(c.Embedding...),
			Payload: payload,
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         points,
	})
	return err
}

func (q *QdrantRepository) VectorSearch(ctx context.Context, queryVec []float32, k int, filters Filters) ([]Scored, error) {
	limit := uint64(k)
	req := &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(queryVec...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         buildFilter(filters),
	}

	points, err := q.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("query qdrant: %w", err)
	}

	out := make([]Scored, 0, len(points))
	for _, p := range points {
		out = append(out, Scored{
			Chunk:      chunkFromPayload(p.GetId(), p.GetPayload()),
			Similarity: float64(p.GetScore()),
		})
	}
	return out, nil
}

// TextSearch has no native equivalent in Qdrant's vector-only API and
// always returns no chunks, so the searcher's keyword-only path (taken
// when embedding fails) finds nothing on this backend.
func (q *QdrantRepository) TextSearch(_ context.Context, _ []string, _ Filters) ([]document.Chunk, error) {
	return nil, nil
}

func (q *QdrantRepository) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchKeyword("document_id", documentID)},
		}),
	})
	return err
}

// ClearAll deletes every point in the collection via an empty-match
// filter rather than dropping the collection itself, so the collection
// (and its vector configuration) survives a clear.
func (q *QdrantRepository) ClearAll(ctx context.Context) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelectorFilter(&qdrant.Filter{}),
	})
	return err
}

// GetAll queries the full collection with a large limit; intended for
// small or diagnostic deployments, matching the contract's documented
// caveat rather than true unbounded scroll pagination.
func (q *QdrantRepository) GetAll(ctx context.Context) ([]document.Chunk, error) {
	limit := uint64(10000)
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query qdrant: %w", err)
	}

	out := make([]document.Chunk, 0, len(points))
	for _, p := range points {
		out = append(out, chunkFromPayload(p.GetId(), p.GetPayload()))
	}
	return out, nil
}

func buildFilter(f Filters) *qdrant.Filter {
	var conditions []*qdrant.Condition
	if f.ContentType != "" {
		conditions = append(conditions, qdrant.NewMatchKeyword("content_type", string(f.ContentType)))
	}
	if f.DocumentID != "" {
		conditions = append(conditions, qdrant.NewMatchKeyword("document_id", f.DocumentID))
	}
	if f.Language != "" {
		conditions = append(conditions, qdrant.NewMatchKeyword("language", f.Language))
	}
	if len(conditions) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: conditions}
}

func chunkFromPayload(id *qdrant.PointId, payload map[string]*qdrant.Value) document.Chunk {
	idx, _ := strconv.Atoi(stringField(payload, "index"))
	return document.Chunk{
		ID:          pointIDString(id),
		DocumentID:  stringField(payload, "document_id"),
		Index:       idx,
		Text:        stringField(payload, "text"),
		ContentType: document.ContentType(stringField(payload, "content_type")),
		Language:    stringField(payload, "language"),
	}
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

func stringField(payload map[string]*qdrant.Value, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	return v.GetStringValue()
}
