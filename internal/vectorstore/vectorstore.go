// Package vectorstore defines the Document Repository contract and two
// implementations: an in-memory backend for small deployments and a
// Qdrant-backed one for native vector search. Both follow the same
// contract so the searcher in internal/docsearch never knows which one
// it is talking to.
package vectorstore

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/smartrag/smartrag/internal/document"
	"github.com/smartrag/smartrag/internal/logging"
)

var log = logging.GetLogger("vectorstore")

// Filters narrows VectorSearch/TextSearch to a subset of chunks.
type Filters struct {
	ContentType document.ContentType // empty means any
	DocumentID  string               // empty means any
	Language    string               // empty means any
}

func (f Filters) matches(c document.Chunk) bool {
	if f.ContentType != "" && c.ContentType != f.ContentType {
		return false
	}
	if f.DocumentID != "" && c.DocumentID != f.DocumentID {
		return false
	}
	if f.Language != "" && c.Language != f.Language {
		return false
	}
	return true
}

// Scored pairs a chunk with its similarity to the query vector.
type Scored struct {
	Chunk      document.Chunk
	Similarity float64
}

// Repository is the Document Repository contract: upsert chunks, search
// by vector or token overlap, and manage lifecycle by document.
type Repository interface {
	Upsert(ctx context.Context, chunk document.Chunk) error
	UpsertBatch(ctx context.Context, chunks []document.Chunk) error
	VectorSearch(ctx context.Context, queryVec []float32, k int, filters Filters) ([]Scored, error)
	TextSearch(ctx context.Context, tokens []string, filters Filters) ([]document.Chunk, error)
	DeleteByDocument(ctx context.Context, documentID string) error
	ClearAll(ctx context.Context) error
	GetAll(ctx context.Context) ([]document.Chunk, error)
}

// MemoryRepository is a mutex-guarded, process-local Repository.
// Suitable for deployments small enough to keep every chunk resident.
type MemoryRepository struct {
	mu     sync.RWMutex
	chunks map[string]document.Chunk
}

// NewMemoryRepository constructs an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{chunks: make(map[string]document.Chunk)}
}

func (m *MemoryRepository) Upsert(_ context.Context, chunk document.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[chunk.ID] = chunk
	return nil
}

func (m *MemoryRepository) UpsertBatch(ctx context.Context, chunks []document.Chunk) error {
	for _, c := range chunks {
		if err := m.Upsert(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryRepository) VectorSearch(_ context.Context, queryVec []float32, k int, filters Filters) ([]Scored, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var scored []Scored
	for _, c := range m.chunks {
		if !filters.matches(c) || len(c.Embedding) == 0 {
			continue
		}
		sim := cosineSimilarity(queryVec, c.Embedding)
		scored = append(scored, Scored{Chunk: c, Similarity: sim})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Similarity > scored[j].Similarity })
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (m *MemoryRepository) TextSearch(_ context.Context, tokens []string, filters Filters) ([]document.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tokenSet := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		tokenSet[strings.ToLower(t)] = true
	}

	var out []document.Chunk
	for _, c := range m.chunks {
		if !filters.matches(c) {
			continue
		}
		lower := strings.ToLower(c.Text)
		for t := range tokenSet {
			if strings.Contains(lower, t) {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryRepository) DeleteByDocument(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.chunks {
		if c.DocumentID == documentID {
			delete(m.chunks, id)
		}
	}
	return nil
}

func (m *MemoryRepository) ClearAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = make(map[string]document.Chunk)
	return nil
}

func (m *MemoryRepository) GetAll(_ context.Context) ([]document.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]document.Chunk, 0, len(m.chunks))
	for _, c := range m.chunks {
		out = append(out, c)
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
