// Package docsearch implements the Document Index & Searcher: hybrid
// semantic+keyword scoring over chunks held in a vectorstore.Repository,
// adaptive thresholding, and the strong-match early-exit signal the
// router uses. Scores semantically first, blends in a keyword score,
// then applies the threshold.
package docsearch

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/smartrag/smartrag/internal/document"
	"github.com/smartrag/smartrag/internal/logging"
	"github.com/smartrag/smartrag/internal/vectorstore"
)

var log = logging.GetLogger("docsearch")

// EmbeddingProvider is the subset of the AI Provider contract the
// searcher needs. Defined locally so this package never imports
// internal/ai, avoiding a dependency cycle with the provider's own use
// of document search results.
type EmbeddingProvider interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// Config governs hybrid scoring and adaptive thresholding.
type Config struct {
	SemanticWeight               float64
	KeywordWeight                float64
	SemanticSearchThreshold      float64
	StrongDocumentMatchThreshold float64
	MinResults                   int
	MaxResults                   int

	// CoherenceBonus and ContextualBonus are multiplicative bonuses applied
	// when HasSemanticCoherence / ContainsContextualKeywords hold.
	CoherenceBonus float64
	ContextualBonus float64
}

// DefaultConfig matches pkg/config.ScoringConfig's built-in defaults.
func DefaultConfig() Config {
	return Config{
		SemanticWeight:               0.8,
		KeywordWeight:                0.2,
		SemanticSearchThreshold:      0.5,
		StrongDocumentMatchThreshold: 4.8,
		MinResults:                   3,
		MaxResults:                   10,
		CoherenceBonus:               1.1,
		ContextualBonus:              1.1,
	}
}

// ScoredChunk pairs a chunk with the hybrid score it earned.
type ScoredChunk struct {
	Chunk document.Chunk
	Score float64
}

// Result is the outcome of one search call.
type Result struct {
	Chunks   []ScoredChunk
	Strong   bool // top-1 score >= StrongDocumentMatchThreshold
	Degraded bool // embedding failed; fell back to keyword-only scoring
}

// Searcher answers "top-K chunks for query" using hybrid scoring.
type Searcher struct {
	repo     vectorstore.Repository
	embedder EmbeddingProvider
	cfg      Config
}

// NewSearcher builds a Searcher over a repository and embedding provider.
func NewSearcher(repo vectorstore.Repository, embedder EmbeddingProvider, cfg Config) *Searcher {
	return &Searcher{repo: repo, embedder: embedder, cfg: cfg}
}

// contentTypeFlags maps a query's leading prefix flag to the chunk
// content type it restricts the search to.
var contentTypeFlags = map[string]document.ContentType{
	"-d":  document.ContentTypeDocument,
	"-a":  document.ContentTypeAudio,
	"-i":  document.ContentTypeImage,
	"-db": document.ContentTypeDatabase,
}

// ParseContentTypeFilter inspects query for a leading content-type flag
// (-d documents, -a audio, -i images, -db database) and, if present,
// returns the query with the flag and its separating whitespace
// stripped, along with the content type it selects. If no recognized
// flag is present, query is returned unchanged with an empty
// content type, meaning no filter.
func ParseContentTypeFilter(query string) (string, document.ContentType) {
	trimmed := strings.TrimSpace(query)
	for flag, ct := range contentTypeFlags {
		if trimmed == flag {
			return "", ct
		}
		if rest, ok := strings.CutPrefix(trimmed, flag+" "); ok {
			return strings.TrimSpace(rest), ct
		}
	}
	return query, ""
}

// Search returns up to MaxResults chunks ranked by hybrid score,
// honoring the adaptive threshold and content-type filters.
func (s *Searcher) Search(ctx context.Context, query string, filters vectorstore.Filters) (Result, error) {
	queryTokens := tokenize(query)

	queryVec, err := s.embedder.GenerateEmbedding(ctx, query)
	degraded := err != nil
	if degraded {
		log.Warn("embedding failed, falling back to keyword-only scoring", "error", err)
	}

	var candidates []document.Chunk
	if !degraded {
		scored, err := s.repo.VectorSearch(ctx, queryVec, s.candidatePoolSize(), filters)
		if err != nil {
			return Result{}, err
		}
		for _, sc := range scored {
			candidates = append(candidates, sc.Chunk)
		}
	} else {
		all, err := s.repo.TextSearch(ctx, queryTokens, filters)
		if err != nil {
			return Result{}, err
		}
		candidates = all
	}

	scored := make([]ScoredChunk, 0, len(candidates))
	for _, c := range candidates {
		semantic := 0.0
		if !degraded && len(queryVec) > 0 && len(c.Embedding) > 0 {
			semantic = cosineSimilarity(queryVec, c.Embedding)
		}
		keyword := keywordScore(queryTokens, c.Text)
		score := s.hybridScore(semantic, keyword, queryTokens, c.Text)
		scored = append(scored, ScoredChunk{Chunk: c, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	threshold := s.cfg.SemanticSearchThreshold
	admitted := admitAtThreshold(scored, threshold)
	if len(admitted) < s.cfg.MinResults {
		floor := threshold / 2
		admitted = admitAtThreshold(scored, floor)
	}

	if s.cfg.MaxResults > 0 && len(admitted) > s.cfg.MaxResults {
		admitted = admitted[:s.cfg.MaxResults]
	}

	strong := len(admitted) > 0 && admitted[0].Score >= s.cfg.StrongDocumentMatchThreshold

	return Result{Chunks: admitted, Strong: strong, Degraded: degraded}, nil
}

func (s *Searcher) candidatePoolSize() int {
	if s.cfg.MaxResults <= 0 {
		return 50
	}
	return s.cfg.MaxResults * 5
}

func admitAtThreshold(scored []ScoredChunk, threshold float64) []ScoredChunk {
	var out []ScoredChunk
	for _, sc := range scored {
		if sc.Score >= threshold {
			out = append(out, sc)
		}
	}
	return out
}

// hybridScore blends semantic and keyword scores per the configured
// weights, then applies coherence/contextual bonuses multiplicatively.
func (s *Searcher) hybridScore(semantic, keyword float64, queryTokens []string, chunkText string) float64 {
	base := s.cfg.SemanticWeight*semantic + s.cfg.KeywordWeight*keyword

	if hasSemanticCoherence(queryTokens, chunkText) {
		base *= bonusOrDefault(s.cfg.CoherenceBonus)
	}
	if containsContextualKeywords(queryTokens, chunkText) {
		base *= bonusOrDefault(s.cfg.ContextualBonus)
	}
	return base
}

func bonusOrDefault(b float64) float64 {
	if b <= 0 {
		return 1
	}
	return b
}

func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()[]{}")
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// keywordScore is a length-normalized overlap of query tokens against
// chunk tokens, with a bonus for matching tokens that are rare within
// the chunk (i.e. appear once) — a crude stand-in for matching
// distinctive, information-bearing terms over common ones.
func keywordScore(queryTokens []string, chunkText string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	chunkTokens := tokenize(chunkText)
	if len(chunkTokens) == 0 {
		return 0
	}

	freq := make(map[string]int, len(chunkTokens))
	for _, t := range chunkTokens {
		freq[t]++
	}

	querySet := make(map[string]bool, len(queryTokens))
	for _, t := range queryTokens {
		querySet[t] = true
	}

	var matched, bonus float64
	for t := range querySet {
		if count, ok := freq[t]; ok {
			matched++
			if count == 1 {
				bonus += 0.5
			}
		}
	}

	overlap := matched / float64(len(querySet))
	normalized := overlap * (1 + bonus/float64(len(querySet)))
	return normalized
}

// hasSemanticCoherence reports whether query tokens appear in the chunk
// in roughly the same relative order they appear in the query.
func hasSemanticCoherence(queryTokens []string, chunkText string) bool {
	if len(queryTokens) < 2 {
		return false
	}
	chunkTokens := tokenize(chunkText)
	positions := make(map[string][]int, len(chunkTokens))
	for i, t := range chunkTokens {
		positions[t] = append(positions[t], i)
	}

	lastPos := -1
	inOrder := 0
	for _, qt := range queryTokens {
		occs, ok := positions[qt]
		if !ok {
			continue
		}
		for _, p := range occs {
			if p > lastPos {
				lastPos = p
				inOrder++
				break
			}
		}
	}
	return inOrder >= len(queryTokens)/2+1
}

// containsContextualKeywords reports whether at least two distinct query
// tokens appear within a small window of each other in the chunk,
// suggesting the chunk discusses them together rather than in passing.
func containsContextualKeywords(queryTokens []string, chunkText string) bool {
	const window = 10
	chunkTokens := tokenize(chunkText)
	querySet := make(map[string]bool, len(queryTokens))
	for _, t := range queryTokens {
		querySet[t] = true
	}

	var lastMatchAt = -1
	var lastMatchTok string
	for i, t := range chunkTokens {
		if !querySet[t] {
			continue
		}
		if lastMatchAt >= 0 && t != lastMatchTok && i-lastMatchAt <= window {
			return true
		}
		lastMatchAt = i
		lastMatchTok = t
	}
	return false
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
