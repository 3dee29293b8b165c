// Package router implements the Query Intelligence Router: the single
// entry point that orchestrates intent analysis, document search, SQL
// generation, database execution, merging, and synthesis for one
// query, fanning out to concurrent child tasks and converging on a
// single response along whichever document/database strategy the
// analyzed intent calls for.
package router

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/smartrag/smartrag/internal/ai"
	"github.com/smartrag/smartrag/internal/conversation"
	"github.com/smartrag/smartrag/internal/dbexec"
	"github.com/smartrag/smartrag/internal/docsearch"
	"github.com/smartrag/smartrag/internal/intent"
	"github.com/smartrag/smartrag/internal/logging"
	"github.com/smartrag/smartrag/internal/merge"
	"github.com/smartrag/smartrag/internal/sqlgen"
	"github.com/smartrag/smartrag/internal/synth"
	"github.com/smartrag/smartrag/internal/vectorstore"
)

var log = logging.GetLogger("router")

// Options carries per-request overrides.
type Options struct {
	// Language, when non-empty, overrides mirroring the query's own
	// language in the synthesized answer.
	Language string
}

// Router composes every SmartRAG component behind one entry point.
type Router struct {
	analyzer    *intent.Analyzer
	searcher    *docsearch.Searcher
	generator   *sqlgen.Generator
	executor    *dbexec.Executor
	merger      *merge.Merger
	synthesizer *synth.Synthesizer
	store       *conversation.Store

	earlyExitConfidence float64
	threshold           float64
}

// New builds a Router from its already-constructed components. The AI
// provider is composed once at the top level and adapted to each
// component's locally-declared contract below.
func New(
	provider *ai.FallbackChain,
	analyzer *intent.Analyzer,
	searcher *docsearch.Searcher,
	generator *sqlgen.Generator,
	executor *dbexec.Executor,
	merger *merge.Merger,
	store *conversation.Store,
	semanticThreshold float64,
) *Router {
	return &Router{
		analyzer:            analyzer,
		searcher:            searcher,
		generator:           generator,
		executor:            executor,
		merger:              merger,
		synthesizer:         synth.NewSynthesizer(synthAdapter{provider}, 0),
		store:               store,
		earlyExitConfidence: 0.85,
		threshold:           semanticThreshold,
	}
}

// chatAdapter converts the ai.Provider history shape into
// intent.HistoryTurn (shared verbatim by internal/sqlgen), letting one
// concrete provider satisfy both locally-declared ChatProvider
// contracts without either package importing internal/ai.
type chatAdapter struct {
	inner *ai.FallbackChain
}

func (a chatAdapter) GenerateResponse(ctx context.Context, prompt string, history []intent.HistoryTurn, maxTokens int) (string, error) {
	converted := make([]ai.Turn, len(history))
	for i, h := range history {
		converted[i] = ai.Turn{Role: h.Role, Text: h.Text}
	}
	return a.inner.GenerateResponse(ctx, prompt, converted, maxTokens)
}

type synthAdapter struct {
	inner *ai.FallbackChain
}

func (a synthAdapter) GenerateResponse(ctx context.Context, prompt string, history []synth.HistoryTurn, maxTokens int) (string, error) {
	converted := make([]ai.Turn, len(history))
	for i, h := range history {
		converted[i] = ai.Turn{Role: h.Role, Text: h.Text}
	}
	return a.inner.GenerateResponse(ctx, prompt, converted, maxTokens)
}

// NewChatAdapter exposes chatAdapter to callers assembling the
// Analyzer/Generator in cmd/smartrag, since Router itself only needs
// the adapter internally for synthesis.
func NewChatAdapter(provider *ai.FallbackChain) intent.ChatProvider {
	return chatAdapter{provider}
}

// Ask runs the full query-intelligence sequence and returns the final
// Answer, appending both the request and response to the conversation
// store for sessionID.
func (r *Router) Ask(ctx context.Context, sessionID, query string, maxResults int, opts Options) (synth.Answer, error) {
	if err := r.store.AppendTurn(sessionID, "user", query); err != nil {
		log.Warn("failed to append user turn", "error", err, "session", sessionID)
	}

	history := r.history(sessionID)

	answer := r.route(ctx, query, maxResults, opts, history)

	if err := r.store.AppendTurn(sessionID, "assistant", answer.AnswerText); err != nil {
		log.Warn("failed to append assistant turn", "error", err, "session", sessionID)
	}
	return answer, nil
}

func (r *Router) history(sessionID string) []intent.HistoryTurn {
	turns, err := r.store.GetRecent(sessionID, 10)
	if err != nil {
		log.Warn("failed to load conversation history", "error", err, "session", sessionID)
		return nil
	}
	out := make([]intent.HistoryTurn, len(turns))
	for i, t := range turns {
		out[i] = intent.HistoryTurn{Role: t.Role, Text: t.Text}
	}
	return out
}

func (r *Router) route(ctx context.Context, query string, maxResults int, opts Options, history []intent.HistoryTurn) synth.Answer {
	// A leading content-type flag (-d/-a/-i/-db) restricts document
	// search to that content type and must not reach embedding,
	// tokenizing, or intent analysis as ordinary query text.
	strippedQuery, contentType := docsearch.ParseContentTypeFilter(query)
	query = strippedQuery
	filters := vectorstore.Filters{ContentType: contentType}

	var (
		intentResult intent.Intent
		intentErr    error
		searchResult docsearch.Result
		searchErr    error
	)

	// Step 1: intent analysis and document search always run
	// concurrently — document search is cheap and supplies fallback
	// and corroboration regardless of strategy.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		intentResult, intentErr = r.analyzer.Analyze(gctx, query, history)
		return nil
	})
	g.Go(func() error {
		searchResult, searchErr = r.searcher.Search(gctx, query, filters)
		return nil
	})
	_ = g.Wait()

	if intentErr != nil {
		log.Error("intent analysis failed", "error", intentErr)
		return synth.Answer{Query: query, AnswerText: synth.NotFoundMessage, SearchedAt: time.Now()}
	}
	if searchErr != nil {
		log.Warn("document search failed, continuing with empty chunks", "error", searchErr)
	}
	if maxResults > 0 && len(searchResult.Chunks) > maxResults {
		searchResult.Chunks = searchResult.Chunks[:maxResults]
	}

	// Step 5 (checked early): explicit negation fast-fail. Short-circuit
	// without touching any other source.
	if intentResult.NoAnswer {
		return synth.Answer{Query: query, AnswerText: synth.NotFoundMessage, SearchedAt: time.Now()}
	}

	// Step 4: early-exit optimization.
	if searchResult.Strong && intentResult.Strategy == intent.Hybrid && intentResult.Confidence < r.earlyExitConfidence {
		log.Info("strong document match, skipping database branch", "confidence", intentResult.Confidence)
		return r.synthesizeFromDocuments(ctx, query, searchResult, history, opts)
	}

	switch intentResult.Strategy {
	case intent.DocumentOnly:
		if searchResult.Strong || len(searchResult.Chunks) > 0 {
			return r.synthesizeFromDocuments(ctx, query, searchResult, history, opts)
		}
		return synth.Answer{Query: query, AnswerText: synth.NotFoundMessage, SearchedAt: time.Now()}

	case intent.DatabaseOnly:
		// Chunks were retrieved up front and are kept as a fallback:
		// the database branch runs for its own merit, but if it
		// yields no rows the synthesizer still has the chunks to
		// fall back on rather than failing outright.
		return r.synthesizeFromDatabase(ctx, query, intentResult, searchResult.Chunks, history, opts)

	default: // Hybrid
		return r.synthesizeFromDatabase(ctx, query, intentResult, searchResult.Chunks, history, opts)
	}
}

func (r *Router) synthesizeFromDocuments(ctx context.Context, query string, result docsearch.Result, history []intent.HistoryTurn, opts Options) synth.Answer {
	ev := synth.Evidence{Chunks: result.Chunks, Threshold: r.threshold}
	return r.synthesizer.Synthesize(ctx, query, ev, toSynthHistory(history), opts.Language)
}

func (r *Router) synthesizeFromDatabase(ctx context.Context, query string, intentResult intent.Intent, fallbackChunks []docsearch.ScoredChunk, history []intent.HistoryTurn, opts Options) synth.Answer {
	generated := r.generator.Generate(ctx, query, intentResult.Targets)
	results := r.executor.Execute(ctx, generated)
	merged := r.merger.Merge(ctx, results)

	ev := synth.Evidence{
		DatabaseText: merged.DatabaseText,
		DatabaseRows: toDatabaseEvidence(results),
		Chunks:       fallbackChunks,
		Threshold:    r.threshold,
	}
	return r.synthesizer.Synthesize(ctx, query, ev, toSynthHistory(history), opts.Language)
}

func toDatabaseEvidence(results []dbexec.DbResult) []synth.DatabaseEvidence {
	var out []synth.DatabaseEvidence
	for _, res := range results {
		if res.Err != nil || res.Cancelled {
			continue
		}
		out = append(out, synth.DatabaseEvidence{DatabaseID: res.DatabaseID, SQL: res.SQL, RowCount: len(res.Rows)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DatabaseID < out[j].DatabaseID })
	return out
}

func toSynthHistory(history []intent.HistoryTurn) []synth.HistoryTurn {
	out := make([]synth.HistoryTurn, len(history))
	for i, h := range history {
		out[i] = synth.HistoryTurn{Role: h.Role, Text: h.Text}
	}
	return out
}

// Close releases the conversation store's underlying handle.
func (r *Router) Close() error {
	if err := r.store.Close(); err != nil {
		return fmt.Errorf("close conversation store: %w", err)
	}
	return nil
}
