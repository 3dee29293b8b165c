package synth

import (
	"context"
	"strings"
	"testing"

	"github.com/smartrag/smartrag/internal/docsearch"
	"github.com/smartrag/smartrag/internal/document"
)

type stubProvider struct {
	response string
	err      error
	gotPrompt string
}

func (s *stubProvider) GenerateResponse(_ context.Context, prompt string, _ []HistoryTurn, _ int) (string, error) {
	s.gotPrompt = prompt
	return s.response, s.err
}

func chunk(text string, score float64) docsearch.ScoredChunk {
	return docsearch.ScoredChunk{
		Chunk: document.Chunk{DocumentID: "doc-1", Text: text, ContentType: document.ContentTypeDocument},
		Score: score,
	}
}

func TestSynthesize_NoEvidencePassesThresholdReturnsNotFound(t *testing.T) {
	p := &stubProvider{response: "should not be used"}
	s := NewSynthesizer(p, 0)

	ev := Evidence{Threshold: 0.5, Chunks: []docsearch.ScoredChunk{chunk("irrelevant", 0.1)}}
	answer := s.Synthesize(context.Background(), "what is it?", ev, nil, "")

	if answer.AnswerText != NotFoundMessage {
		t.Errorf("expected not-found message, got %q", answer.AnswerText)
	}
	if len(answer.Sources) != 0 {
		t.Errorf("expected no sources, got %+v", answer.Sources)
	}
}

func TestSynthesize_StripsSQLFencesAndBareSelect(t *testing.T) {
	p := &stubProvider{response: "The answer is 42.\n```sql\nSELECT * FROM t\n```\nSELECT name FROM users;"}
	s := NewSynthesizer(p, 0)

	ev := Evidence{Threshold: 0.5, DatabaseRows: []DatabaseEvidence{{DatabaseID: "db", SQL: "SELECT 1", RowCount: 1}}}
	answer := s.Synthesize(context.Background(), "q", ev, nil, "")

	if strings.Contains(answer.AnswerText, "SELECT") {
		t.Errorf("expected SQL to be stripped, got %q", answer.AnswerText)
	}
	if !strings.Contains(answer.AnswerText, "42") {
		t.Errorf("expected answer text to survive stripping, got %q", answer.AnswerText)
	}
}

func TestSynthesize_BuildsDatabaseSourceWithExtractedTables(t *testing.T) {
	p := &stubProvider{response: "Ada has the most orders."}
	s := NewSynthesizer(p, 0)

	ev := Evidence{
		Threshold: 0.5,
		DatabaseRows: []DatabaseEvidence{
			{DatabaseID: "sales", SQL: "SELECT c.name FROM customers c JOIN orders o ON o.customer_id = c.id", RowCount: 3},
		},
	}
	answer := s.Synthesize(context.Background(), "who has the most orders", ev, nil, "")

	if len(answer.Sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(answer.Sources))
	}
	src := answer.Sources[0]
	if src.SourceType != "Database" || src.RowCount != 3 {
		t.Errorf("unexpected database source: %+v", src)
	}
	if len(src.Tables) != 2 || src.Tables[0] != "customers" || src.Tables[1] != "orders" {
		t.Errorf("expected [customers orders], got %v", src.Tables)
	}
}

func TestSynthesize_BuildsDocumentSourceOnlyAboveThreshold(t *testing.T) {
	p := &stubProvider{response: "Paris is the capital."}
	s := NewSynthesizer(p, 0)

	ev := Evidence{
		Threshold: 0.5,
		Chunks: []docsearch.ScoredChunk{
			chunk("Paris is the capital of France.", 0.9),
			chunk("unrelated trivia", 0.2),
		},
	}
	answer := s.Synthesize(context.Background(), "capital of France?", ev, nil, "")

	if len(answer.Sources) != 1 {
		t.Fatalf("expected 1 source above threshold, got %d: %+v", len(answer.Sources), answer.Sources)
	}
	if answer.Sources[0].SourceType != "Document" {
		t.Errorf("expected Document source type, got %q", answer.Sources[0].SourceType)
	}
}

func TestSynthesize_ProviderErrorReturnsNotFoundWithSystemSource(t *testing.T) {
	p := &stubProvider{err: context.DeadlineExceeded}
	s := NewSynthesizer(p, 0)

	ev := Evidence{Threshold: 0.5, DatabaseRows: []DatabaseEvidence{{DatabaseID: "db", SQL: "SELECT 1", RowCount: 1}}}
	answer := s.Synthesize(context.Background(), "q", ev, nil, "")

	if answer.AnswerText != NotFoundMessage {
		t.Errorf("expected not-found message on provider error, got %q", answer.AnswerText)
	}
	if len(answer.Sources) != 1 || answer.Sources[0].SourceType != "System" {
		t.Errorf("expected a System diagnostic source, got %+v", answer.Sources)
	}
}

func TestSynthesize_PromptIncludesLanguageDirective(t *testing.T) {
	p := &stubProvider{response: "ok"}
	s := NewSynthesizer(p, 0)

	ev := Evidence{Threshold: 0.5, DatabaseRows: []DatabaseEvidence{{DatabaseID: "db", SQL: "SELECT 1", RowCount: 1}}}
	s.Synthesize(context.Background(), "q", ev, nil, "fr")

	if !strings.Contains(p.gotPrompt, "Answer in this language: fr") {
		t.Errorf("expected language directive in prompt, got:\n%s", p.gotPrompt)
	}
}

func TestExtractTables_DedupesAndSorts(t *testing.T) {
	tables := extractTables("SELECT * FROM orders o JOIN customers c ON c.id=o.customer_id JOIN orders x ON x.id=o.id")
	if len(tables) != 2 {
		t.Fatalf("expected 2 unique tables, got %v", tables)
	}
	if tables[0] != "customers" || tables[1] != "orders" {
		t.Errorf("expected sorted [customers orders], got %v", tables)
	}
}
