// Package eval scores SmartRAG's answers against a fixed set of
// question/expected-answer pairs, the way a QA benchmark does: run
// each question through the router, score the answer against the
// expected one with token-level F1, and report per-category and
// overall metrics.
package eval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/smartrag/smartrag/internal/router"
	"github.com/smartrag/smartrag/internal/synth"
)

// Asker is the subset of *router.Router an evaluation run needs,
// kept as an interface so a run can be driven against a stub in tests.
type Asker interface {
	Ask(ctx context.Context, sessionID, query string, maxResults int, opts router.Options) (synth.Answer, error)
}

// Question is one entry in an evaluation dataset.
type Question struct {
	ID             string `json:"id"`
	Category       string `json:"category"`
	Text           string `json:"question"`
	ExpectedAnswer string `json:"expected_answer"`
}

// Dataset is a named collection of questions to evaluate against.
type Dataset struct {
	Name      string     `json:"name"`
	Questions []Question `json:"questions"`
}

// Result holds the scored outcome of a single question.
type Result struct {
	QuestionID string
	Category   string
	Question   string
	Expected   string
	Generated  string
	F1         float64
	Precision  float64
	Recall     float64
	Err        error
}

// Summary aggregates results overall and per category.
type Summary struct {
	Overall    Metrics
	ByCategory map[string]Metrics
	Results    []Result
	Duration   time.Duration
}

// Run asks every question in dataset through asker, one at a time in
// dataset order (a benchmark run is meant to be reproducible and
// attributable question-by-question, not raced for throughput), and
// scores each answer against its expected answer.
func Run(ctx context.Context, asker Asker, sessionID string, dataset Dataset) Summary {
	start := time.Now()
	results := make([]Result, 0, len(dataset.Questions))

	for _, q := range dataset.Questions {
		r := Result{QuestionID: q.ID, Category: q.Category, Question: q.Text, Expected: q.ExpectedAnswer}
		answer, err := asker.Ask(ctx, sessionID, q.Text, 10, router.Options{})
		if err != nil {
			r.Err = err
			results = append(results, r)
			continue
		}
		r.Generated = answer.AnswerText
		r.F1, r.Precision, r.Recall = CalculateF1(r.Generated, r.Expected)
		results = append(results, r)
	}

	return Summary{
		Overall:    CalculateBatchMetrics(results),
		ByCategory: CalculateCategoryMetrics(results),
		Results:    results,
		Duration:   time.Since(start),
	}
}

// FormatReport renders a summary as a human-readable report.
func FormatReport(s Summary) string {
	out := fmt.Sprintf("ran %d questions in %s\n\noverall: f1=%.1f precision=%.1f recall=%.1f\n",
		len(s.Results), s.Duration.Round(time.Millisecond), s.Overall.F1, s.Overall.Precision, s.Overall.Recall)

	categories := make([]string, 0, len(s.ByCategory))
	for c := range s.ByCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	for _, c := range categories {
		m := s.ByCategory[c]
		out += fmt.Sprintf("  %-20s f1=%.1f precision=%.1f recall=%.1f (%d questions)\n", c, m.F1, m.Precision, m.Recall, m.Count)
	}

	for _, r := range s.Results {
		if r.Err != nil {
			out += fmt.Sprintf("\n[%s] FAILED: %v\n", r.QuestionID, r.Err)
		}
	}
	return out
}
