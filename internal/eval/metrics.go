package eval

import (
	"strings"
	"unicode"
)

// Metrics aggregates token-level F1, precision, and recall over a
// batch of results, as percentages.
type Metrics struct {
	F1        float64
	Precision float64
	Recall    float64
	Count     int
}

// tokenize lowercases, strips punctuation, and drops English articles,
// the standard SQuAD-style normalization for token-overlap scoring.
func tokenize(s string) []string {
	s = strings.ToLower(s)

	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}

	articles := map[string]bool{"a": true, "an": true, "the": true}
	var tokens []string
	for _, w := range strings.Fields(b.String()) {
		if !articles[w] {
			tokens = append(tokens, w)
		}
	}
	return tokens
}

// CalculateF1 computes token-level F1, precision, and recall between a
// generated answer and the expected answer.
func CalculateF1(generated, expected string) (f1, precision, recall float64) {
	genTokens := tokenize(generated)
	expTokens := tokenize(expected)

	if len(genTokens) == 0 && len(expTokens) == 0 {
		return 1, 1, 1
	}
	if len(genTokens) == 0 || len(expTokens) == 0 {
		return 0, 0, 0
	}

	expCounts := make(map[string]int, len(expTokens))
	for _, t := range expTokens {
		expCounts[t]++
	}
	genCounts := make(map[string]int, len(genTokens))
	for _, t := range genTokens {
		genCounts[t]++
	}

	common := 0
	for token, genCount := range genCounts {
		if expCount, ok := expCounts[token]; ok {
			if genCount < expCount {
				common += genCount
			} else {
				common += expCount
			}
		}
	}

	precision = float64(common) / float64(len(genTokens))
	recall = float64(common) / float64(len(expTokens))
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	return f1, precision, recall
}

// CalculateBatchMetrics aggregates metrics across every result that
// didn't fail outright.
func CalculateBatchMetrics(results []Result) Metrics {
	var sumF1, sumPrecision, sumRecall float64
	n := 0
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		sumF1 += r.F1
		sumPrecision += r.Precision
		sumRecall += r.Recall
		n++
	}
	if n == 0 {
		return Metrics{}
	}
	return Metrics{
		F1:        sumF1 / float64(n) * 100,
		Precision: sumPrecision / float64(n) * 100,
		Recall:    sumRecall / float64(n) * 100,
		Count:     n,
	}
}

// CalculateCategoryMetrics groups results by category before
// aggregating each group's metrics.
func CalculateCategoryMetrics(results []Result) map[string]Metrics {
	byCategory := make(map[string][]Result)
	for _, r := range results {
		byCategory[r.Category] = append(byCategory[r.Category], r)
	}

	metrics := make(map[string]Metrics, len(byCategory))
	for category, rs := range byCategory {
		metrics[category] = CalculateBatchMetrics(rs)
	}
	return metrics
}
