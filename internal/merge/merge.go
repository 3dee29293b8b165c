// Package merge implements the Result Merger: fuses independent
// per-database DbResults into one evidence block for the synthesizer,
// joining them when a join path exists and falling back to
// independent per-database text with correlation hints otherwise.
// Renders results as tabular text blocks with a header line, quoting
// identifiers per dialect throughout.
package merge

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/smartrag/smartrag/internal/dbconn"
	"github.com/smartrag/smartrag/internal/dbexec"
	"github.com/smartrag/smartrag/internal/dialect"
	"github.com/smartrag/smartrag/internal/logging"
	"github.com/smartrag/smartrag/internal/schema"
	"github.com/smartrag/smartrag/pkg/config"
)

var log = logging.GetLogger("merge")

// ParsedResult is one database's usable result, separated from the
// execution error/cancellation bookkeeping in dbexec.DbResult.
type ParsedResult struct {
	DatabaseID string
	Columns    []string
	Rows       [][]any
}

// MergedEvidence is the merger's output: a tabular text block plus
// whether a join was actually performed, for callers that want to
// reason about confidence in the result.
type MergedEvidence struct {
	DatabaseText string
	Joined       bool
}

// Merger fuses DbResults using cross-database mappings declared in
// configuration and schema-derived heuristics.
type Merger struct {
	registry *schema.Registry
	pool     *dbconn.Pool
	mappings []config.CrossDatabaseMapping
}

// NewMerger builds a Merger.
func NewMerger(registry *schema.Registry, pool *dbconn.Pool, mappings []config.CrossDatabaseMapping) *Merger {
	return &Merger{registry: registry, pool: pool, mappings: mappings}
}

// Merge parses every settled DbResult, attempts to join them, and
// formats the outcome as evidence text.
func (m *Merger) Merge(ctx context.Context, results []dbexec.DbResult) MergedEvidence {
	var parsed []ParsedResult
	for _, r := range results {
		if r.Err != nil || r.Cancelled {
			continue
		}
		parsed = append(parsed, ParsedResult{DatabaseID: r.DatabaseID, Columns: r.Columns, Rows: r.Rows})
	}

	if len(parsed) == 0 {
		return MergedEvidence{DatabaseText: "📊 Total rows: 0 | Columns: \n"}
	}

	parsed = m.retryMissingTargets(ctx, parsed)

	if join, ok := m.findJoin(parsed); ok {
		merged := m.innerJoin(parsed, join)
		return MergedEvidence{DatabaseText: formatTable(merged.Columns, merged.Rows), Joined: true}
	}

	return MergedEvidence{DatabaseText: formatSeparate(parsed), Joined: false}
}

// joinPlan names which two parsed results join on which columns.
type joinPlan struct {
	leftIdx, rightIdx   int
	leftCol, rightCol   string
}

// findJoin picks a join plan in priority order: operator-configured
// mapping, then common ID-suffixed column name, then value-overlap match.
func (m *Merger) findJoin(parsed []ParsedResult) (joinPlan, bool) {
	if len(parsed) < 2 {
		return joinPlan{}, false
	}

	if plan, ok := m.operatorMappingJoin(parsed); ok {
		return plan, true
	}
	if plan, ok := commonIDColumnJoin(parsed); ok {
		return plan, true
	}
	return valueOverlapJoin(parsed)
}

func (m *Merger) operatorMappingJoin(parsed []ParsedResult) (joinPlan, bool) {
	index := make(map[string]int, len(parsed))
	for i, p := range parsed {
		index[p.DatabaseID] = i
	}

	for _, mapping := range m.mappings {
		li, lok := index[mapping.SourceDatabase]
		ri, rok := index[mapping.TargetDatabase]
		if !lok || !rok {
			continue
		}
		if !hasColumn(parsed[li].Columns, mapping.SourceColumn) || !hasColumn(parsed[ri].Columns, mapping.TargetColumn) {
			continue
		}
		return joinPlan{leftIdx: li, rightIdx: ri, leftCol: mapping.SourceColumn, rightCol: mapping.TargetColumn}, true
	}
	return joinPlan{}, false
}

// commonIDColumnJoin picks the ID-suffixed column name appearing in the
// most results (at least 2), then joins the first two results that
// both carry it.
func commonIDColumnJoin(parsed []ParsedResult) (joinPlan, bool) {
	counts := make(map[string]int)
	for _, p := range parsed {
		for _, c := range p.Columns {
			if strings.HasSuffix(strings.ToLower(c), "id") {
				counts[strings.ToLower(c)]++
			}
		}
	}

	var best string
	var bestCount int
	for name, count := range counts {
		if count > bestCount {
			best, bestCount = name, count
		}
	}
	if bestCount < 2 {
		return joinPlan{}, false
	}

	var indices []int
	for i, p := range parsed {
		if hasColumn(p.Columns, best) {
			indices = append(indices, i)
		}
	}
	if len(indices) < 2 {
		return joinPlan{}, false
	}

	leftCol := exactColumnName(parsed[indices[0]].Columns, best)
	rightCol := exactColumnName(parsed[indices[1]].Columns, best)
	return joinPlan{leftIdx: indices[0], rightIdx: indices[1], leftCol: leftCol, rightCol: rightCol}, true
}

// valueOverlapJoin finds the pair of ID-suffixed columns across
// different results with the largest value-set intersection, requiring
// it to clear max(2, 10% of the smaller set).
func valueOverlapJoin(parsed []ParsedResult) (joinPlan, bool) {
	type candidate struct {
		idx  int
		col  string
		vals map[string]bool
	}

	var candidates []candidate
	for i, p := range parsed {
		for _, c := range p.Columns {
			if !strings.HasSuffix(strings.ToLower(c), "id") {
				continue
			}
			candidates = append(candidates, candidate{idx: i, col: c, vals: valueSet(p, c)})
		}
	}

	var bestPlan joinPlan
	bestSize := 0
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			a, b := candidates[i], candidates[j]
			if a.idx == b.idx {
				continue
			}
			size := intersectionSize(a.vals, b.vals)
			smaller := len(a.vals)
			if len(b.vals) < smaller {
				smaller = len(b.vals)
			}
			required := 2
			if tenPct := int(math.Ceil(float64(smaller) * 0.1)); tenPct > required {
				required = tenPct
			}
			if size >= required && size > bestSize {
				bestSize = size
				bestPlan = joinPlan{leftIdx: a.idx, rightIdx: b.idx, leftCol: a.col, rightCol: b.col}
			}
		}
	}
	return bestPlan, bestSize > 0
}

func valueSet(p ParsedResult, col string) map[string]bool {
	idx := columnIndex(p.Columns, col)
	set := make(map[string]bool)
	if idx < 0 {
		return set
	}
	for _, row := range p.Rows {
		if row[idx] == nil {
			continue
		}
		set[normalizeJoinValue(row[idx])] = true
	}
	return set
}

func intersectionSize(a, b map[string]bool) int {
	count := 0
	for v := range a {
		if b[v] {
			count++
		}
	}
	return count
}

// innerJoin joins parsed[plan.rightIdx] onto parsed[plan.leftIdx] by
// equality after trimming, case-insensitive comparison, with numeric
// epsilon equality when both sides parse as numbers. Unioned columns
// from right are prefixed with the right result's database id when they
// collide with a left column name.
func (m *Merger) innerJoin(parsed []ParsedResult, plan joinPlan) ParsedResult {
	left := parsed[plan.leftIdx]
	right := parsed[plan.rightIdx]
	leftColIdx := columnIndex(left.Columns, plan.leftCol)
	rightColIdx := columnIndex(right.Columns, plan.rightCol)

	rightByKey := make(map[string][]int)
	for ri, row := range right.Rows {
		key := normalizeJoinValue(row[rightColIdx])
		rightByKey[key] = append(rightByKey[key], ri)
	}

	columns := append([]string{}, left.Columns...)
	for _, c := range right.Columns {
		if hasColumn(left.Columns, c) {
			c = right.DatabaseID + "." + c
		}
		columns = append(columns, c)
	}

	var rows [][]any
	for _, lrow := range left.Rows {
		key := normalizeJoinValue(lrow[leftColIdx])
		for _, ri := range rightByKey[key] {
			merged := append([]any{}, lrow...)
			merged = append(merged, right.Rows[ri]...)
			rows = append(rows, merged)
		}
	}

	return ParsedResult{DatabaseID: left.DatabaseID + "+" + right.DatabaseID, Columns: columns, Rows: rows}
}

func normalizeJoinValue(v any) string {
	s := strings.TrimSpace(fmt.Sprintf("%v", v))
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return strconv.FormatFloat(math.Round(f*1e6)/1e6, 'f', -1, 64)
	}
	return strings.ToLower(s)
}

func hasColumn(columns []string, name string) bool {
	return columnIndex(columns, name) >= 0
}

func columnIndex(columns []string, name string) int {
	for i, c := range columns {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

func exactColumnName(columns []string, foldedName string) string {
	for _, c := range columns {
		if strings.EqualFold(c, foldedName) {
			return c
		}
	}
	return foldedName
}

// descriptivePatterns is the column-name fallback used when schema
// metadata doesn't mark a clear descriptive column.
var descriptivePatterns = []string{"name", "title", "description", "city", "address", "label", "email"}

// retryMissingTargets fills gaps left by the SQL generator: for every
// configured cross-database mapping whose target database produced no
// result or an empty one but whose source did, query the target
// directly for the join
// column plus up to five descriptive columns, restricted to the IDs
// seen on the source side.
func (m *Merger) retryMissingTargets(ctx context.Context, parsed []ParsedResult) []ParsedResult {
	present := make(map[string]int, len(parsed))
	for i, p := range parsed {
		present[p.DatabaseID] = i
	}

	for _, mapping := range m.mappings {
		srcIdx, haveSrc := present[mapping.SourceDatabase]
		targetIdx, haveTarget := present[mapping.TargetDatabase]
		if !haveSrc || (haveTarget && len(parsed[targetIdx].Rows) > 0) {
			continue
		}

		ids := numericIDs(parsed[srcIdx], mapping.SourceColumn)
		if len(ids) == 0 {
			continue
		}

		extra, err := m.queryTarget(ctx, mapping, ids)
		if err != nil {
			log.Warn("missing-target retry failed", "target", mapping.TargetDatabase, "table", mapping.TargetTable, "error", err)
			continue
		}
		if extra != nil {
			if haveTarget {
				parsed[targetIdx] = *extra
			} else {
				parsed = append(parsed, *extra)
				present[mapping.TargetDatabase] = len(parsed) - 1
			}
		}
	}
	return parsed
}

func numericIDs(p ParsedResult, col string) []string {
	idx := columnIndex(p.Columns, col)
	if idx < 0 {
		return nil
	}
	seen := make(map[string]bool)
	var ids []string
	for _, row := range p.Rows {
		s := fmt.Sprintf("%v", row[idx])
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			continue
		}
		if !seen[s] {
			seen[s] = true
			ids = append(ids, s)
		}
	}
	return ids
}

func (m *Merger) queryTarget(ctx context.Context, mapping config.CrossDatabaseMapping, ids []string) (*ParsedResult, error) {
	db, ok := m.pool.Get(mapping.TargetDatabase)
	if !ok {
		return nil, fmt.Errorf("target database %q not connected", mapping.TargetDatabase)
	}
	targetSchema, ok := m.registry.Get(mapping.TargetDatabase)
	if !ok {
		return nil, fmt.Errorf("target database %q not in schema registry", mapping.TargetDatabase)
	}
	strat, err := dialect.Lookup(targetSchema.Dialect)
	if err != nil {
		return nil, err
	}

	descriptive := descriptiveColumns(targetSchema, mapping.TargetTable)
	columns := append([]string{mapping.TargetColumn}, descriptive...)

	placeholders := make([]string, len(ids))
	for i, id := range ids {
		placeholders[i] = id
	}
	where := fmt.Sprintf("%s IN (%s)", strat.Quote(mapping.TargetColumn), strings.Join(placeholders, ","))

	quotedCols := make([]string, len(columns))
	for i, c := range columns {
		quotedCols[i] = strat.Quote(c)
	}
	from := strat.QualifyTable("", mapping.TargetTable) + " WHERE " + where
	query := strat.BuildSelectWithLimit(quotedCols, from, 100)

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result ParsedResult
	result.DatabaseID = mapping.TargetDatabase
	result.Columns = columns
	for rows.Next() {
		dest := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		result.Rows = append(result.Rows, dest)
	}
	return &result, rows.Err()
}

// descriptiveColumns picks up to 5 non-PK/FK text columns for a table:
// prefer schema-typed text columns with max length > 10 or unbounded
// (nullable with no length cap), then name-pattern matches, then the
// first remaining non-join columns.
func descriptiveColumns(s *schema.DatabaseSchema, table string) []string {
	t, ok := s.Table(table)
	if !ok {
		return nil
	}

	var typed, patterned, rest []string
	for _, c := range t.Columns {
		if c.IsPrimaryKey || c.IsForeignKey {
			continue
		}
		lower := strings.ToLower(c.Name)
		isTextType := strings.Contains(strings.ToLower(c.Type), "char") || strings.Contains(strings.ToLower(c.Type), "text")
		if isTextType && (c.MaxLength > 10 || c.MaxLength == 0) {
			typed = append(typed, c.Name)
			continue
		}
		for _, pat := range descriptivePatterns {
			if strings.Contains(lower, pat) {
				patterned = append(patterned, c.Name)
				break
			}
		}
		rest = append(rest, c.Name)
	}

	ordered := append(append(typed, patterned...), rest...)
	seen := make(map[string]bool)
	var out []string
	for _, c := range ordered {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
		if len(out) == 5 {
			break
		}
	}
	return out
}

// formatTable renders a result set as a tabular text block.
func formatTable(columns []string, rows [][]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Total rows: %d | Columns: %s\n", len(rows), strings.Join(columns, ", "))
	b.WriteString(strings.Join(columns, "\t"))
	b.WriteString("\n")
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = fmt.Sprintf("%v", v)
		}
		b.WriteString(strings.Join(cells, "\t"))
		b.WriteString("\n")
	}
	return b.String()
}

// formatSeparate handles the no-joinable-path case: each result is
// emitted on its own, followed by join hints naming the ID columns that
// appear in more than one result, for the synthesizer to correlate
// manually. The hints do not list matching ID values.
func formatSeparate(parsed []ParsedResult) string {
	var b strings.Builder
	totalRows := 0
	for _, p := range parsed {
		totalRows += len(p.Rows)
	}
	fmt.Fprintf(&b, "📊 Total rows: %d | Columns: (per-database, see below)\n\n", totalRows)

	for _, p := range parsed {
		fmt.Fprintf(&b, "--- %s ---\n", p.DatabaseID)
		b.WriteString(formatTable(p.Columns, p.Rows))
		b.WriteString("\n")
	}

	if hints := joinHints(parsed); hints != "" {
		b.WriteString(hints)
	}
	return b.String()
}

func joinHints(parsed []ParsedResult) string {
	idColumns := make(map[string][]int)
	for i, p := range parsed {
		for _, c := range p.Columns {
			if strings.HasSuffix(strings.ToLower(c), "id") {
				idColumns[strings.ToLower(c)] = append(idColumns[strings.ToLower(c)], i)
			}
		}
	}

	var names []string
	for name, idxs := range idColumns {
		if len(idxs) >= 2 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Join hints: the following ID columns are shared across databases above; correlate rows by matching these values manually: ")
	b.WriteString(strings.Join(names, ", "))
	b.WriteString("\n")
	return b.String()
}
