package search

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/socialscope/internal/corpus"
	"github.com/JakeFAU/socialscope/internal/dataset"
)

// fullTextSpecial are the extended query syntax operators escaped in user input.
// Double quotes are kept so phrase searches still work.
const fullTextSpecial = `\()|-!@~/^$=<>&`

var smartQuotes = strings.NewReplacer(
	"“", `"`, "”", `"`, "„", `"`,
	"‘", "'", "’", "'",
)

// ConvertFullText escapes operator characters in user input and converts quoting
// conventions: typographic quotes become ASCII and an unbalanced double quote is escaped.
func ConvertFullText(input string) string {
	input = strings.TrimSpace(smartQuotes.Replace(input))
	balanced := strings.Count(input, `"`)%2 == 0
	var b strings.Builder
	for _, r := range input {
		if strings.ContainsRune(fullTextSpecial, r) || (r == '"' && !balanced) {
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// FullTextQuery is a request to the full-text index: a boolean match expression
// with field-scoped operators plus an optional timestamp range.
type FullTextQuery struct {
	Match string
	Range corpus.TimeRange
	Limit int
}

// BuildFullTextQuery converts validated parameters into a FullTextQuery.
func BuildFullTextQuery(params dataset.Parameters, limit int) FullTextQuery {
	var match []string
	if v := params.String("body_match"); v != "" {
		match = append(match, "@body "+ConvertFullText(v))
	}
	if v := params.String("subject_match"); v != "" {
		match = append(match, "@subject "+ConvertFullText(v))
	}
	return FullTextQuery{
		Match: strings.Join(match, " "),
		Range: TimeRangeOf(params),
		Limit: limit,
	}
}

// TimeRangeOf reads min_date/max_date; non-positive bounds are open.
func TimeRangeOf(params dataset.Parameters) corpus.TimeRange {
	var r corpus.TimeRange
	if v, ok := params.Int("min_date"); ok && v > 0 {
		r.Min = v
	}
	if v, ok := params.Int("max_date"); ok && v > 0 {
		r.Max = v
	}
	return r
}

// String renders the query in SphinxQL-like form for logs.
func (q FullTextQuery) String() string {
	parts := []string{fmt.Sprintf("MATCH(%q)", q.Match)}
	if q.Range.Min != 0 {
		parts = append(parts, fmt.Sprintf("timestamp >= %d", q.Range.Min))
	}
	if q.Range.Max != 0 {
		parts = append(parts, fmt.Sprintf("timestamp < %d", q.Range.Max))
	}
	return strings.Join(parts, " AND ")
}
