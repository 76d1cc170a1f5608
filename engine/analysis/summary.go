// Package analysis turns a sensor table into text the compliance and report
// prompts can consume: a deterministic statistical summary or an LLM
// narrative. It also synthesizes the retrieval query from that data.
package analysis

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/complimo/complimo/engine/domain"
)

// Analyzer produces an analysis of a table as prompt-ready text.
type Analyzer interface {
	Analyze(ctx context.Context, t domain.Table) (string, error)
}

// Stats are the exact min, max and mean of one numeric field.
type Stats struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
}

// Summary is the deterministic analysis of a table.
type Summary struct {
	RowCount int              `json:"row_count"`
	Columns  []string         `json:"columns"`
	Summary  map[string]Stats `json:"summary"`
}

// Summarize computes Stats for every field that holds a number in the first
// row. Values are gathered from every row where that field is a number.
// Booleans count as 1 and 0, so a flag column summarizes to the share of
// rows where it was set. An empty table yields an empty summary.
func Summarize(t domain.Table) Summary {
	s := Summary{Columns: []string{}, Summary: map[string]Stats{}}
	if len(t.Rows) == 0 {
		return s
	}
	s.RowCount = len(t.Rows)

	first := t.Rows[0]
	for k := range first {
		s.Columns = append(s.Columns, k)
	}
	sort.Strings(s.Columns)

	for _, key := range s.Columns {
		if _, ok := statValue(first, key); !ok {
			continue
		}
		var st Stats
		var sum float64
		n := 0
		for _, r := range t.Rows {
			v, ok := statValue(r, key)
			if !ok {
				continue
			}
			if n == 0 || v < st.Min {
				st.Min = v
			}
			if n == 0 || v > st.Max {
				st.Max = v
			}
			sum += v
			n++
		}
		st.Avg = sum / float64(n)
		s.Summary[key] = st
	}
	return s
}

func statValue(r domain.Row, key string) (float64, bool) {
	if b, ok := r[key].(bool); ok {
		if b {
			return 1, true
		}
		return 0, true
	}
	return r.Number(key)
}

// JSON renders the summary indented, as sent to the model.
func (s Summary) JSON() string {
	b, _ := json.MarshalIndent(s, "", "  ")
	return string(b)
}

// Statistics is the deterministic Analyzer.
type Statistics struct{}

// Analyze returns Summarize(t) as indented JSON. It never fails.
func (Statistics) Analyze(_ context.Context, t domain.Table) (string, error) {
	return Summarize(t).JSON(), nil
}
