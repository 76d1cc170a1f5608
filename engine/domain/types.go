// Package domain defines the core types, errors and validation shared by the
// ingestion and compliance pipelines. It acts as the validation gate at the
// HTTP and CLI entry points.
package domain

import (
	"encoding/json"
	"sort"
)

// Reserved chunk metadata keys stamped at ingestion.
const (
	MetaSource        = "source"
	MetaFilename      = "filename"
	MetaIngestionDate = "ingestion_date"
	MetaIngestionID   = "ingestion_id"
)

// Chunk is a contiguous window of a source document's text. Chunks are
// immutable once created; re-ingesting a document produces new chunks.
type Chunk struct {
	Text       string         `json:"text"`
	SourcePath string         `json:"source_path"`
	Seq        int            `json:"seq"`
	Metadata   map[string]any `json:"metadata"`
}

// Source returns the source metadata value, falling back to SourcePath.
func (c Chunk) Source() string {
	if s, ok := c.Metadata[MetaSource].(string); ok && s != "" {
		return s
	}
	return c.SourcePath
}

// Row is one time-step of sensor readings keyed by field name.
type Row map[string]any

// Number returns the field as float64 when it holds a JSON number.
// Booleans and strings are not numbers.
func (r Row) Number(key string) (float64, bool) {
	return AsNumber(r[key])
}

// AsNumber converts numeric values produced by encoding/json (or Go code)
// to float64.
func AsNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Table is a request-scoped set of sensor rows. It is never mutated.
type Table struct {
	Rows []Row `json:"rows"`
}

// Columns returns the union of field names across rows, sorted.
func (t Table) Columns() []string {
	seen := map[string]bool{}
	for _, r := range t.Rows {
		for k := range r {
			seen[k] = true
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// Len returns the row count.
func (t Table) Len() int { return len(t.Rows) }

// ComplianceStatus is the per-regulation verdict.
type ComplianceStatus string

const (
	StatusCompliant    ComplianceStatus = "compliant"
	StatusNonCompliant ComplianceStatus = "non-compliant"
)

// ComplianceRecord is one regulation-versus-data evaluation outcome.
type ComplianceRecord struct {
	Regulation       string           `json:"regulation"`
	ComplianceIssues string           `json:"compliance_issues"`
	Status           ComplianceStatus `json:"status"`
	NextSteps        string           `json:"next_steps"`
}

// Turn is a prior conversation message.
type Turn struct {
	Content string `json:"content"`
	IsUser  bool   `json:"isUser"`
}
