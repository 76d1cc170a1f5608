package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complimo/complimo/engine/compliance"
	"github.com/complimo/complimo/engine/domain"
	"github.com/complimo/complimo/engine/ingest"
	"github.com/complimo/complimo/pkg/repo"
)

type fakeResult struct {
	records []*neo4j.Record
	i       int
}

func (r *fakeResult) Next(context.Context) bool {
	if r.i < len(r.records) {
		r.i++
		return true
	}
	return false
}
func (r *fakeResult) Record() *neo4j.Record { return r.records[r.i-1] }
func (r *fakeResult) Err() error            { return nil }

type call struct {
	cypher string
	params map[string]any
}

// fakeSessions records every statement and answers from a queue of results.
type fakeSessions struct {
	calls   []call
	results [][]*neo4j.Record
	err     error
}

func (f *fakeSessions) open(context.Context) repo.Session { return f }

func (f *fakeSessions) Run(_ context.Context, cypher string, params map[string]any) (repo.Result, error) {
	f.calls = append(f.calls, call{cypher, params})
	if f.err != nil {
		return nil, f.err
	}
	res := &fakeResult{}
	if len(f.results) > 0 {
		res.records, f.results = f.results[0], f.results[1:]
	}
	return res, nil
}

func (f *fakeSessions) Close(context.Context) error { return nil }

func evaluationNode(props map[string]any) *neo4j.Record {
	return &neo4j.Record{Keys: []string{"n"}, Values: []any{dbtype.Node{Labels: []string{"Evaluation"}, Props: props}}}
}

func TestRecordDocument(t *testing.T) {
	fs := &fakeSessions{}
	l := New(fs.open, nil)

	err := l.RecordDocument(context.Background(),
		ingest.Result{IngestionID: "01HX", Path: "uploads/ASHRAE_62_1.pdf", Chunks: 12},
		map[string]any{"organization": "ASHRAE", "standard_number": "62.1", "tags": []string{"x"}})
	require.NoError(t, err)

	require.Len(t, fs.calls, 1)
	c := fs.calls[0]
	assert.Contains(t, c.cypher, "MERGE (d:Document {path: $path})")
	assert.Equal(t, "ASHRAE_62_1.pdf", c.params["filename"])
	assert.Equal(t, 12, c.params["chunks"])
	meta := c.params["meta"].(map[string]any)
	assert.Equal(t, "ASHRAE", meta["organization"])
	assert.NotContains(t, meta, "tags")
}

func TestRecordEvaluation(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	fs := &fakeSessions{results: [][]*neo4j.Record{{evaluationNode(map[string]any{"id": "01J"})}}}
	l := New(fs.open, nil)

	err := l.RecordEvaluation(context.Background(), compliance.Verdict{
		ID:          "01J",
		Status:      compliance.NonCompliant,
		Query:       "ventilation",
		Strategy:    compliance.StrategyNarrative,
		EvaluatedAt: at,
		Sources:     []string{"uploads/ASHRAE_62_1.pdf"},
		Records: []domain.ComplianceRecord{
			{Regulation: "62.1", Status: domain.StatusNonCompliant, ComplianceIssues: "CO2 high", NextSteps: "open damper"},
		},
	})
	require.NoError(t, err)

	require.Len(t, fs.calls, 3)
	props := fs.calls[0].params["props"].(map[string]any)
	assert.Equal(t, "NON_COMPLIANT", props["status"])
	assert.Equal(t, "2025-03-01T12:00:00.000000000Z", props["evaluated_at"])
	assert.Contains(t, props["records"], `"regulation":"62.1"`)

	assert.Contains(t, fs.calls[1].cypher, ":FOUND]")
	findings := fs.calls[1].params["findings"].([]map[string]any)
	assert.Equal(t, "non-compliant", findings[0]["status"])

	assert.Contains(t, fs.calls[2].cypher, ":CITED]")
	assert.Equal(t, []string{"uploads/ASHRAE_62_1.pdf"}, fs.calls[2].params["sources"])
}

func TestRecordEvaluation_NoFindingsNoSources(t *testing.T) {
	fs := &fakeSessions{results: [][]*neo4j.Record{{evaluationNode(map[string]any{"id": "x"})}}}
	require.NoError(t, New(fs.open, nil).RecordEvaluation(context.Background(), compliance.Verdict{ID: "x"}))
	assert.Len(t, fs.calls, 1)
}

func TestRecordEvaluation_Error(t *testing.T) {
	fs := &fakeSessions{err: errors.New("neo4j unavailable")}
	err := New(fs.open, nil).RecordEvaluation(context.Background(), compliance.Verdict{ID: "x"})
	assert.ErrorContains(t, err, "neo4j unavailable")
}

func TestRecent(t *testing.T) {
	fs := &fakeSessions{results: [][]*neo4j.Record{{
		evaluationNode(map[string]any{
			"id":           "b",
			"status":       "COMPLIANT",
			"evaluated_at": "2025-03-02T00:00:00Z",
			"records":      `[{"regulation":"90.1","compliance_issues":"","status":"compliant","next_steps":""}]`,
		}),
		evaluationNode(map[string]any{"id": "a", "status": "NON_COMPLIANT"}),
	}}}

	evs, err := New(fs.open, nil).Recent(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "b", evs[0].ID)
	assert.Equal(t, 2025, evs[0].EvaluatedAt.Year())
	require.Len(t, evs[0].Records, 1)
	assert.Equal(t, domain.StatusCompliant, evs[0].Records[0].Status)
	assert.True(t, evs[1].EvaluatedAt.IsZero())

	assert.Contains(t, fs.calls[0].cypher, "ORDER BY n.evaluated_at DESC")
	assert.Equal(t, 20, fs.calls[0].params["limit"])
}

func TestTimeLayoutSortsChronologically(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	times := []time.Time{
		base,
		base.Add(100 * time.Millisecond),
		base.Add(120 * time.Millisecond),
		base.Add(time.Second),
	}
	for i := 1; i < len(times); i++ {
		prev, cur := times[i-1].Format(timeLayout), times[i].Format(timeLayout)
		assert.Less(t, prev, cur, "%s should sort before %s", prev, cur)
	}

	parsed, err := time.Parse(time.RFC3339Nano, times[2].Format(timeLayout))
	require.NoError(t, err)
	assert.True(t, times[2].Equal(parsed))
}

func TestEvaluation_NotFound(t *testing.T) {
	_, err := New((&fakeSessions{}).open, nil).Evaluation(context.Background(), "missing")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestCloseWithoutDriver(t *testing.T) {
	assert.NoError(t, New((&fakeSessions{}).open, nil).Close(context.Background()))
}
