package compliance

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complimo/complimo/engine/analysis"
	"github.com/complimo/complimo/engine/domain"
	"github.com/complimo/complimo/engine/rag"
	"github.com/complimo/complimo/pkg/fn"
	"github.com/complimo/complimo/pkg/llm"
)

var fastRetry = fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 2 * time.Millisecond}

// scriptedChat replies to evaluation prompts from a queue and to every other
// prompt by matching its system text.
type scriptedChat struct {
	mu       sync.Mutex
	evals    []string
	evalErr  error
	bySystem map[string]string
	systems  []string
	users    []string
}

func (s *scriptedChat) Chat(_ context.Context, req llm.ChatRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systems = append(s.systems, req.System)
	s.users = append(s.users, req.Messages[0].Content)
	if req.System == evaluatePrompt {
		if s.evalErr != nil {
			return "", s.evalErr
		}
		if len(s.evals) == 0 {
			return "not json", nil
		}
		out := s.evals[0]
		if len(s.evals) > 1 {
			s.evals = s.evals[1:]
		}
		return out, nil
	}
	for prefix, reply := range s.bySystem {
		if strings.HasPrefix(req.System, prefix) {
			return reply, nil
		}
	}
	return "", errors.New("unexpected prompt")
}

func (s *scriptedChat) evalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sys := range s.systems {
		if sys == evaluatePrompt {
			n++
		}
	}
	return n
}

const twoRecords = `[
  {"regulation": "ASHRAE 62.1 6.2", "compliance_issues": "CO2 above 1100 ppm", "status": "non-Compliant", "next_steps": "Increase outdoor air damper position."},
  {"regulation": "ASHRAE 90.1 6.4", "compliance_issues": "None", "status": "compliant", "next_steps": ["Keep logging", "Review quarterly"]}
]`

// --- parsing ---

func TestParseRecords_NormalizesStatus(t *testing.T) {
	recs, err := ParseRecords(twoRecords)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, domain.StatusNonCompliant, recs[0].Status)
	assert.Equal(t, domain.StatusCompliant, recs[1].Status)
	assert.Equal(t, "Keep logging\nReview quarterly", recs[1].NextSteps)
}

func TestParseRecords_StripsFencesAndProse(t *testing.T) {
	recs, err := ParseRecords("```json\n" + twoRecords + "\n```")
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = ParseRecords("Here is the result:\n" + twoRecords + "\nThanks.")
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestParseRecords_Malformed(t *testing.T) {
	for name, text := range map[string]string{
		"prose":          "The building looks fine.",
		"object":         `{"regulation": "x", "status": "compliant"}`,
		"unknown status": `[{"regulation": "x", "status": "partially"}]`,
		"truncated":      `[{"regulation": "x", "status": "compliant"`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRecords(text)
			assert.ErrorIs(t, err, domain.ErrMalformedOutput)
		})
	}
}

func TestParseRecords_EmptyArray(t *testing.T) {
	recs, err := ParseRecords("[]")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestNormalizeStatus(t *testing.T) {
	for in, want := range map[string]domain.ComplianceStatus{
		"compliant":     domain.StatusCompliant,
		" Compliant ":   domain.StatusCompliant,
		"non-Compliant": domain.StatusNonCompliant,
		"NON_COMPLIANT": domain.StatusNonCompliant,
		"Non compliant": domain.StatusNonCompliant,
	} {
		got, err := NormalizeStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

// --- evaluator ---

func TestEvaluate_FirstAttempt(t *testing.T) {
	chat := &scriptedChat{evals: []string{twoRecords}}
	recs, err := NewEvaluator(chat, fastRetry, 0, nil).Evaluate(context.Background(), "analysis", "Document 1:\nregs\n")
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	assert.Equal(t, 1, chat.evalCalls())
	assert.Contains(t, chat.users[0], "analysis")
	assert.Contains(t, chat.users[0], "Document 1:")
}

func TestEvaluate_RecoversAfterMalformed(t *testing.T) {
	chat := &scriptedChat{evals: []string{"oops", "still not json", twoRecords}}
	recs, err := NewEvaluator(chat, fastRetry, 0, nil).Evaluate(context.Background(), "a", "r")
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	assert.Equal(t, 3, chat.evalCalls())
}

func TestEvaluate_BoundedFailure(t *testing.T) {
	chat := &scriptedChat{evals: []string{"never json"}}
	_, err := NewEvaluator(chat, fastRetry, 0, nil).Evaluate(context.Background(), "a", "r")

	var evalErr *EvaluationError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, 3, evalErr.Attempts)
	assert.ErrorIs(t, err, domain.ErrEvaluationFailed)
	assert.ErrorIs(t, err, domain.ErrMalformedOutput)
	assert.Equal(t, 3, chat.evalCalls())
}

func TestEvaluate_UpstreamFailure(t *testing.T) {
	chat := &scriptedChat{evalErr: errors.New("502 bad gateway")}
	_, err := NewEvaluator(chat, fastRetry, 0, nil).Evaluate(context.Background(), "a", "r")
	assert.ErrorIs(t, err, domain.ErrEvaluationFailed)
	assert.ErrorIs(t, err, domain.ErrUpstream)
}

func TestEvaluate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	chat := &scriptedChat{evalErr: context.Canceled}
	_, err := NewEvaluator(chat, fastRetry, 0, nil).Evaluate(ctx, "a", "r")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrEvaluationFailed)
}

// --- status ---

func TestClassifyText(t *testing.T) {
	assert.Equal(t, Compliant, ClassifyText("No compliance issues detected based on current analysis."))
	assert.Equal(t, CannotBeDetermined, ClassifyText("Error checking compliance: bad json"))
	assert.Equal(t, NonCompliant, ClassifyText(`[{"field": "amount"}]`))
}

func TestOverall(t *testing.T) {
	ok := domain.ComplianceRecord{Status: domain.StatusCompliant}
	bad := domain.ComplianceRecord{Status: domain.StatusNonCompliant}

	assert.Equal(t, CannotBeDetermined, Overall(nil))
	assert.Equal(t, Compliant, Overall([]domain.ComplianceRecord{ok, ok}))
	assert.Equal(t, NonCompliant, Overall([]domain.ComplianceRecord{ok, bad}))
}

func TestFinalAnswer(t *testing.T) {
	bad := domain.ComplianceRecord{Regulation: "62.1", Status: domain.StatusNonCompliant}
	ok := domain.ComplianceRecord{Regulation: "90.1", Status: domain.StatusCompliant}

	assert.Equal(t, "The data is compliant with all relevant regulations.", FinalAnswer(Compliant, []domain.ComplianceRecord{ok}))
	assert.Equal(t, "Compliance status cannot be determined with the available information.", FinalAnswer(CannotBeDetermined, nil))

	got := FinalAnswer(NonCompliant, []domain.ComplianceRecord{ok, bad})
	assert.True(t, strings.HasPrefix(got, "COMPLIANCE ISSUES FOUND:\n"))
	assert.Contains(t, got, `"regulation": "62.1"`)
	assert.NotContains(t, got, `"regulation": "90.1"`)
}

// --- pipeline ---

type fakeSearcher struct {
	hits  []rag.ScoredChunk
	err   error
	query string
	k     int
}

func (f *fakeSearcher) Search(_ context.Context, query string, k int) ([]rag.ScoredChunk, error) {
	f.query, f.k = query, k
	return f.hits, f.err
}

type fakeRecorder struct{ verdicts []Verdict }

func (f *fakeRecorder) RecordEvaluation(_ context.Context, v Verdict) error {
	f.verdicts = append(f.verdicts, v)
	return errors.New("ledger down")
}

func newTestPipeline(chat *scriptedChat, search *fakeSearcher, rec Recorder) *Pipeline {
	return NewPipeline(Deps{
		Narrator:  analysis.NewNarrator(chat, 0, nil),
		Queries:   analysis.NewQuerySynthesizer(chat, 0),
		Retriever: search,
		Evaluator: NewEvaluator(chat, fastRetry, 0, nil),
		Recorder:  rec,
		Now:       func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
}

func sensorTable() domain.Table {
	return domain.Table{Rows: []domain.Row{{"CO2_ppm": 1250.0}, {"CO2_ppm": 980.0}}}
}

func regulationHits() []rag.ScoredChunk {
	return []rag.ScoredChunk{
		{ID: "1", Score: 0.9, Chunk: domain.Chunk{Text: "Outdoor air shall...", Metadata: map[string]any{domain.MetaSource: "uploads/ASHRAE_62_1.pdf"}}},
		{ID: "2", Score: 0.8, Chunk: domain.Chunk{Text: "Ventilation zones...", Metadata: map[string]any{domain.MetaSource: "uploads/ASHRAE_62_1.pdf"}}},
	}
}

func TestPipeline_Narrative(t *testing.T) {
	chat := &scriptedChat{
		evals: []string{twoRecords},
		bySystem: map[string]string{
			"You are a data analysis expert": "CO2 runs high in the afternoon.",
			"Based on the tabular data":      "\"CO2 ventilation limits\"",
		},
	}
	search := &fakeSearcher{hits: regulationHits()}
	rec := &fakeRecorder{}

	v, err := newTestPipeline(chat, search, rec).Check(context.Background(), Request{Table: sensorTable()})
	require.NoError(t, err)

	assert.Equal(t, NonCompliant, v.Status)
	assert.Equal(t, StrategyNarrative, v.Strategy)
	assert.Equal(t, "CO2 ventilation limits", v.Query)
	assert.Equal(t, []string{"uploads/ASHRAE_62_1.pdf"}, v.Sources)
	assert.NotEmpty(t, v.ID)
	assert.True(t, strings.HasPrefix(v.FinalAnswer, "COMPLIANCE ISSUES FOUND:"))
	assert.Equal(t, 3, search.k)
	assert.Equal(t, "CO2 ventilation limits", search.query)

	// The evaluation prompt carries the narrative and the numbered regulations.
	evalUser := chat.users[len(chat.users)-1]
	assert.Contains(t, evalUser, "CO2 runs high in the afternoon.")
	assert.Contains(t, evalUser, "Document 1:\nOutdoor air shall...")

	// A failing recorder does not fail the check.
	require.Len(t, rec.verdicts, 1)
	assert.Equal(t, v.ID, rec.verdicts[0].ID)
}

func TestPipeline_Statistics(t *testing.T) {
	chat := &scriptedChat{
		evals:    []string{`[{"regulation": "x", "compliance_issues": "", "status": "compliant", "next_steps": ""}]`},
		bySystem: map[string]string{"Based on the tabular data": "ventilation"},
	}
	v, err := newTestPipeline(chat, &fakeSearcher{hits: regulationHits()}, nil).
		Check(context.Background(), Request{Table: sensorTable(), Strategy: StrategyStatistics})
	require.NoError(t, err)

	assert.Equal(t, Compliant, v.Status)
	for _, sys := range chat.systems {
		assert.False(t, strings.HasPrefix(sys, "You are a data analysis expert"), "narrator must not run")
	}
	assert.Contains(t, chat.users[len(chat.users)-1], `"row_count": 2`)
}

func TestPipeline_Errors(t *testing.T) {
	chat := &scriptedChat{bySystem: map[string]string{
		"You are a data analysis expert": "analysis",
		"Based on the tabular data":      "query",
	}}

	_, err := newTestPipeline(chat, &fakeSearcher{}, nil).Check(context.Background(), Request{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = newTestPipeline(chat, &fakeSearcher{}, nil).Check(context.Background(), Request{Table: sensorTable(), Strategy: "vibes"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = newTestPipeline(chat, &fakeSearcher{err: domain.ErrIndexUnavailable}, nil).Check(context.Background(), Request{Table: sensorTable()})
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)

	_, err = newTestPipeline(chat, &fakeSearcher{hits: regulationHits()}, nil).Check(context.Background(), Request{Table: sensorTable()})
	assert.ErrorIs(t, err, domain.ErrEvaluationFailed)
}
