package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/complimo/complimo/engine/analysis"
	"github.com/complimo/complimo/engine/domain"
	"github.com/complimo/complimo/engine/rag"
	"github.com/complimo/complimo/pkg/fn"
)

// Strategy selects how sensor data is analyzed before evaluation.
type Strategy string

const (
	StrategyNarrative  Strategy = "narrative"
	StrategyStatistics Strategy = "statistics"
)

// ParseStrategy accepts "", "narrative" or "statistics".
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyNarrative:
		return StrategyNarrative, nil
	case StrategyStatistics:
		return StrategyStatistics, nil
	}
	return "", domain.NewValidationError("strategy", s, domain.ErrInvalidInput)
}

// Searcher finds regulation chunks for a query.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]rag.ScoredChunk, error)
}

// Recorder persists finished verdicts. Failures are logged, not returned.
type Recorder interface {
	RecordEvaluation(ctx context.Context, v Verdict) error
}

// Request is one compliance check.
type Request struct {
	Table    domain.Table
	Strategy Strategy
}

// Verdict is the outcome of a compliance check.
type Verdict struct {
	ID          string                    `json:"id"`
	Status      OverallStatus             `json:"status"`
	Records     []domain.ComplianceRecord `json:"records"`
	FinalAnswer string                    `json:"final_answer"`
	Query       string                    `json:"query"`
	Strategy    Strategy                  `json:"strategy"`
	Sources     []string                  `json:"sources"`
	EvaluatedAt time.Time                 `json:"evaluated_at"`
}

type analyzed struct {
	Request
	Analysis string
}

type queried struct {
	analyzed
	Query string
}

type retrieved struct {
	queried
	Regulations string
	Sources     []string
}

// Deps holds the collaborators of a Pipeline.
type Deps struct {
	Narrator  analysis.Analyzer
	Queries   *analysis.QuerySynthesizer
	Retriever Searcher
	Evaluator *Evaluator
	Recorder  Recorder
	TopK      int
	Now       func() time.Time
	Logger    *slog.Logger
}

// Pipeline runs analyze, synthesize, retrieve and evaluate in order.
type Pipeline struct {
	run fn.Stage[Request, Verdict]
}

// NewPipeline wires the stages.
func NewPipeline(deps Deps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.TopK <= 0 {
		deps.TopK = 3
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	validated := fn.TracedStage("compliance.validate", validate)
	withAnalysis := fn.Then(validated, fn.TracedStage("compliance.analyze", analyzeStage(deps)))
	withQuery := fn.Then(withAnalysis, fn.TracedStage("compliance.query", queryStage(deps)))
	withRegs := fn.Then(withQuery, fn.TracedStage("compliance.retrieve", retrieveStage(deps)))
	evaluated := fn.Then(withRegs, fn.TracedStage("compliance.evaluate", evaluateStage(deps)))
	recorded := fn.Then(evaluated, fn.TapStage(recordTap(deps)))

	return &Pipeline{run: recorded}
}

// Check runs one request through the pipeline.
func (p *Pipeline) Check(ctx context.Context, req Request) (Verdict, error) {
	return p.run(ctx, req).Unwrap()
}

var validate fn.Stage[Request, Request] = func(_ context.Context, req Request) fn.Result[Request] {
	if err := domain.ValidateTable(req.Table); err != nil {
		return fn.Err[Request](err)
	}
	s, err := ParseStrategy(string(req.Strategy))
	if err != nil {
		return fn.Err[Request](err)
	}
	req.Strategy = s
	return fn.Ok(req)
}

func analyzeStage(deps Deps) fn.Stage[Request, analyzed] {
	return func(ctx context.Context, req Request) fn.Result[analyzed] {
		var a analysis.Analyzer = analysis.Statistics{}
		if req.Strategy == StrategyNarrative && deps.Narrator != nil {
			a = deps.Narrator
		}
		text, err := a.Analyze(ctx, req.Table)
		if err != nil {
			return fn.Err[analyzed](err)
		}
		return fn.Ok(analyzed{Request: req, Analysis: text})
	}
}

func queryStage(deps Deps) fn.Stage[analyzed, queried] {
	return func(ctx context.Context, in analyzed) fn.Result[queried] {
		data, err := json.Marshal(in.Table.Rows)
		if err != nil {
			return fn.Err[queried](fmt.Errorf("compliance: encode table: %w", err))
		}
		q, err := deps.Queries.ForCompliance(ctx, string(data))
		if err != nil {
			return fn.Err[queried](err)
		}
		deps.Logger.Info("compliance: search query", "query", q)
		return fn.Ok(queried{analyzed: in, Query: q})
	}
}

func retrieveStage(deps Deps) fn.Stage[queried, retrieved] {
	return func(ctx context.Context, in queried) fn.Result[retrieved] {
		hits, err := deps.Retriever.Search(ctx, in.Query, deps.TopK)
		if err != nil {
			return fn.Err[retrieved](err)
		}
		return fn.Ok(retrieved{queried: in, Regulations: rag.FormatRegulations(hits), Sources: sourcesOf(hits)})
	}
}

func evaluateStage(deps Deps) fn.Stage[retrieved, Verdict] {
	return func(ctx context.Context, in retrieved) fn.Result[Verdict] {
		records, err := deps.Evaluator.Evaluate(ctx, in.Analysis, in.Regulations)
		if err != nil {
			return fn.Err[Verdict](err)
		}
		status := Overall(records)
		return fn.Ok(Verdict{
			ID:          ulid.Make().String(),
			Status:      status,
			Records:     records,
			FinalAnswer: FinalAnswer(status, records),
			Query:       in.Query,
			Strategy:    in.Strategy,
			Sources:     in.Sources,
			EvaluatedAt: deps.Now().UTC(),
		})
	}
}

func recordTap(deps Deps) func(context.Context, Verdict) {
	return func(ctx context.Context, v Verdict) {
		deps.Logger.Info("compliance: verdict", "id", v.ID, "status", v.Status, "records", len(v.Records))
		if deps.Recorder == nil {
			return
		}
		if err := deps.Recorder.RecordEvaluation(ctx, v); err != nil {
			deps.Logger.Warn("compliance: ledger record failed", "id", v.ID, "error", err)
		}
	}
}

// sourcesOf lists distinct chunk sources in rank order.
func sourcesOf(hits []rag.ScoredChunk) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, h := range hits {
		s := h.Chunk.Source()
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
