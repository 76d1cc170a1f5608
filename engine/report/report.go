// Package report renders an insurance-eligibility HTML report from sensor
// data and retrieved requirement text. The model's markup is returned
// unmodified.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/complimo/complimo/engine/analysis"
	"github.com/complimo/complimo/engine/domain"
	"github.com/complimo/complimo/engine/rag"
	"github.com/complimo/complimo/pkg/llm"
)

// Report is a complete HTML document.
type Report string

const renderPrompt = `You are a data analysis expert creating a formal PDF report for an Heating, Ventilation and Air conditioning (HVAC) insurance company who wants to know if a building is complying with the insurance requirements and is eligible to make claims. You are given some the description of columns and the analysis of the corresponding time series HVAC data. The data columns are as follows, %s.

Note: Prepare the report as a complete, styled HTML document in pure HTML, no markdown.
Format all numbers with appropriate units and 2 decimal places where applicable. Emphasize on data driven insights and recommendations and put strong focus from an insurance provider's perspective on what is most relevant information to ensure if the building is eligible for insurance claims. Document your analysis in a way that is easy to understand and follow using a simple yet professional tone.`

// Input is everything one render call combines.
type Input struct {
	Columns      []string
	Series       domain.Table
	Requirements string
	Analysis     string
}

// Renderer makes the single model call that produces the document.
type Renderer struct {
	chat        llm.ChatModel
	temperature float64
}

// NewRenderer creates a Renderer.
func NewRenderer(chat llm.ChatModel, temperature float64) *Renderer {
	return &Renderer{chat: chat, temperature: temperature}
}

// Render returns the model's markup verbatim.
func (r *Renderer) Render(ctx context.Context, in Input) (Report, error) {
	series, err := json.Marshal(in.Series.Rows)
	if err != nil {
		return "", fmt.Errorf("report: encode series: %w", err)
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Following are the requirements for the insurance claim:\n\n %s\n\n", in.Requirements)
	user.WriteString("Please analyze this data and generate a report with respect to the data analysis and the requirements specified:\n\n ")
	if in.Analysis != "" {
		user.WriteString(in.Analysis)
		user.WriteString("\n\n")
	}
	user.WriteString("Data:\n")
	user.Write(series)

	system := fmt.Sprintf(renderPrompt, strings.Join(in.Columns, ", "))
	out, err := llm.Ask(ctx, r.chat, system, user.String(), r.temperature)
	if err != nil {
		return "", domain.Upstream("report: render", err)
	}
	return Report(out), nil
}

// Searcher finds requirement chunks for a query.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]rag.ScoredChunk, error)
}

// Generator runs the full report flow: query from the data, retrieval,
// narrative analysis, render.
type Generator struct {
	Queries   *analysis.QuerySynthesizer
	Retriever Searcher
	Narrator  *analysis.Narrator
	Renderer  *Renderer
	// TopK is the number of requirement chunks retrieved.
	TopK int
	// Buckets caps the rows sent to the model; 0 sends every row.
	Buckets int
	Logger  *slog.Logger
}

// Generate produces a report for t. Columns default to the table's own.
func (g *Generator) Generate(ctx context.Context, t domain.Table, columns []string) (Report, error) {
	if err := domain.ValidateTable(t); err != nil {
		return "", err
	}
	log := g.Logger
	if log == nil {
		log = slog.Default()
	}
	if len(columns) == 0 {
		columns = t.Columns()
	}
	topK := g.TopK
	if topK <= 0 {
		topK = 10
	}

	series := Aggregate(t, g.Buckets)
	data, err := json.Marshal(series.Rows)
	if err != nil {
		return "", fmt.Errorf("report: encode series: %w", err)
	}

	query, err := g.Queries.ForReport(ctx, columns, string(data))
	if err != nil {
		return "", err
	}
	hits, err := g.Retriever.Search(ctx, query, topK)
	if err != nil {
		return "", err
	}
	log.Info("report: requirements retrieved", "query", query, "hits", len(hits), "rows", series.Len())

	narrative, err := g.Narrator.Narrate(ctx, series, columns)
	if err != nil {
		return "", err
	}

	return g.Renderer.Render(ctx, Input{
		Columns:      columns,
		Series:       series,
		Requirements: rag.FormatRegulations(hits),
		Analysis:     narrative,
	})
}
