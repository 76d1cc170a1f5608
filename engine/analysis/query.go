package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/complimo/complimo/engine/domain"
	"github.com/complimo/complimo/pkg/llm"
)

const (
	complianceQuerySystem = "Based on the tabular data, generate a search query to find relevant compliance regulations."
	reportQuerySystem     = "Based on the tabular data, generate a search query to find relevant insurance eligibility requirements."
)

// QuerySynthesizer turns data into a short retrieval query. The length
// instruction is advisory; the model's text is used as returned apart from
// trimming.
type QuerySynthesizer struct {
	chat        llm.ChatModel
	temperature float64
}

// NewQuerySynthesizer creates a QuerySynthesizer.
func NewQuerySynthesizer(chat llm.ChatModel, temperature float64) *QuerySynthesizer {
	return &QuerySynthesizer{chat: chat, temperature: temperature}
}

// ForCompliance asks for a regulation search query of less than 15 words.
func (q *QuerySynthesizer) ForCompliance(ctx context.Context, data string) (string, error) {
	user := fmt.Sprintf("Data: %s \nGenerate a focused search query for compliance regulations in less than 15 words.", data)
	return q.ask(ctx, complianceQuerySystem, user)
}

// ForReport asks for an insurance-requirements search query over a column
// list and its data.
func (q *QuerySynthesizer) ForReport(ctx context.Context, columns []string, data string) (string, error) {
	user := fmt.Sprintf("Columns: %s\nData:\n\n %s", strings.Join(columns, ", "), data)
	return q.ask(ctx, reportQuerySystem, user)
}

func (q *QuerySynthesizer) ask(ctx context.Context, system, user string) (string, error) {
	out, err := llm.Ask(ctx, q.chat, system, user, q.temperature)
	if err != nil {
		return "", domain.Upstream("analysis: synthesize query", err)
	}
	query := CleanQuery(out)
	if query == "" {
		return "", fmt.Errorf("analysis: synthesize query: %w: empty query", domain.ErrMalformedOutput)
	}
	return query, nil
}

// CleanQuery strips surrounding whitespace and quote characters.
func CleanQuery(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "\"'`“”"))
}
