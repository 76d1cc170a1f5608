package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/complimo/complimo/engine/domain"
	"github.com/complimo/complimo/pkg/llm"
)

const tablePrompt = `You are a data analysis expert. Analyze the provided JSON data and provide insights about:
1. The structure of the data (tabular, nested, flat, etc.)
2. Key insights about the data
3. Factual interpretation of data, including what the data is measuring and what the data is trying to tell you
4. Implications of data and conclusions that can be drawn from the data

Format your response as a simple string with clear sections for insights. No markdown, no formatting.`

const seriesPrompt = `You are a data analysis expert. The data is time series data with the following columns: %s. Analyze the provided JSON data and provide insights about:
1. The trends in the data including the peaks and troughs, deviation from the norm and the exact time period of such deviations.
2. Key insights about the data.
3. Factual interpretation of data and trends in the data.

Format your response as a simple string with clear sections for insights. No markdown, no formatting.`

// Narrator asks the chat model to describe a table in prose.
type Narrator struct {
	chat        llm.ChatModel
	temperature float64
	logger      *slog.Logger
}

// NewNarrator creates a Narrator.
func NewNarrator(chat llm.ChatModel, temperature float64, logger *slog.Logger) *Narrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Narrator{chat: chat, temperature: temperature, logger: logger}
}

// Narrate returns the model's analysis of t verbatim. With columns set, the
// table is treated as a time series over those columns.
func (n *Narrator) Narrate(ctx context.Context, t domain.Table, columns []string) (string, error) {
	data, err := json.Marshal(t.Rows)
	if err != nil {
		return "", fmt.Errorf("analysis: encode table: %w", err)
	}
	system := tablePrompt
	if len(columns) > 0 {
		system = fmt.Sprintf(seriesPrompt, strings.Join(columns, ", "))
	}

	n.logger.Info("analysis narrate", "rows", t.Len(), "series", len(columns) > 0)
	out, err := llm.Ask(ctx, n.chat, system, "Please analyze this data:\n\n "+string(data), n.temperature)
	if err != nil {
		return "", domain.Upstream("analysis: narrate", err)
	}
	return out, nil
}

// Analyze implements Analyzer with the general table prompt.
func (n *Narrator) Analyze(ctx context.Context, t domain.Table) (string, error) {
	return n.Narrate(ctx, t, nil)
}
