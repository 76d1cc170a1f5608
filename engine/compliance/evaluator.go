// Package compliance compares a sensor analysis against retrieved regulation
// text and produces per-regulation verdicts. The model call is retried a
// bounded number of times; persistent failure surfaces as *EvaluationError.
package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/complimo/complimo/engine/domain"
	"github.com/complimo/complimo/pkg/fn"
	"github.com/complimo/complimo/pkg/llm"
)

const evaluatePrompt = `You are a compliance expert who forwarded a data analysis report along with a list of regulations. Carefully study the data analysis and the list of regulations. Now, compare the data analysis with regulations to find compliance issues.

Your task:
1. Identify the regulations that are relevant to the data analysis.
2. Compare the data analysis with the relevant regulations to find compliance issues.
3. Provide a detailed report of the compliance issues, if any. The report should contain next_steps which are specific actionable steps to resolve the compliance issues. Refrain from providing general next steps.

Format your response as a JSON response. No markdown, no formatting. The following is an example of the format you should follow:
[
  {
    "regulation": "Regulation description",
    "compliance_issues": "Compliance issues",
    "status": "compliant",
    "next_steps": "Since your heating system is faulty, you should call a technician to fix it."
  },
  {
    "regulation": "Regulation description",
    "compliance_issues": "Compliance issues",
    "status": "non-compliant",
    "next_steps": "Since your system is running since long without reset, make sure to reset it regularly to prevent breakdown of operation."
  }
]`

// EvaluationError is returned once every attempt has failed. It matches
// domain.ErrEvaluationFailed and the last attempt's cause.
type EvaluationError struct {
	Attempts int
	Last     error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("compliance: evaluation failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *EvaluationError) Unwrap() []error { return []error{domain.ErrEvaluationFailed, e.Last} }

// DefaultRetry bounds the evaluation loop.
var DefaultRetry = fn.RetryOpts{
	MaxAttempts: 3,
	InitialWait: 500 * time.Millisecond,
	MaxWait:     5 * time.Second,
	Jitter:      true,
}

// Evaluator asks the chat model for a JSON array of ComplianceRecord.
type Evaluator struct {
	chat        llm.ChatModel
	retry       fn.RetryOpts
	temperature float64
	logger      *slog.Logger
}

// NewEvaluator creates an Evaluator. A zero retry uses DefaultRetry.
func NewEvaluator(chat llm.ChatModel, retry fn.RetryOpts, temperature float64, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetry
	}
	return &Evaluator{chat: chat, retry: retry, temperature: temperature, logger: logger}
}

// Evaluate compares analysis with regulations. An empty slice is a valid
// answer: the model found nothing relevant.
func (e *Evaluator) Evaluate(ctx context.Context, analysis, regulations string) ([]domain.ComplianceRecord, error) {
	user := fmt.Sprintf("Please compare this data with regulations to find compliance issues:\n\n %s \n\n %s", analysis, regulations)

	attempts := 0
	opts := e.retry
	opts.Retryable = func(err error) bool {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	opts.OnRetry = func(attempt int, err error, wait time.Duration) {
		e.logger.Warn("compliance: evaluation attempt failed", "attempt", attempt, "error", err, "wait", wait)
	}

	var once fn.Stage[string, []domain.ComplianceRecord] = func(ctx context.Context, user string) fn.Result[[]domain.ComplianceRecord] {
		attempts++
		out, err := llm.Ask(ctx, e.chat, evaluatePrompt, user, e.temperature)
		if err != nil {
			return fn.Err[[]domain.ComplianceRecord](domain.Upstream("compliance: evaluate", err))
		}
		records, err := ParseRecords(out)
		return fn.FromPair(records, err)
	}
	res := fn.RetryStage(opts, once)(ctx, user)

	records, err := res.Unwrap()
	if err == nil {
		e.logger.Info("compliance: evaluated", "records", len(records), "attempts", attempts)
		return records, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, &EvaluationError{Attempts: attempts, Last: err}
}

type rawRecord struct {
	Regulation       string `json:"regulation"`
	ComplianceIssues any    `json:"compliance_issues"`
	Status           string `json:"status"`
	NextSteps        any    `json:"next_steps"`
}

// ParseRecords decodes a model reply into records. Markdown fences and prose
// around the array are ignored. Every failure matches domain.ErrMalformedOutput.
func ParseRecords(text string) ([]domain.ComplianceRecord, error) {
	body := stripFences(text)
	if i, j := strings.Index(body, "["), strings.LastIndex(body, "]"); i >= 0 && j > i {
		body = body[i : j+1]
	}

	var raw []rawRecord
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("compliance: %w: %v", domain.ErrMalformedOutput, err)
	}

	out := make([]domain.ComplianceRecord, 0, len(raw))
	for i, r := range raw {
		status, err := NormalizeStatus(r.Status)
		if err != nil {
			return nil, fmt.Errorf("compliance: record %d: %w", i, err)
		}
		out = append(out, domain.ComplianceRecord{
			Regulation:       r.Regulation,
			ComplianceIssues: flatten(r.ComplianceIssues),
			Status:           status,
			NextSteps:        flatten(r.NextSteps),
		})
	}
	return out, nil
}

// NormalizeStatus maps the model's spelling of a status onto the two known
// values, ignoring case and separators.
func NormalizeStatus(s string) (domain.ComplianceStatus, error) {
	key := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(strings.TrimSpace(s)))
	switch key {
	case "compliant":
		return domain.StatusCompliant, nil
	case "noncompliant", "notcompliant":
		return domain.StatusNonCompliant, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", domain.ErrMalformedOutput, s)
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// flatten accepts a string or a list of strings; models use both.
func flatten(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, "\n")
	}
	return fmt.Sprint(v)
}
