// Package rag answers questions against the regulation index. The Retriever
// embeds a query and ranks stored chunks; Service folds conversation history
// and optional sensor readings into a prompt over the retrieved context and
// asks the chat model.
package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/complimo/complimo/engine/domain"
	"github.com/complimo/complimo/pkg/llm"
)

// Options configures the chat pipeline.
type Options struct {
	TopK         int
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// DefaultOptions returns the chat defaults.
func DefaultOptions() Options {
	return Options{
		TopK:         4,
		Temperature:  0.1,
		MaxTokens:    1024,
		SystemPrompt: defaultSystemPrompt,
	}
}

const defaultSystemPrompt = `Use the following pieces of context to answer the user's question.
If you don't know the answer, just say that you don't know, don't try to make up an answer.`

// Service is the chat orchestration service.
type Service struct {
	retriever *Retriever
	chat      llm.ChatModel
	opts      Options
	logger    *slog.Logger
}

// New creates a Service.
func New(retriever *Retriever, chat llm.ChatModel, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultOptions().TopK
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = defaultSystemPrompt
	}
	return &Service{retriever: retriever, chat: chat, opts: opts, logger: logger}
}

// Answer is the chat response.
type Answer struct {
	Text    string   `json:"response"`
	Sources []Source `json:"sources"`
}

// Source is a citation backing the answer. It always names a stored chunk.
type Source struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Source  string  `json:"source"`
	Score   float32 `json:"score"`
}

// Question is one chat request.
type Question struct {
	Query   string
	History []domain.Turn
	// Sensor is optional readings the user is asking about.
	Sensor *domain.Table
}

// Query runs retrieval and one chat completion for q.
func (s *Service) Query(ctx context.Context, q Question) (*Answer, error) {
	if err := domain.ValidateQuery(q.Query); err != nil {
		return nil, err
	}
	s.logger.Info("rag query start", "question_len", len(q.Query), "history", len(q.History))

	hits, err := s.retriever.Search(ctx, q.Query, s.opts.TopK)
	if err != nil {
		return nil, err
	}

	system := s.opts.SystemPrompt + "\n\n" + buildContext(hits)
	user := BuildQuestion(q.Query, q.History)
	if q.Sensor != nil && q.Sensor.Len() > 0 {
		data, err := json.Marshal(q.Sensor.Rows)
		if err != nil {
			return nil, fmt.Errorf("rag: encode sensor data: %w", err)
		}
		user += "\n\nCurrent sensor readings:\n" + string(data)
	}

	reply, err := s.chat.Chat(ctx, llm.ChatRequest{
		System:      system,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: user}},
		Temperature: s.opts.Temperature,
		MaxTokens:   s.opts.MaxTokens,
	})
	if err != nil {
		return nil, domain.Upstream("rag: chat", err)
	}

	sources := make([]Source, len(hits))
	for i, h := range hits {
		sources[i] = Source{
			ID:      h.ID,
			Content: h.Chunk.Text,
			Source:  h.Chunk.Source(),
			Score:   h.Score,
		}
	}
	return &Answer{Text: strings.TrimSpace(reply), Sources: sources}, nil
}

// BuildQuestion folds prior turns into the question. With no history the
// question is returned unchanged.
func BuildQuestion(query string, history []domain.Turn) string {
	if len(history) == 0 {
		return query
	}
	turns := make([]string, len(history))
	for i, t := range history {
		who := "Assistant"
		if t.IsUser {
			who = "User"
		}
		turns[i] = who + ": " + t.Content
	}
	return fmt.Sprintf("Previous conversation:\n%s\n\nBased on this conversation history, please answer the user's current question: %s. Answer in pure text, no markdown, no HTML.",
		strings.Join(turns, "\n\n"), query)
}

func buildContext(hits []ScoredChunk) string {
	parts := make([]string, len(hits))
	for i, h := range hits {
		parts[i] = fmt.Sprintf("[%s] (source: %s, score: %.3f)\n%s", h.ID, h.Chunk.Source(), h.Score, h.Chunk.Text)
	}
	return strings.Join(parts, "\n\n")
}
