// Package llm defines the capability surface the engine needs from hosted
// models: text embeddings and chat completion. Concrete providers live in
// pkg/openai and pkg/ollama.
package llm

import "context"

// Roles used in chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a single completion request.
type ChatRequest struct {
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// ChatModel completes a chat prompt and returns the model's text.
type ChatModel interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
}

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Ask is shorthand for a one-system, one-user chat call.
func Ask(ctx context.Context, m ChatModel, system, user string, temperature float64) (string, error) {
	return m.Chat(ctx, ChatRequest{
		System:      system,
		Messages:    []Message{{Role: RoleUser, Content: user}},
		Temperature: temperature,
	})
}
