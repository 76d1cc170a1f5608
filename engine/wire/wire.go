// Package wire builds engine components from configuration. Both binaries
// use it so that the API server and the ingest CLI agree on backends.
package wire

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/complimo/complimo/engine/ingest"
	"github.com/complimo/complimo/engine/ledger"
	"github.com/complimo/complimo/engine/semantic"
	"github.com/complimo/complimo/pkg/config"
	"github.com/complimo/complimo/pkg/fn"
	"github.com/complimo/complimo/pkg/llm"
	"github.com/complimo/complimo/pkg/metrics"
	"github.com/complimo/complimo/pkg/ollama"
	"github.com/complimo/complimo/pkg/openai"
	"github.com/complimo/complimo/pkg/resilience"
)

// Ollama models used when the configured names are still the OpenAI defaults.
const (
	OllamaChatModel  = "llama3.1"
	OllamaEmbedModel = "nomic-embed-text"
)

// Models returns the configured provider behind a rate limiter and circuit
// breakers. The guard serves as both chat model and embedder.
func Models(cfg config.Config, reg *metrics.Registry, log *slog.Logger) (*llm.Guard, error) {
	var (
		chat  llm.ChatModel
		embed llm.Embedder
	)
	m := cfg.Model
	switch m.Provider {
	case "openai":
		c, err := openai.New(openai.Config{
			APIKey:     m.APIKey,
			BaseURL:    m.BaseURL,
			ChatModel:  m.ChatModel,
			EmbedModel: m.EmbedModel,
		})
		if err != nil {
			return nil, err
		}
		chat, embed = c, c
	case "ollama":
		chatModel, embedModel := m.ChatModel, m.EmbedModel
		if chatModel == openai.DefaultChatModel {
			chatModel = OllamaChatModel
		}
		if embedModel == openai.DefaultEmbedModel {
			embedModel = OllamaEmbedModel
		}
		c := ollama.New(m.OllamaURL, chatModel, embedModel)
		chat, embed = c, c
	default:
		return nil, fmt.Errorf("wire: unknown model provider %q", m.Provider)
	}

	breaker := resilience.DefaultBreakerOpts
	breaker.OnStateChange = func(from, to resilience.State) {
		log.Warn("model circuit breaker", "provider", m.Provider, "from", from.String(), "to", to.String())
	}
	return llm.NewGuard(chat, embed, llm.GuardOpts{
		Limiter:  resilience.LimiterOpts{Rate: cfg.Limits.ModelRPS, Burst: cfg.Limits.ModelBurst},
		Breaker:  breaker,
		Registry: reg,
	}), nil
}

// Index opens the configured vector index backend.
func Index(cfg config.IndexConfig) (semantic.Index, error) {
	switch cfg.Backend {
	case "local":
		s, err := semantic.OpenLocal(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "qdrant":
		q, err := semantic.NewQdrant(cfg.QdrantAddr)
		if err != nil {
			return nil, err
		}
		return q, nil
	}
	return nil, fmt.Errorf("wire: unknown index backend %q", cfg.Backend)
}

// Ledger connects the audit ledger. It returns nil when no URL is set.
func Ledger(ctx context.Context, cfg config.Neo4jConfig, log *slog.Logger) (*ledger.Ledger, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return ledger.Open(ctx, cfg.URL, cfg.User, cfg.Pass, log)
}

// NATS connects to the broker. It returns nil when no URL is set.
func NATS(cfg config.NATSConfig, name string, log *slog.Logger) (*nats.Conn, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("wire: nats connect %s: %w", cfg.URL, err)
	}
	return nc, nil
}

// ChunkPolicy converts the configured chunking.
func ChunkPolicy(cfg config.ChunkingConfig) ingest.ChunkPolicy {
	return ingest.ChunkPolicy{Size: cfg.Size, Overlap: cfg.Overlap}
}

// Retry converts the configured evaluation retry bounds.
func Retry(cfg config.RetryConfig) fn.RetryOpts {
	return fn.RetryOpts{
		MaxAttempts: cfg.MaxAttempts,
		InitialWait: cfg.InitialWait,
		MaxWait:     cfg.MaxWait,
		Jitter:      true,
	}
}
