package llm

import (
	"context"
	"time"

	"github.com/complimo/complimo/pkg/metrics"
	"github.com/complimo/complimo/pkg/resilience"
)

// Guard wraps a ChatModel and an Embedder with a shared rate limiter and a
// circuit breaker per capability, and records call metrics.
type Guard struct {
	chat     ChatModel
	embed    Embedder
	limiter  *resilience.Limiter
	chatCB   *resilience.Breaker
	embedCB  *resilience.Breaker
	registry *metrics.Registry
}

// GuardOpts configures Guard.
type GuardOpts struct {
	Limiter  resilience.LimiterOpts
	Breaker  resilience.BreakerOpts
	Registry *metrics.Registry
}

// NewGuard wraps chat and embed. Either may be nil if unused.
func NewGuard(chat ChatModel, embed Embedder, opts GuardOpts) *Guard {
	reg := opts.Registry
	if reg == nil {
		reg = metrics.New()
	}
	return &Guard{
		chat:     chat,
		embed:    embed,
		limiter:  resilience.NewLimiter(opts.Limiter),
		chatCB:   resilience.NewBreaker(opts.Breaker),
		embedCB:  resilience.NewBreaker(opts.Breaker),
		registry: reg,
	}
}

func (g *Guard) observe(kind string, start time.Time, err error) {
	g.registry.Histogram(metrics.WithLabels("complimo_llm_call_duration_seconds", "kind", kind), "Model call latency", nil).Since(start)
	if err != nil {
		g.registry.Counter(metrics.WithLabels("complimo_llm_call_errors_total", "kind", kind), "Failed model calls").Inc()
	}
}

// Chat implements ChatModel.
func (g *Guard) Chat(ctx context.Context, req ChatRequest) (string, error) {
	var out string
	start := time.Now()
	err := g.limiter.CallWait(ctx, func(ctx context.Context) error {
		return g.chatCB.Call(ctx, func(ctx context.Context) error {
			var err error
			out, err = g.chat.Chat(ctx, req)
			return err
		})
	})
	g.observe("chat", start, err)
	return out, err
}

// Embed implements Embedder.
func (g *Guard) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	start := time.Now()
	err := g.limiter.CallWait(ctx, func(ctx context.Context) error {
		return g.embedCB.Call(ctx, func(ctx context.Context) error {
			var err error
			out, err = g.embed.Embed(ctx, text)
			return err
		})
	})
	g.observe("embed", start, err)
	return out, err
}

// EmbedBatch implements Embedder.
func (g *Guard) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	start := time.Now()
	err := g.limiter.CallWait(ctx, func(ctx context.Context) error {
		return g.embedCB.Call(ctx, func(ctx context.Context) error {
			var err error
			out, err = g.embed.EmbedBatch(ctx, texts)
			return err
		})
	})
	g.observe("embed_batch", start, err)
	return out, err
}
