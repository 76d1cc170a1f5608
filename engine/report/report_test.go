package report

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complimo/complimo/engine/analysis"
	"github.com/complimo/complimo/engine/domain"
	"github.com/complimo/complimo/engine/rag"
	"github.com/complimo/complimo/pkg/llm"
)

type routedChat struct {
	replies map[string]string
	err     error
	calls   []llm.ChatRequest
}

func (c *routedChat) Chat(_ context.Context, req llm.ChatRequest) (string, error) {
	c.calls = append(c.calls, req)
	if c.err != nil {
		return "", c.err
	}
	for prefix, reply := range c.replies {
		if strings.HasPrefix(req.System, prefix) {
			return reply, nil
		}
	}
	return "", errors.New("unexpected prompt")
}

type fakeSearcher struct {
	k     int
	query string
	err   error
}

func (f *fakeSearcher) Search(_ context.Context, query string, k int) ([]rag.ScoredChunk, error) {
	f.k, f.query = k, query
	return []rag.ScoredChunk{{Chunk: domain.Chunk{Text: "Annual maintenance is required."}}}, f.err
}

func series(n int) domain.Table {
	rows := make([]domain.Row, n)
	for i := range rows {
		rows[i] = domain.Row{"Time": "t", "Power_W": float64(i)}
	}
	return domain.Table{Rows: rows}
}

func TestAggregate(t *testing.T) {
	got := Aggregate(series(10), 3)
	require.Equal(t, 3, got.Len())
	// Buckets of 4, 4, 2 rows.
	assert.Equal(t, 1.5, got.Rows[0]["Power_W"])
	assert.Equal(t, 5.5, got.Rows[1]["Power_W"])
	assert.Equal(t, 8.5, got.Rows[2]["Power_W"])
	assert.Equal(t, "t", got.Rows[0]["Time"])
}

func TestAggregate_SmallTableUnchanged(t *testing.T) {
	in := series(3)
	assert.Equal(t, in, Aggregate(in, 5))
	assert.Equal(t, in, Aggregate(in, 0))
}

func TestRender_Verbatim(t *testing.T) {
	doc := "<!DOCTYPE html><html><body><h1>Report</h1></body></html>\n"
	chat := &routedChat{replies: map[string]string{"You are a data analysis expert creating": doc}}

	out, err := NewRenderer(chat, 0.1).Render(context.Background(), Input{
		Columns:      []string{"Time", "Power_W"},
		Series:       series(2),
		Requirements: "Document 1:\nAnnual maintenance is required.\n",
	})
	require.NoError(t, err)
	assert.Equal(t, Report(doc), out)

	req := chat.calls[0]
	assert.Contains(t, req.System, "The data columns are as follows, Time, Power_W.")
	assert.Contains(t, req.System, "HTML")
	assert.Contains(t, req.Messages[0].Content, "Annual maintenance is required.")
	assert.Contains(t, req.Messages[0].Content, `"Power_W":1`)
}

func TestRender_Failure(t *testing.T) {
	_, err := NewRenderer(&routedChat{err: errors.New("down")}, 0).Render(context.Background(), Input{})
	assert.ErrorIs(t, err, domain.ErrUpstream)
}

func TestGenerate(t *testing.T) {
	chat := &routedChat{replies: map[string]string{
		"Based on the tabular data":               "HVAC insurance maintenance requirements",
		"You are a data analysis expert. The data": "Power rises steadily.",
		"You are a data analysis expert creating":  "<html>ok</html>",
	}}
	search := &fakeSearcher{}
	g := &Generator{
		Queries:   analysis.NewQuerySynthesizer(chat, 0),
		Retriever: search,
		Narrator:  analysis.NewNarrator(chat, 0, nil),
		Renderer:  NewRenderer(chat, 0),
		Buckets:   5,
	}

	out, err := g.Generate(context.Background(), series(20), nil)
	require.NoError(t, err)
	assert.Equal(t, Report("<html>ok</html>"), out)
	assert.Equal(t, 10, search.k)
	assert.Equal(t, "HVAC insurance maintenance requirements", search.query)

	require.Len(t, chat.calls, 3)
	render := chat.calls[2].Messages[0].Content
	assert.Contains(t, render, "Power rises steadily.")
	assert.Contains(t, render, "Document 1:\nAnnual maintenance is required.")
}

func TestGenerate_Errors(t *testing.T) {
	chat := &routedChat{replies: map[string]string{"Based on the tabular data": "q"}}
	g := &Generator{
		Queries:   analysis.NewQuerySynthesizer(chat, 0),
		Retriever: &fakeSearcher{err: domain.ErrIndexUnavailable},
		Narrator:  analysis.NewNarrator(chat, 0, nil),
		Renderer:  NewRenderer(chat, 0),
	}

	_, err := g.Generate(context.Background(), domain.Table{}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = g.Generate(context.Background(), series(2), nil)
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
}
