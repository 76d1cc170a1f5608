package ingest

import (
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complimo/complimo/engine/domain"
)

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(w, " ")
}

func TestSplitRespectsSizeAndOverlaps(t *testing.T) {
	p := ChunkPolicy{Size: 50, Overlap: 20}
	chunks := Split(words(300), p)
	require.Greater(t, len(chunks), 10)
	for i, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), p.Size, "chunk %d too long", i)
		if i > 0 {
			first := strings.Fields(c)[0]
			assert.Contains(t, strings.Fields(chunks[i-1]), first, "chunk %d should start inside the previous window", i)
		}
	}
	assert.True(t, strings.HasPrefix(chunks[0], "w0 "))
	assert.True(t, strings.HasSuffix(chunks[len(chunks)-1], "w299"))
}

func TestSplitPrefersParagraphs(t *testing.T) {
	text := "para one text.\n\npara two text."
	assert.Equal(t, []string{"para one text.", "para two text."}, Split(text, ChunkPolicy{Size: 20, Overlap: 5}))
	assert.Equal(t, []string{text}, Split(text, ChunkPolicy{Size: 100, Overlap: 5}))
}

func TestSplitHardCutsLongTokens(t *testing.T) {
	chunks := Split(strings.Repeat("x", 25), ChunkPolicy{Size: 10, Overlap: 2})
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 10)
	}
	assert.Len(t, chunks[2], 9)
}

func TestSplitEmpty(t *testing.T) {
	assert.Empty(t, Split("", DiscoveryPolicy))
	assert.Empty(t, Split("   \n\n  ", DiscoveryPolicy))
}

func TestSplitPresets(t *testing.T) {
	text := strings.Repeat(words(200)+"\n\n", 20)
	for _, p := range []ChunkPolicy{DiscoveryPolicy, BulkPolicy} {
		for _, c := range Split(text, p) {
			assert.LessOrEqual(t, utf8.RuneCountInString(c), p.Size)
		}
	}
	assert.Greater(t, len(Split(text, DiscoveryPolicy)), len(Split(text, BulkPolicy)))
}

func TestPolicyByName(t *testing.T) {
	p, err := PolicyByName("")
	require.NoError(t, err)
	assert.Equal(t, DiscoveryPolicy, p)
	p, err = PolicyByName("BULK")
	require.NoError(t, err)
	assert.Equal(t, BulkPolicy, p)
	_, err = PolicyByName("huge")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	assert.Error(t, ChunkPolicy{Size: 10, Overlap: 10}.Validate())
	assert.NoError(t, BulkPolicy.Validate())
}

func TestChunkerStampsMetadata(t *testing.T) {
	fixed := time.Date(2025, 3, 20, 9, 30, 0, 0, time.UTC)
	c := &Chunker{Policy: ChunkPolicy{Size: 30, Overlap: 0}, Now: func() time.Time { return fixed }}

	chunks := c.Chunk("/data/ASHRAE_62_1.pdf", []Page{
		{Number: 1, Text: "Outdoor air shall be provided."},
		{Number: 2, Text: "Exhaust rates are listed in Table 6-4 below."},
	}, map[string]any{"organization": "ASHRAE", domain.MetaFilename: "override.pdf"})

	require.GreaterOrEqual(t, len(chunks), 3)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Seq)
		assert.Equal(t, "/data/ASHRAE_62_1.pdf", ch.Metadata[domain.MetaSource])
		assert.Equal(t, "override.pdf", ch.Metadata[domain.MetaFilename], "caller metadata is applied last")
		assert.Equal(t, "ASHRAE", ch.Metadata["organization"])
		assert.True(t, fixed.Equal(ingestedAt(t, ch)))
	}
	assert.Equal(t, 1, chunks[0].Metadata["page"])
	assert.Equal(t, 2, chunks[len(chunks)-1].Metadata["page"])
}

func ingestedAt(t *testing.T, ch domain.Chunk) time.Time {
	t.Helper()
	s, _ := ch.Metadata[domain.MetaIngestionDate].(string)
	ts, err := time.Parse(time.RFC3339Nano, s)
	require.NoError(t, err)
	return ts
}
