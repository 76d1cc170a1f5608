package wire

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complimo/complimo/engine/ingest"
	"github.com/complimo/complimo/pkg/config"
	"github.com/complimo/complimo/pkg/metrics"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestIndex_Local(t *testing.T) {
	dir := t.TempDir()
	idx, err := Index(config.IndexConfig{Backend: "local", Dir: dir})
	require.NoError(t, err)
	defer idx.Close()

	_, err = os.Stat(filepath.Join(dir, "index.db"))
	assert.NoError(t, err)
}

func TestIndex_UnknownBackend(t *testing.T) {
	_, err := Index(config.IndexConfig{Backend: "chroma"})
	assert.ErrorContains(t, err, "unknown index backend")
}

func TestModels(t *testing.T) {
	cfg := config.Default()
	cfg.Model.APIKey = ""
	_, err := Models(cfg, metrics.New(), quiet)
	assert.ErrorContains(t, err, "API key")

	cfg.Model.APIKey = "sk-test"
	g, err := Models(cfg, metrics.New(), quiet)
	require.NoError(t, err)
	assert.NotNil(t, g)

	cfg.Model.Provider = "ollama"
	g, err = Models(cfg, metrics.New(), quiet)
	require.NoError(t, err)
	assert.NotNil(t, g)

	cfg.Model.Provider = "bedrock"
	_, err = Models(cfg, metrics.New(), quiet)
	assert.Error(t, err)
}

func TestOptionalServices(t *testing.T) {
	l, err := Ledger(context.Background(), config.Neo4jConfig{}, quiet)
	require.NoError(t, err)
	assert.Nil(t, l)

	nc, err := NATS(config.NATSConfig{}, "test", quiet)
	require.NoError(t, err)
	assert.Nil(t, nc)
}

func TestConversions(t *testing.T) {
	assert.Equal(t, ingest.ChunkPolicy{Size: 1000, Overlap: 200}, ChunkPolicy(config.ChunkingConfig{Size: 1000, Overlap: 200}))

	r := Retry(config.RetryConfig{MaxAttempts: 4, InitialWait: time.Second, MaxWait: 8 * time.Second})
	assert.Equal(t, 4, r.MaxAttempts)
	assert.Equal(t, 8*time.Second, r.MaxWait)
	assert.True(t, r.Jitter)
}
