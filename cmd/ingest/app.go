package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/complimo/complimo/engine/ingest"
	"github.com/complimo/complimo/engine/ledger"
	"github.com/complimo/complimo/engine/semantic"
	"github.com/complimo/complimo/engine/wire"
	"github.com/complimo/complimo/pkg/config"
	"github.com/complimo/complimo/pkg/metrics"
)

type options struct {
	configPath  string
	envFile     string
	collection  string
	policy      string
	metricsAddr string
	verbose     bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "ingest",
		Short:         "Index regulation PDFs for compliance retrieval",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	f := root.PersistentFlags()
	f.StringVarP(&opts.configPath, "config", "c", "", "YAML config file (default: $COMPLIMO_CONFIG or config.yaml)")
	f.StringVar(&opts.envFile, "env", "", "dotenv file (default: .env)")
	f.StringVar(&opts.collection, "collection", "", "index collection (default from config)")
	f.StringVar(&opts.policy, "policy", "", "chunking preset: discovery or bulk (default from config)")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9091")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newFileCmd(opts),
		newFolderCmd(opts),
		newWatchCmd(opts),
		newWorkerCmd(opts),
		newClearCmd(opts),
	)
	return root
}

// app is the wired ingestion stack shared by every subcommand.
type app struct {
	cfg        config.Config
	log        *slog.Logger
	reg        *metrics.Registry
	index      semantic.Index
	ledger     *ledger.Ledger
	svc        *ingest.Service
	collection string
	policy     ingest.ChunkPolicy
	out        io.Writer

	files  *metrics.Counter
	chunks *metrics.Counter
	errs   *metrics.Counter
}

func (o *options) open(cmd *cobra.Command) (*app, error) {
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(o.configPath, o.envFile)
	if err != nil {
		return nil, err
	}

	policy := wire.ChunkPolicy(cfg.Chunking)
	if o.policy != "" {
		if policy, err = ingest.PolicyByName(o.policy); err != nil {
			return nil, err
		}
	}
	collection := cfg.Index.Collection
	if o.collection != "" {
		collection = o.collection
	}

	reg := metrics.New()
	models, err := wire.Models(cfg, reg, log)
	if err != nil {
		return nil, err
	}
	index, err := wire.Index(cfg.Index)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:        cfg,
		log:        log,
		reg:        reg,
		index:      index,
		collection: collection,
		policy:     policy,
		out:        cmd.OutOrStdout(),
		files:      reg.Counter("complimo_ingest_files_total", "Documents ingested"),
		chunks:     reg.Counter("complimo_ingest_chunks_total", "Chunks indexed"),
		errs:       reg.Counter("complimo_ingest_errors_total", "Documents that failed ingestion"),
	}

	deps := ingest.Deps{
		Indexer: ingest.NewIndexer(models, index, cfg.Model.EmbedBatchSize, log),
		Logger:  log,
	}
	led, err := wire.Ledger(cmd.Context(), cfg.Neo4j, log)
	if err != nil {
		log.Warn("ledger disabled", "err", err)
	} else if led != nil {
		a.ledger = led
		deps.Recorder = led
	}
	a.svc = ingest.NewService(deps)
	return a, nil
}

func (a *app) Close() {
	if a.ledger != nil {
		_ = a.ledger.Close(context.Background())
	}
	if err := a.index.Close(); err != nil {
		a.log.Warn("index close", "err", err)
	}
}

// observe counts one finished document.
func (a *app) observe(res ingest.Result, err error) {
	if err != nil {
		a.errs.Inc()
		return
	}
	a.files.Inc()
	a.chunks.Add(int64(res.Chunks))
}

// emit writes v as one JSON line to stdout.
func (a *app) emit(v any) error {
	return json.NewEncoder(a.out).Encode(v)
}

// serveMetrics exposes the registry until ctx is done. A blank addr is a
// no-op.
func (a *app) serveMetrics(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", a.reg.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()
	a.log.Info("metrics listening", "addr", addr)
}

type fileLine struct {
	Path        string `json:"path"`
	Chunks      int    `json:"chunks"`
	IngestionID string `json:"ingestion_id"`
	Error       string `json:"error,omitempty"`
}

func lineOf(res ingest.Result, err error) fileLine {
	l := fileLine{Path: res.Path, Chunks: res.Chunks, IngestionID: res.IngestionID}
	if err != nil {
		l.Error = err.Error()
	}
	return l
}

func failures(n int) error {
	if n == 0 {
		return nil
	}
	return fmt.Errorf("%d file(s) failed", n)
}
