// Package main implements the Complimo API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/complimo/complimo/engine/analysis"
	"github.com/complimo/complimo/engine/compliance"
	"github.com/complimo/complimo/engine/dataset"
	"github.com/complimo/complimo/engine/ingest"
	"github.com/complimo/complimo/engine/rag"
	"github.com/complimo/complimo/engine/report"
	"github.com/complimo/complimo/engine/wire"
	"github.com/complimo/complimo/pkg/config"
	"github.com/complimo/complimo/pkg/metrics"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load("", "")
	if err != nil {
		logger.Error("config", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()

	// --- Models ---
	models, err := wire.Models(cfg, reg, logger)
	if err != nil {
		return fmt.Errorf("models: %w", err)
	}

	// --- Vector index ---
	index, err := wire.Index(cfg.Index)
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}
	defer index.Close()

	// --- Optional ledger and broker ---
	ledger, err := wire.Ledger(ctx, cfg.Neo4j, logger)
	if err != nil {
		logger.Warn("ledger disabled", "err", err)
		ledger = nil
	}
	if ledger != nil {
		defer ledger.Close(context.Background())
	}
	nc, err := wire.NATS(cfg.NATS, "complimo-api", logger)
	if err != nil {
		return err
	}
	if nc != nil {
		defer nc.Drain()
	}

	// --- Engine ---
	temp := cfg.Model.Temperature
	ingestDeps := ingest.Deps{
		Indexer: ingest.NewIndexer(models, index, cfg.Model.EmbedBatchSize, logger),
		Logger:  logger,
	}
	if ledger != nil {
		ingestDeps.Recorder = ledger
	}
	retriever := rag.NewRetriever(models, index, cfg.Index.Collection, logger)
	chatOpts := rag.DefaultOptions()
	chatOpts.TopK = cfg.TopK.Chat
	chatOpts.Temperature = temp
	narrator := analysis.NewNarrator(models, temp, logger)
	queries := analysis.NewQuerySynthesizer(models, temp)

	complianceDeps := compliance.Deps{
		Narrator:  narrator,
		Queries:   queries,
		Retriever: retriever,
		Evaluator: compliance.NewEvaluator(models, wire.Retry(cfg.Retry), temp, logger),
		TopK:      cfg.TopK.Compliance,
		Logger:    logger,
	}
	if ledger != nil {
		complianceDeps.Recorder = ledger
	}

	srv := &Server{
		Ingest:     ingest.NewService(ingestDeps),
		Documents:  index,
		Collection: cfg.Index.Collection,
		UploadDir:  cfg.UploadDir,
		Policy:     wire.ChunkPolicy(cfg.Chunking),
		Chat:       rag.New(retriever, models, chatOpts, logger),
		Compliance: compliance.NewPipeline(complianceDeps),
		Reports: &report.Generator{
			Queries:   queries,
			Retriever: retriever,
			Narrator:  narrator,
			Renderer:  report.NewRenderer(models, temp),
			TopK:      cfg.TopK.Report,
			Buckets:   cfg.Limits.ReportBucket,
			Logger:    logger,
		},
		Dataset:  dataset.NewSource(cfg.Dataset),
		Registry: reg,
		Logger:   logger,
		CORS:     cfg.CORSOrigin,
		MaxBody:  cfg.Limits.MaxBodyBytes,
	}
	if ledger != nil {
		srv.Evaluations = ledger
	}
	if nc != nil {
		subject := cfg.NATS.Subject
		srv.Submit = func(ctx context.Context, job ingest.Job) (string, error) {
			return ingest.Submit(ctx, nc, subject, job)
		}
	}

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Routes(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "index", cfg.Index.Backend,
			"provider", cfg.Model.Provider, "ledger", ledger != nil, "nats", nc != nil)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}
