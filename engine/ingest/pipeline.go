// Package ingest turns regulatory PDFs into indexed chunks through a staged
// pipeline: validate, load, chunk, then embed and store.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/complimo/complimo/engine/domain"
	"github.com/complimo/complimo/pkg/fn"
)

// Recorder is notified of every ingested document. The ledger implements it.
type Recorder interface {
	RecordDocument(ctx context.Context, res Result, meta map[string]any) error
}

// Deps holds the external dependencies for the ingestion pipeline.
type Deps struct {
	Indexer  *Indexer
	Loader   Loader // nil means LoadPDF
	Recorder Recorder
	Now      func() time.Time
	Logger   *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// NewIngestionID returns a fresh, time-sortable ingestion id.
func NewIngestionID() string { return ulid.Make().String() }

// Validate checks a Job and fills its defaults.
var Validate fn.Stage[Job, Job] = func(_ context.Context, job Job) fn.Result[Job] {
	if job.Path == "" {
		return fn.Err[Job](domain.NewValidationError("path", "", domain.ErrInvalidInput))
	}
	if !IsPDF(job.Path) {
		return fn.Err[Job](domain.NewValidationError("path", filepath.Ext(job.Path), domain.ErrUnsupportedFormat))
	}
	if err := domain.ValidateCollection(job.Collection); err != nil {
		return fn.Err[Job](err)
	}
	if job.Policy == (ChunkPolicy{}) {
		job.Policy = DiscoveryPolicy
	}
	if err := job.Policy.Validate(); err != nil {
		return fn.Err[Job](err)
	}
	if job.IngestionID == "" {
		job.IngestionID = NewIngestionID()
	}
	return fn.Ok(job)
}

// NewLoad creates the stage that extracts page text.
func NewLoad(load Loader) fn.Stage[Job, LoadedDoc] {
	if load == nil {
		load = LoadPDF
	}
	return func(ctx context.Context, job Job) fn.Result[LoadedDoc] {
		pages, err := load(ctx, job.Path)
		if err != nil {
			return fn.Err[LoadedDoc](err)
		}
		return fn.Ok(LoadedDoc{Job: job, Pages: pages})
	}
}

// NewChunk creates the stage that splits pages into stamped chunks.
func NewChunk(now func() time.Time) fn.Stage[LoadedDoc, ChunkedDoc] {
	return func(_ context.Context, doc LoadedDoc) fn.Result[ChunkedDoc] {
		c := NewChunker(doc.Policy)
		if now != nil {
			c.Now = now
		}
		meta := map[string]any{domain.MetaIngestionID: doc.IngestionID}
		for k, v := range doc.Metadata {
			meta[k] = v
		}
		return fn.Ok(ChunkedDoc{Job: doc.Job, Chunks: c.Chunk(doc.Path, doc.Pages, meta)})
	}
}

// NewStore creates the stage that embeds and indexes the chunks.
func NewStore(ix *Indexer, rec Recorder, log *slog.Logger) fn.Stage[ChunkedDoc, Result] {
	return func(ctx context.Context, doc ChunkedDoc) fn.Result[Result] {
		n, err := ix.Upsert(ctx, doc.Collection, doc.Chunks)
		if err != nil {
			return fn.Err[Result](err)
		}
		res := Result{IngestionID: doc.IngestionID, Path: doc.Path, Filename: filepath.Base(doc.Path), Chunks: n}
		if rec != nil {
			if err := rec.RecordDocument(ctx, res, doc.Metadata); err != nil {
				log.Warn("ingest: ledger record failed", "error", err, "path", doc.Path)
			}
		}
		return fn.Ok(res)
	}
}

// LoggedTap returns a stage that logs entry/exit with duration.
func LoggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return func(ctx context.Context, t T) fn.Result[T] {
		log.Debug("stage.enter", "stage", name)
		start := time.Now()
		defer func() {
			log.Debug("stage.exit", "stage", name, "duration", time.Since(start))
		}()
		return fn.Ok(t)
	}
}

// NewPipeline constructs the full ingestion pipeline with all stages wired.
func NewPipeline(deps Deps) fn.Stage[Job, Result] {
	log := deps.logger()

	validated := fn.Then(LoggedTap[Job]("validate", log), Validate)
	loaded := fn.Then(validated, fn.Then(LoggedTap[Job]("load", log), NewLoad(deps.Loader)))
	chunked := fn.Then(loaded, fn.Then(LoggedTap[LoadedDoc]("chunk", log), NewChunk(deps.Now)))
	stored := fn.Then(chunked, fn.Then(LoggedTap[ChunkedDoc]("store", log), NewStore(deps.Indexer, deps.Recorder, log)))

	return stored
}

// Service runs jobs through the pipeline.
type Service struct {
	pipeline fn.Stage[Job, Result]
	indexer  *Indexer
	log      *slog.Logger
}

// NewService wires a Service from deps.
func NewService(deps Deps) *Service {
	return &Service{pipeline: NewPipeline(deps), indexer: deps.Indexer, log: deps.logger()}
}

// Ingest runs one job synchronously.
func (s *Service) Ingest(ctx context.Context, job Job) (Result, error) {
	res, err := s.pipeline(ctx, job).Unwrap()
	if err != nil {
		return Result{}, fmt.Errorf("ingest %s: %w", filepath.Base(job.Path), err)
	}
	s.log.Info("ingest: document indexed", "path", res.Path, "chunks", res.Chunks, "ingestion_id", res.IngestionID)
	return res, nil
}

// Clear deletes the collection.
func (s *Service) Clear(ctx context.Context, collection string) error {
	return s.indexer.DeleteCollection(ctx, collection)
}
