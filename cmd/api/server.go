package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/complimo/complimo/engine/compliance"
	"github.com/complimo/complimo/engine/dataset"
	"github.com/complimo/complimo/engine/domain"
	"github.com/complimo/complimo/engine/ingest"
	"github.com/complimo/complimo/engine/ledger"
	"github.com/complimo/complimo/engine/rag"
	"github.com/complimo/complimo/engine/report"
	"github.com/complimo/complimo/pkg/metrics"
	"github.com/complimo/complimo/pkg/mid"
)

// Ingester indexes uploaded documents.
type Ingester interface {
	Ingest(ctx context.Context, job ingest.Job) (ingest.Result, error)
	Clear(ctx context.Context, collection string) error
}

// Lister enumerates stored chunks.
type Lister interface {
	List(ctx context.Context, collection string, limit int) ([]domain.Chunk, error)
}

// Chatter answers questions over the regulation corpus.
type Chatter interface {
	Query(ctx context.Context, q rag.Question) (*rag.Answer, error)
}

// Checker runs a compliance check.
type Checker interface {
	Check(ctx context.Context, req compliance.Request) (compliance.Verdict, error)
}

// Reporter renders an HTML report for a table.
type Reporter interface {
	Generate(ctx context.Context, t domain.Table, columns []string) (report.Report, error)
}

// Evaluations reads past compliance verdicts.
type Evaluations interface {
	Recent(ctx context.Context, limit int) ([]ledger.Evaluation, error)
	Evaluation(ctx context.Context, id string) (ledger.Evaluation, error)
}

// SubmitFunc queues a job for asynchronous ingestion and returns the
// message id.
type SubmitFunc func(ctx context.Context, job ingest.Job) (string, error)

const defaultMaxBody = 64 << 20

// Server holds the HTTP handlers' dependencies. Evaluations and Submit
// are optional.
type Server struct {
	Ingest      Ingester
	Documents   Lister
	Collection  string
	UploadDir   string
	Policy      ingest.ChunkPolicy
	Chat        Chatter
	Compliance  Checker
	Reports     Reporter
	Dataset     *dataset.Source
	Evaluations Evaluations
	Submit      SubmitFunc
	Registry    *metrics.Registry
	Logger      *slog.Logger
	CORS        []string
	MaxBody     int64
}

// Routes builds the handler tree with middleware applied.
func (s *Server) Routes() http.Handler {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.Registry == nil {
		s.Registry = metrics.New()
	}
	if s.MaxBody <= 0 {
		s.MaxBody = defaultMaxBody
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/documents", s.handleUpload)
	mux.HandleFunc("GET /api/documents", s.handleListDocuments)
	mux.HandleFunc("DELETE /api/documents", s.handleClearDocuments)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/metrics/{index}", s.handleMetrics)
	mux.HandleFunc("POST /api/compliance", s.handleCompliance)
	mux.HandleFunc("GET /api/report", s.handleReport)
	mux.HandleFunc("GET /api/evaluations", s.handleEvaluations)
	mux.HandleFunc("GET /api/evaluations/{id}", s.handleEvaluation)
	mux.Handle("GET /metrics", s.Registry.Handler())

	return mid.Chain(mux,
		mid.Recover(s.Logger),
		mid.RequestID(),
		mid.OTel("complimo-api"),
		mid.Logger(s.Logger),
		mid.CORS(s.CORS...),
		mid.MaxBody(s.MaxBody),
		mid.Metrics(s.Registry),
	)
}
