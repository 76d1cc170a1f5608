// Package ledger keeps an audit graph in Neo4j: which documents were
// ingested, and which regulations each compliance verdict cited.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/complimo/complimo/engine/compliance"
	"github.com/complimo/complimo/engine/domain"
	"github.com/complimo/complimo/engine/ingest"
	"github.com/complimo/complimo/pkg/repo"
)

// timeLayout keeps fractional seconds fixed-width so stored timestamps sort
// lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Evaluation is a stored verdict.
type Evaluation struct {
	ID          string                    `json:"id"`
	Status      string                    `json:"status"`
	Query       string                    `json:"query"`
	Strategy    string                    `json:"strategy"`
	FinalAnswer string                    `json:"final_answer"`
	EvaluatedAt time.Time                 `json:"evaluated_at"`
	Records     []domain.ComplianceRecord `json:"records"`
}

// Ledger writes ingestion and evaluation events.
type Ledger struct {
	driver      neo4j.DriverWithContext
	sessions    repo.SessionFunc
	evaluations *repo.Neo4jRepo[Evaluation, string]
	logger      *slog.Logger
}

// Open connects to Neo4j and verifies the connection.
func Open(ctx context.Context, url, user, pass string, logger *slog.Logger) (*Ledger, error) {
	driver, err := neo4j.NewDriverWithContext(url, neo4j.BasicAuth(user, pass, ""))
	if err != nil {
		return nil, fmt.Errorf("ledger: driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("ledger: connect %s: %w", url, err)
	}
	l := New(repo.DriverSessions(driver, ""), logger)
	l.driver = driver
	return l, nil
}

// New creates a Ledger over an existing session source.
func New(sessions repo.SessionFunc, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		sessions:    sessions,
		evaluations: repo.NewNeo4jRepo[Evaluation, string](sessions, "Evaluation", evaluationToMap, evaluationFromRecord),
		logger:      logger,
	}
}

// Close releases the driver when Open created it.
func (l *Ledger) Close(ctx context.Context) error {
	if l.driver == nil {
		return nil
	}
	return l.driver.Close(ctx)
}

func (l *Ledger) run(ctx context.Context, cypher string, params map[string]any) error {
	sess := l.sessions(ctx)
	defer sess.Close(ctx)
	res, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return err
	}
	for res.Next(ctx) {
	}
	return res.Err()
}

const recordDocumentCypher = `MERGE (d:Document {path: $path})
SET d.filename = $filename, d += $meta, d.last_ingested = $at
CREATE (i:Ingestion {id: $ingestion_id, chunks: $chunks, at: $at})-[:INGESTED]->(d)`

// RecordDocument stores an ingested file and the ingestion that produced it.
func (l *Ledger) RecordDocument(ctx context.Context, res ingest.Result, meta map[string]any) error {
	err := l.run(ctx, recordDocumentCypher, map[string]any{
		"path":         res.Path,
		"filename":     filepath.Base(res.Path),
		"meta":         scalarProps(meta),
		"ingestion_id": res.IngestionID,
		"chunks":       res.Chunks,
		"at":           time.Now().UTC().Format(timeLayout),
	})
	if err != nil {
		return fmt.Errorf("ledger: record document %s: %w", res.Path, err)
	}
	return nil
}

const linkEvaluationCypher = `MATCH (e:Evaluation {id: $id})
UNWIND $findings AS f
CREATE (e)-[:FOUND]->(:Finding {regulation: f.regulation, status: f.status, compliance_issues: f.compliance_issues, next_steps: f.next_steps})`

const citeCypher = `MATCH (e:Evaluation {id: $id})
MATCH (d:Document) WHERE d.path IN $sources
MERGE (e)-[:CITED]->(d)`

// RecordEvaluation stores a verdict with its findings and cited documents.
func (l *Ledger) RecordEvaluation(ctx context.Context, v compliance.Verdict) error {
	ev := Evaluation{
		ID:          v.ID,
		Status:      string(v.Status),
		Query:       v.Query,
		Strategy:    string(v.Strategy),
		FinalAnswer: v.FinalAnswer,
		EvaluatedAt: v.EvaluatedAt,
		Records:     v.Records,
	}
	if _, err := l.evaluations.Create(ctx, ev); err != nil {
		return fmt.Errorf("ledger: record evaluation %s: %w", v.ID, err)
	}

	if len(v.Records) > 0 {
		findings := make([]map[string]any, len(v.Records))
		for i, r := range v.Records {
			findings[i] = map[string]any{
				"regulation":        r.Regulation,
				"status":            string(r.Status),
				"compliance_issues": r.ComplianceIssues,
				"next_steps":        r.NextSteps,
			}
		}
		if err := l.run(ctx, linkEvaluationCypher, map[string]any{"id": v.ID, "findings": findings}); err != nil {
			return fmt.Errorf("ledger: findings of %s: %w", v.ID, err)
		}
	}
	if len(v.Sources) > 0 {
		if err := l.run(ctx, citeCypher, map[string]any{"id": v.ID, "sources": v.Sources}); err != nil {
			return fmt.Errorf("ledger: citations of %s: %w", v.ID, err)
		}
	}
	l.logger.Debug("ledger: evaluation recorded", "id", v.ID, "findings", len(v.Records), "sources", len(v.Sources))
	return nil
}

// Recent returns the latest evaluations, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Evaluation, error) {
	evs, err := l.evaluations.List(ctx, repo.ListOpts{Limit: limit, OrderBy: "evaluated_at", Desc: true})
	if err != nil {
		return nil, fmt.Errorf("ledger: recent: %w", err)
	}
	return evs, nil
}

// Evaluation returns one stored verdict.
func (l *Ledger) Evaluation(ctx context.Context, id string) (Evaluation, error) {
	return l.evaluations.Get(ctx, id)
}

func evaluationToMap(e Evaluation) map[string]any {
	records, _ := json.Marshal(e.Records)
	return map[string]any{
		"id":           e.ID,
		"status":       e.Status,
		"query":        e.Query,
		"strategy":     e.Strategy,
		"final_answer": e.FinalAnswer,
		"evaluated_at": e.EvaluatedAt.UTC().Format(timeLayout),
		"records":      string(records),
	}
}

func evaluationFromRecord(rec *neo4j.Record) (Evaluation, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return Evaluation{}, err
	}
	p := node.Props
	e := Evaluation{
		ID:          strProp(p, "id"),
		Status:      strProp(p, "status"),
		Query:       strProp(p, "query"),
		Strategy:    strProp(p, "strategy"),
		FinalAnswer: strProp(p, "final_answer"),
	}
	if t, err := time.Parse(time.RFC3339Nano, strProp(p, "evaluated_at")); err == nil {
		e.EvaluatedAt = t
	}
	if raw := strProp(p, "records"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &e.Records); err != nil {
			return Evaluation{}, fmt.Errorf("ledger: decode records of %s: %w", e.ID, err)
		}
	}
	return e, nil
}

func strProp(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}

// scalarProps keeps the values Neo4j can store as node properties.
func scalarProps(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		switch v.(type) {
		case string, bool, int, int64, float64:
			out[k] = v
		}
	}
	return out
}
