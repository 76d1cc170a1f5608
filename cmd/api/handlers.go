package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/complimo/complimo/engine/compliance"
	"github.com/complimo/complimo/engine/dataset"
	"github.com/complimo/complimo/engine/domain"
	"github.com/complimo/complimo/engine/ingest"
	"github.com/complimo/complimo/engine/rag"
)

const (
	maxMultipartMemory = 32 << 20
	defaultListLimit   = 20
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// --- Documents ---

type uploadResponse struct {
	Message      string   `json:"message"`
	Count        int      `json:"count"`
	IndexedFiles []string `json:"indexed_files"`
	IngestionID  string   `json:"ingestion_id"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, s.Logger, err)
			return
		}
		writeError(w, s.Logger, fmt.Errorf("%w: %w", invalid("files", "multipart"), err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, s.Logger, invalid("files", ""))
		return
	}
	for _, fh := range files {
		if !ingest.IsPDF(fh.Filename) {
			writeError(w, s.Logger, domain.NewValidationError("files", fh.Filename, domain.ErrUnsupportedFormat))
			return
		}
	}

	policy := s.Policy
	if name := r.FormValue("policy"); name != "" {
		p, err := ingest.PolicyByName(name)
		if err != nil {
			writeError(w, s.Logger, err)
			return
		}
		policy = p
	}

	var extra map[string]any
	if raw := r.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &extra); err != nil {
			writeError(w, s.Logger, invalid("metadata", raw))
			return
		}
	}

	if err := os.MkdirAll(s.UploadDir, 0o755); err != nil {
		writeError(w, s.Logger, fmt.Errorf("upload dir: %w", err))
		return
	}

	async := s.Submit != nil && r.FormValue("async") == "true"
	id := ingest.NewIngestionID()
	resp := uploadResponse{IngestionID: id, IndexedFiles: []string{}}

	for i, fh := range files {
		name, path, err := s.save(fh, fmt.Sprintf("%s_%d_", id, i))
		if err != nil {
			writeError(w, s.Logger, err)
			return
		}
		meta := ingest.MetadataFromFilename(name)
		meta[domain.MetaFilename] = name
		maps.Copy(meta, extra)
		job := ingest.Job{
			IngestionID: id,
			Path:        path,
			Collection:  s.Collection,
			Metadata:    meta,
			Policy:      policy,
		}

		if async {
			if _, err := s.Submit(r.Context(), job); err != nil {
				writeError(w, s.Logger, domain.Upstream("queue ingest", err))
				return
			}
		} else {
			res, err := s.Ingest.Ingest(r.Context(), job)
			if err != nil {
				writeError(w, s.Logger, err)
				return
			}
			resp.Count += res.Chunks
		}
		resp.IndexedFiles = append(resp.IndexedFiles, name)
	}

	if async {
		resp.Message = "PDFs queued for indexing"
		writeJSON(w, http.StatusAccepted, resp)
		return
	}
	resp.Message = "PDFs indexed successfully"
	writeJSON(w, http.StatusOK, resp)
}

// save copies an uploaded file into UploadDir as prefix+base name and returns
// the base name and the stored path. The prefix keeps same-name uploads apart.
func (s *Server) save(fh *multipart.FileHeader, prefix string) (string, string, error) {
	name := filepath.Base(fh.Filename)
	if name == "." || name == string(filepath.Separator) {
		return "", "", invalid("files", fh.Filename)
	}
	src, err := fh.Open()
	if err != nil {
		return "", "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	path := filepath.Join(s.UploadDir, prefix+name)
	dst, err := os.Create(path)
	if err != nil {
		return "", "", fmt.Errorf("save upload: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", "", fmt.Errorf("save upload: %w", err)
	}
	return name, path, dst.Close()
}

type documentView struct {
	Content  string         `json:"content"`
	Source   string         `json:"source"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	chunks, err := s.Documents.List(r.Context(), s.Collection, limit)
	if err != nil && !isUnavailable(err) {
		writeError(w, s.Logger, err)
		return
	}
	docs := make([]documentView, 0, len(chunks))
	for _, c := range chunks {
		docs = append(docs, documentView{Content: c.Text, Source: c.Source(), Metadata: c.Metadata})
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(docs), "documents": docs})
}

func (s *Server) handleClearDocuments(w http.ResponseWriter, r *http.Request) {
	if err := s.Ingest.Clear(r.Context(), s.Collection); err != nil && !isUnavailable(err) {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Documents cleared"})
}

// --- Chat ---

type chatRequest struct {
	Query               string          `json:"query"`
	ConversationHistory []domain.Turn   `json:"conversation_history"`
	SensorData          json.RawMessage `json:"sensor_data,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.Logger, fmt.Errorf("%w: %w", invalid("body", "json"), err))
		return
	}
	rows, err := decodeRows("sensor_data", req.SensorData)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}

	q := rag.Question{Query: req.Query, History: req.ConversationHistory}
	if len(rows) > 0 {
		q.Sensor = &domain.Table{Rows: rows}
	}
	ans, err := s.Chat.Query(r.Context(), q)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

// --- Sensor data ---

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, s.Logger, invalid("index", r.PathValue("index")))
		return
	}
	ds, err := s.Dataset.Get()
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	row, err := ds.Row(idx)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dataset.Envelope{HVACMetrics: dataset.MetricsOf(row)})
}

func (s *Server) handleCompliance(w http.ResponseWriter, r *http.Request) {
	strategy, err := compliance.ParseStrategy(r.URL.Query().Get("strategy"))
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	rows, err := decodeRows("body", body)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}

	v, err := s.Compliance.Check(r.Context(), compliance.Request{Table: domain.Table{Rows: rows}, Strategy: strategy})
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	ds, err := s.Dataset.Get()
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	rep, err := s.Reports.Generate(r.Context(), ds.Table(), ds.Columns)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, string(rep))
}

// --- Evaluations ---

func (s *Server) ledgerMissing(w http.ResponseWriter) bool {
	if s.Evaluations != nil {
		return false
	}
	writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Detail: "evaluation ledger is not configured"})
	return true
}

func (s *Server) handleEvaluations(w http.ResponseWriter, r *http.Request) {
	if s.ledgerMissing(w) {
		return
	}
	limit, err := intParam(r, "limit", defaultListLimit)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	evals, err := s.Evaluations.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(evals), "evaluations": evals})
}

func (s *Server) handleEvaluation(w http.ResponseWriter, r *http.Request) {
	if s.ledgerMissing(w) {
		return
	}
	ev, err := s.Evaluations.Evaluation(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// --- helpers ---

// decodeRows accepts a single JSON object or an array of objects. Empty
// and null decode to no rows.
func decodeRows(field string, raw []byte) ([]domain.Row, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	switch raw[0] {
	case '{':
		var row domain.Row
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, fmt.Errorf("%w: %w", invalid(field, "object"), err)
		}
		return []domain.Row{row}, nil
	case '[':
		var rows []domain.Row
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("%w: %w", invalid(field, "array"), err)
		}
		return rows, nil
	}
	return nil, invalid(field, string(raw[:1]))
}

func intParam(r *http.Request, name string, fallback int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, invalid(name, v)
	}
	return n, nil
}

func isUnavailable(err error) bool { return errors.Is(err, domain.ErrIndexUnavailable) }
