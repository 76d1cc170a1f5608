package ingest

import "github.com/complimo/complimo/engine/domain"

// Job asks for one document to be ingested. It is also the NATS payload
// for asynchronous ingestion.
type Job struct {
	IngestionID string         `json:"ingestion_id"`
	Path        string         `json:"path"`
	Collection  string         `json:"collection"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Policy      ChunkPolicy    `json:"policy"`
}

// Page is the extracted text of one PDF page. Number is 1-based.
type Page struct {
	Number int
	Text   string
}

// LoadedDoc is a job with its extracted pages.
type LoadedDoc struct {
	Job
	Pages []Page
}

// ChunkedDoc is a loaded document split into chunks.
type ChunkedDoc struct {
	Job
	Chunks []domain.Chunk
}

// Result summarizes one ingested document.
type Result struct {
	IngestionID string `json:"ingestion_id"`
	Path        string `json:"path"`
	Filename    string `json:"filename"`
	Chunks      int    `json:"chunks"`
}
