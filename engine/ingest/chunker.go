package ingest

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/complimo/complimo/engine/domain"
)

// ChunkPolicy sets the window size and overlap, both in characters.
type ChunkPolicy struct {
	Size    int `json:"size" yaml:"size"`
	Overlap int `json:"overlap" yaml:"overlap"`
}

var (
	// DiscoveryPolicy suits single uploads and folder discovery.
	DiscoveryPolicy = ChunkPolicy{Size: 1000, Overlap: 200}
	// BulkPolicy suits large uploads where fewer, bigger chunks are wanted.
	BulkPolicy = ChunkPolicy{Size: 8000, Overlap: 500}
)

// PolicyByName maps "discovery" and "bulk" to their presets. Empty means discovery.
func PolicyByName(name string) (ChunkPolicy, error) {
	switch strings.ToLower(name) {
	case "", "discovery":
		return DiscoveryPolicy, nil
	case "bulk":
		return BulkPolicy, nil
	}
	return ChunkPolicy{}, domain.NewValidationError("policy", name, domain.ErrInvalidInput)
}

// Validate checks that the policy can make progress.
func (p ChunkPolicy) Validate() error {
	if p.Size <= 0 || p.Overlap < 0 || p.Overlap >= p.Size {
		return domain.NewValidationError("policy", fmt.Sprintf("size=%d overlap=%d", p.Size, p.Overlap), domain.ErrInvalidInput)
	}
	return nil
}

// separators in order of preference: paragraph, line, sentence, word, character.
var separators = []string{"\n\n", "\n", ". ", " ", ""}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

// Split breaks text into windows of at most p.Size characters. It prefers
// the coarsest separator that keeps pieces under the limit and carries up to
// p.Overlap characters of trailing context into the next window.
func Split(text string, p ChunkPolicy) []string {
	if p.Size <= 0 {
		p = DiscoveryPolicy
	}
	return splitRecursive(text, separators, p)
}

func splitRecursive(text string, seps []string, p ChunkPolicy) []string {
	sep, rest := seps[len(seps)-1], []string(nil)
	for i, s := range seps {
		if s == "" || strings.Contains(text, s) {
			sep, rest = s, seps[i+1:]
			break
		}
	}

	var pieces []string
	if sep == "" {
		pieces = strings.Split(text, "")
	} else {
		pieces = strings.Split(text, sep)
	}

	var out, good []string
	for _, piece := range pieces {
		if runeLen(piece) < p.Size {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			out = append(out, merge(good, sep, p)...)
			good = nil
		}
		if len(rest) == 0 {
			out = append(out, piece)
		} else {
			out = append(out, splitRecursive(piece, rest, p)...)
		}
	}
	if len(good) > 0 {
		out = append(out, merge(good, sep, p)...)
	}
	return out
}

// merge greedily joins pieces with sep into windows no longer than p.Size,
// keeping a tail of at most p.Overlap characters when starting a new window.
func merge(pieces []string, sep string, p ChunkPolicy) []string {
	sepLen := runeLen(sep)
	var (
		docs    []string
		current []string
		total   int
	)
	joinLen := func() int {
		if len(current) > 0 {
			return sepLen
		}
		return 0
	}
	for _, piece := range pieces {
		n := runeLen(piece)
		if total+n+joinLen() > p.Size && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, sep)); doc != "" {
				docs = append(docs, doc)
			}
			for len(current) > 0 && (total > p.Overlap || total+n+joinLen() > p.Size) {
				drop := runeLen(current[0])
				if len(current) > 1 {
					drop += sepLen
				}
				total -= drop
				current = current[1:]
			}
		}
		total += n + joinLen()
		current = append(current, piece)
	}
	if doc := strings.TrimSpace(strings.Join(current, sep)); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

// Chunker turns extracted pages into stamped chunks.
type Chunker struct {
	Policy ChunkPolicy
	Now    func() time.Time
}

// NewChunker returns a Chunker using policy and the wall clock.
func NewChunker(policy ChunkPolicy) *Chunker {
	return &Chunker{Policy: policy, Now: time.Now}
}

// Chunk splits each page and stamps every chunk with source, filename and
// ingestion date, then applies the caller metadata on top.
func (c *Chunker) Chunk(source string, pages []Page, meta map[string]any) []domain.Chunk {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	stamp := now().Format(time.RFC3339Nano)
	filename := filepath.Base(source)

	var chunks []domain.Chunk
	for _, page := range pages {
		for _, text := range Split(page.Text, c.Policy) {
			md := map[string]any{
				domain.MetaSource:        source,
				domain.MetaFilename:      filename,
				domain.MetaIngestionDate: stamp,
				"page":                   page.Number,
			}
			for k, v := range meta {
				md[k] = v
			}
			chunks = append(chunks, domain.Chunk{
				Text:       text,
				SourcePath: source,
				Seq:        len(chunks),
				Metadata:   md,
			})
		}
	}
	return chunks
}
