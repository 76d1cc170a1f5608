// Package dataset reads the building's recorded HVAC time series from CSV
// and shapes single rows into the grouped metrics the dashboard shows.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/complimo/complimo/engine/domain"
)

// Dataset is a parsed CSV file. Column order follows the header.
type Dataset struct {
	Columns []string
	Rows    []domain.Row
}

// Load reads path. A missing file matches domain.ErrDatasetNotFound.
func Load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("dataset: %s: %w", path, domain.ErrDatasetNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("dataset: open: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads CSV with a header row. Cells become float64 when numeric,
// bool for true/false, and are dropped when empty.
func Parse(r io.Reader) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return &Dataset{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dataset: header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	ds := &Dataset{Columns: header}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("dataset: line %d: %w", line, err)
		}
		row := domain.Row{}
		for i, cell := range rec {
			if i >= len(header) {
				break
			}
			if v, ok := parseCell(cell); ok {
				row[header[i]] = v
			}
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

func parseCell(s string) (any, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true
	}
	switch strings.ToLower(s) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return s, true
}

// Table returns the rows as a sensor table.
func (d *Dataset) Table() domain.Table { return domain.Table{Rows: d.Rows} }

// Row returns row i. Out-of-range indexes match domain.ErrRowOutOfRange.
func (d *Dataset) Row(i int) (domain.Row, error) {
	if i < 0 || i >= len(d.Rows) {
		return nil, fmt.Errorf("dataset: row %d of %d: %w", i, len(d.Rows), domain.ErrRowOutOfRange)
	}
	return d.Rows[i], nil
}

// Source caches a dataset file and reloads it when its modification time
// changes.
type Source struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	ds      *Dataset
}

// NewSource creates a Source for path. Nothing is read until Get.
func NewSource(path string) *Source { return &Source{path: path} }

// Path returns the file backing s.
func (s *Source) Path() string { return s.path }

// Get returns the current dataset.
func (s *Source) Get() (*Dataset, error) {
	st, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("dataset: %s: %w", s.path, domain.ErrDatasetNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("dataset: stat: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ds != nil && st.ModTime().Equal(s.modTime) {
		return s.ds, nil
	}
	ds, err := Load(s.path)
	if err != nil {
		return nil, err
	}
	s.ds, s.modTime = ds, st.ModTime()
	return ds, nil
}
