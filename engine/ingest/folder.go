package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// FileOutcome is the result of ingesting one file of a folder.
type FileOutcome struct {
	Result
	Err error `json:"-"`
}

// FindPDFs walks dir recursively and returns every PDF, sorted.
func FindPDFs(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("ingest: folder %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("ingest: %s is not a directory", dir)
	}
	var paths []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsPDF(path) {
			paths = append(paths, path)
		}
		return nil
	})
	sort.Strings(paths)
	return paths, err
}

// IngestFolder ingests every PDF under dir into collection, deriving
// metadata from each filename. Each file is stored before the next starts;
// one failing file does not stop the rest. All files share one ingestion id.
func (s *Service) IngestFolder(ctx context.Context, dir, collection string, policy ChunkPolicy) ([]FileOutcome, error) {
	paths, err := FindPDFs(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		s.log.Info("ingest: no PDF files found", "dir", dir)
		return nil, nil
	}

	id := NewIngestionID()
	out := make([]FileOutcome, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		meta := MetadataFromFilename(path)
		meta["filename"] = filepath.Base(path)
		res, err := s.Ingest(ctx, Job{
			IngestionID: id,
			Path:        path,
			Collection:  collection,
			Metadata:    meta,
			Policy:      policy,
		})
		if err != nil {
			s.log.Error("ingest: file failed", "path", path, "error", err)
			res = Result{IngestionID: id, Path: path, Filename: filepath.Base(path)}
		}
		out = append(out, FileOutcome{Result: res, Err: err})
	}
	s.log.Info("ingest: folder done", "dir", dir, "files", len(paths))
	return out, nil
}
