package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// State remembers which files were ingested, keyed by name and size, so
// a restarted watcher skips them. A file rewritten with a new size is
// ingested again.
type State struct {
	mu   sync.Mutex
	path string
	done map[string]bool
}

// LoadState reads the state file at path. A missing file yields an empty
// state; an empty path keeps state in memory only.
func LoadState(path string) (*State, error) {
	s := &State{path: path, done: map[string]bool{}}
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ingest: state: %w", err)
	}
	if err := json.Unmarshal(data, &s.done); err != nil {
		return nil, fmt.Errorf("ingest: state %s: %w", path, err)
	}
	return s, nil
}

func stateKey(info fs.FileInfo) string { return fmt.Sprintf("%s:%d", info.Name(), info.Size()) }

// Seen reports whether the file was already ingested.
func (s *State) Seen(info fs.FileInfo) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done[stateKey(info)]
}

// Mark records the file and persists the state.
func (s *State) Mark(info fs.FileInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done[stateKey(info)] = true
	if s.path == "" {
		return nil
	}
	data, err := json.Marshal(s.done)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

// HandleFunc ingests one job found by a Watcher.
type HandleFunc func(ctx context.Context, job Job) error

// Watcher ingests PDFs dropped into Dir. Files already present at start
// are picked up too. Subdirectories are not watched.
type Watcher struct {
	Dir        string
	Collection string
	Policy     ChunkPolicy
	// Settle is how long a file must go without writes before ingestion.
	Settle time.Duration
	State  *State
	Handle HandleFunc
	Logger *slog.Logger
}

// dropped returns the path of a PDF created or written by ev. Hidden
// files are ignored.
func dropped(ev fsnotify.Event) (string, bool) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return "", false
	}
	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") || !IsPDF(name) {
		return "", false
	}
	return ev.Name, true
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	log := w.Logger
	if log == nil {
		log = slog.Default()
	}
	if w.State == nil {
		w.State, _ = LoadState("")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("ingest: watch: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.Dir); err != nil {
		return fmt.Errorf("ingest: watch %s: %w", w.Dir, err)
	}

	ready := make(chan string, 64)
	timers := map[string]*time.Timer{}
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()
	schedule := func(path string) {
		if t, ok := timers[path]; ok {
			t.Reset(w.Settle)
			return
		}
		timers[path] = time.AfterFunc(w.Settle, func() {
			select {
			case ready <- path:
			case <-ctx.Done():
			}
		})
	}

	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		return fmt.Errorf("ingest: watch %s: %w", w.Dir, err)
	}
	for _, e := range entries {
		if path, ok := dropped(fsnotify.Event{Name: filepath.Join(w.Dir, e.Name()), Op: fsnotify.Create}); ok && !e.IsDir() {
			schedule(path)
		}
	}
	log.Info("ingest: watching", "dir", w.Dir, "existing", len(timers))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if path, ok := dropped(ev); ok {
				schedule(path)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warn("ingest: watch error", "error", err)
		case path := <-ready:
			delete(timers, path)
			w.process(ctx, path, log)
		}
	}
}

func (w *Watcher) process(ctx context.Context, path string, log *slog.Logger) {
	info, err := os.Stat(path)
	if err != nil {
		log.Warn("ingest: dropped file vanished", "path", path, "error", err)
		return
	}
	if w.State.Seen(info) {
		return
	}
	meta := MetadataFromFilename(path)
	job := Job{
		IngestionID: NewIngestionID(),
		Path:        path,
		Collection:  w.Collection,
		Metadata:    meta,
		Policy:      w.Policy,
	}
	if err := w.Handle(ctx, job); err != nil {
		// Left unmarked so the next write retries it.
		log.Error("ingest: dropped file failed", "path", path, "error", err)
		return
	}
	if err := w.State.Mark(info); err != nil {
		log.Warn("ingest: state not saved", "error", err)
	}
}
