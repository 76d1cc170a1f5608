package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDropped(t *testing.T) {
	cases := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{"create pdf", fsnotify.Event{Name: "/in/a.pdf", Op: fsnotify.Create}, true},
		{"write pdf upper", fsnotify.Event{Name: "/in/B.PDF", Op: fsnotify.Write}, true},
		{"remove", fsnotify.Event{Name: "/in/a.pdf", Op: fsnotify.Remove}, false},
		{"chmod", fsnotify.Event{Name: "/in/a.pdf", Op: fsnotify.Chmod}, false},
		{"hidden", fsnotify.Event{Name: "/in/.a.pdf", Op: fsnotify.Create}, false},
		{"text", fsnotify.Event{Name: "/in/a.txt", Op: fsnotify.Create}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, ok := dropped(c.ev)
			assert.Equal(t, c.want, ok)
		})
	}
}

func TestStatePersists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.pdf")
	require.NoError(t, os.WriteFile(file, []byte("abc"), 0o644))
	info, err := os.Stat(file)
	require.NoError(t, err)

	statePath := filepath.Join(dir, ".state.json")
	s, err := LoadState(statePath)
	require.NoError(t, err)
	assert.False(t, s.Seen(info))
	require.NoError(t, s.Mark(info))

	again, err := LoadState(statePath)
	require.NoError(t, err)
	assert.True(t, again.Seen(info))

	require.NoError(t, os.WriteFile(file, []byte("abcdef"), 0o644))
	grown, err := os.Stat(file)
	require.NoError(t, err)
	assert.False(t, again.Seen(grown))
}

func TestStateCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err := LoadState(path)
	assert.Error(t, err)
}

type jobSink struct {
	mu   sync.Mutex
	jobs []Job
	got  chan struct{}
}

func (s *jobSink) handle(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	s.got <- struct{}{}
	return nil
}

func startWatcher(t *testing.T, dir string, sink *jobSink, state *State) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	w := &Watcher{
		Dir:        dir,
		Collection: "regulations",
		Settle:     20 * time.Millisecond,
		State:      state,
		Handle:     sink.handle,
		Logger:     quietLog(),
	}
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
}

func waitJob(t *testing.T, sink *jobSink) {
	t.Helper()
	select {
	case <-sink.got:
	case <-time.After(5 * time.Second):
		t.Fatal("no job received")
	}
}

func TestWatcherPicksUpExistingAndDropped(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ASHRAE_62_1.pdf"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o644))

	sink := &jobSink{got: make(chan struct{}, 8)}
	startWatcher(t, dir, sink, nil)
	waitJob(t, sink)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "Title24.pdf"), []byte("y"), 0o644))
	waitJob(t, sink)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.jobs, 2)
	assert.Equal(t, "ASHRAE", sink.jobs[0].Metadata["organization"])
	assert.Equal(t, filepath.Join(dir, "Title24.pdf"), sink.jobs[1].Path)
	assert.Equal(t, "regulations", sink.jobs[1].Collection)
	assert.NotEqual(t, sink.jobs[0].IngestionID, sink.jobs[1].IngestionID)
}

func TestWatcherSkipsSeenFiles(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.pdf")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	info, err := os.Stat(file)
	require.NoError(t, err)

	state, err := LoadState("")
	require.NoError(t, err)
	require.NoError(t, state.Mark(info))

	sink := &jobSink{got: make(chan struct{}, 8)}
	startWatcher(t, dir, sink, state)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.pdf"), []byte("y"), 0o644))
	waitJob(t, sink)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.jobs, 1)
	assert.Equal(t, "b.pdf", filepath.Base(sink.jobs[0].Path))
}

func TestWatcherMissingDir(t *testing.T) {
	w := &Watcher{Dir: filepath.Join(t.TempDir(), "absent"), Handle: func(context.Context, Job) error { return nil }}
	assert.Error(t, w.Run(context.Background()))
}
