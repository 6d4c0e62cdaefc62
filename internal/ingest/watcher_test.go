package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingIngester struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (r *recordingIngester) IngestFile(_ context.Context, path string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return 1, r.err
}

func (r *recordingIngester) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func TestWatcher_IngestAll(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yml", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("templates: []\n"), 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.yaml"), 0o700))

	rec := &recordingIngester{}
	n, err := NewWatcher(rec, dir).IngestAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{filepath.Join(dir, "a.yml"), filepath.Join(dir, "b.yaml")}, rec.seen())
}

func TestWatcher_IngestAllStopsOnError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), nil, 0o600))
	rec := &recordingIngester{err: errors.New("bad file")}

	_, err := NewWatcher(rec, dir).IngestAll(context.Background())
	assert.ErrorContains(t, err, "bad file")
}

func TestWatcher_ReingestsOnWrite(t *testing.T) {
	dir := t.TempDir()
	rec := &recordingIngester{}
	w := NewWatcher(rec, dir)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	target := filepath.Join(dir, "new.yaml")
	ignored := filepath.Join(dir, "ignored.txt")
	// The watch is registered asynchronously; keep writing until it is seen.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(ignored, []byte("x"), 0o600)
		_ = os.WriteFile(target, []byte(sampleYAML), 0o600)
		for _, p := range rec.seen() {
			if p == target {
				return true
			}
		}
		return false
	}, 5*time.Second, 50*time.Millisecond)

	for _, p := range rec.seen() {
		assert.NotEqual(t, ignored, p)
	}
}

func TestWatcher_RunMissingDir(t *testing.T) {
	err := NewWatcher(&recordingIngester{}, filepath.Join(t.TempDir(), "nope")).Run(context.Background())
	assert.Error(t, err)
}
