package extractor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chrisdogtn/RedditGrabber-sub000/internal/grab"
)

// fakeBinary writes an executable shell script standing in for the extractor.
func fakeBinary(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-extractor")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	return path
}

func TestDownload_ParsesProgressFromStdout(t *testing.T) {
	t.Parallel()

	binary := fakeBinary(t, `
echo "[download]  10.0% of 5.00MiB"
echo "[download]  55.5% of 5.00MiB"
echo "[download] 100% of 5.00MiB"
`)
	tool := New(Config{Binary: binary}, nil, zap.NewNop())

	var (
		mu       sync.Mutex
		percents []float64
	)
	err := tool.Download(context.Background(), "https://v.example/clip", "/tmp/out.%(ext)s", func(p float64) {
		mu.Lock()
		percents = append(percents, p)
		mu.Unlock()
	})
	require.NoError(t, err)
	require.Equal(t, []float64{10, 55.5, 100}, percents)
}

func TestDownload_NonZeroExitIsAnError(t *testing.T) {
	t.Parallel()

	binary := fakeBinary(t, `
echo "ERROR: unsupported url"
exit 1
`)
	tool := New(Config{Binary: binary}, nil, zap.NewNop())

	err := tool.Download(context.Background(), "https://v.example/clip", "/tmp/out.%(ext)s", nil)
	require.Error(t, err)
	require.ErrorContains(t, err, "extractor exited")
	require.NotErrorIs(t, err, grab.ErrSpawn)
}

func TestDownload_MissingBinaryIsSpawnFailure(t *testing.T) {
	t.Parallel()

	tool := New(Config{Binary: "/does/not/exist"}, nil, zap.NewNop())
	err := tool.Download(context.Background(), "https://v.example/clip", "/tmp/out.%(ext)s", nil)
	require.ErrorIs(t, err, grab.ErrSpawn)
}

func TestExtractURL_ReturnsFirstLine(t *testing.T) {
	t.Parallel()

	binary := fakeBinary(t, `
echo "https://cdn.example/video.mp4"
echo "https://cdn.example/audio.m4a"
`)
	tool := New(Config{Binary: binary}, nil, zap.NewNop())

	url, err := tool.ExtractURL(context.Background(), "https://v.example/clip")
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example/video.mp4", url)
}

func TestExtractURL_FailuresKeepTaxonomy(t *testing.T) {
	t.Parallel()

	failing := fakeBinary(t, "exit 2")
	tool := New(Config{Binary: failing}, nil, zap.NewNop())
	_, err := tool.ExtractURL(context.Background(), "https://v.example/clip")
	require.Error(t, err)
	require.NotErrorIs(t, err, grab.ErrSpawn)

	tool = New(Config{Binary: "/does/not/exist"}, nil, zap.NewNop())
	_, err = tool.ExtractURL(context.Background(), "https://v.example/clip")
	require.ErrorIs(t, err, grab.ErrSpawn)
}

type stubRegistry struct {
	mu         sync.Mutex
	registered int
	released   int
}

func (s *stubRegistry) RegisterProcess(func() error) func() {
	s.mu.Lock()
	s.registered++
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.released++
		s.mu.Unlock()
	}
}

func TestDownload_RegistersProcessForCancellation(t *testing.T) {
	t.Parallel()

	binary := fakeBinary(t, `echo done`)
	registry := &stubRegistry{}
	tool := New(Config{Binary: binary}, registry, zap.NewNop())

	require.NoError(t, tool.Download(context.Background(), "https://v.example/clip", "/tmp/out.%(ext)s", nil))

	registry.mu.Lock()
	defer registry.mu.Unlock()
	require.Equal(t, 1, registry.registered)
	require.Equal(t, 1, registry.released)
}

// killOnRegister fires the kill handle the instant it is registered, the
// worst-case cancel timing.
type killOnRegister struct {
	mu      sync.Mutex
	calls   int
	killErr error
}

func (k *killOnRegister) RegisterProcess(kill func() error) func() {
	k.mu.Lock()
	k.calls++
	k.mu.Unlock()
	err := kill()
	k.mu.Lock()
	k.killErr = err
	k.mu.Unlock()
	return func() {}
}

func TestExtractURL_KillHandleReachesLiveProcess(t *testing.T) {
	t.Parallel()

	binary := fakeBinary(t, `sleep 5`)
	registry := &killOnRegister{}
	tool := New(Config{Binary: binary}, registry, zap.NewNop())

	start := time.Now()
	_, err := tool.ExtractURL(context.Background(), "https://v.example/clip")
	require.Error(t, err)
	require.ErrorContains(t, err, "extract url exited")
	// A kill fired right at registration time must terminate the process;
	// if it no-ops the script sleeps out its full five seconds.
	require.Less(t, time.Since(start), 3*time.Second)

	registry.mu.Lock()
	defer registry.mu.Unlock()
	require.Equal(t, 1, registry.calls)
	require.NoError(t, registry.killErr)
}
