package download

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chrisdogtn/RedditGrabber-sub000/internal/grab"
)

type fakeTool struct {
	err error
	// ext is the extension the tool "chooses" when writing the output file.
	ext string

	mu        sync.Mutex
	templates []string
}

func (f *fakeTool) Download(_ context.Context, _ string, outputTemplate string, onProgress func(float64)) error {
	f.mu.Lock()
	f.templates = append(f.templates, outputTemplate)
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if onProgress != nil {
		onProgress(50)
	}
	path := strings.Replace(outputTemplate, "%(ext)s", f.ext, 1)
	return os.WriteFile(path, []byte("video bytes"), 0o600)
}

type recordingSink struct {
	mu   sync.Mutex
	urls []string
}

func (r *recordingSink) Append(url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, url)
	return nil
}

func videoJob(url string) grab.Job {
	return grab.Job{
		URL:      url,
		Media:    grab.MediaVideo,
		Strategy: grab.StrategyExternal,
		ID:       "v9",
		Title:    "clip",
		Domain:   "v.example.com",
	}
}

func TestExternal_ResolvesToolChosenExtension(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tool := &fakeTool{ext: "webm"}
	e := &External{Tool: tool, Unhandled: &recordingSink{}, Logger: zap.NewNop()}

	result, err := e.Do(context.Background(), Request{Job: videoJob("https://v.example.com/watch/v9"), Dir: dir})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "clip_v9.webm"), result.Path)
	require.FileExists(t, result.Path)

	tool.mu.Lock()
	defer tool.mu.Unlock()
	require.Equal(t, []string{filepath.Join(dir, "clip_v9.%(ext)s")}, tool.templates)
}

func TestExternal_ToolFailureRecordsUnhandledOnce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink := &recordingSink{}
	e := &External{Tool: &fakeTool{err: errors.New("extractor exited: 1")}, Unhandled: sink, Logger: zap.NewNop()}

	_, err := e.Do(context.Background(), Request{Job: videoJob("https://v.example.com/watch/v9"), Dir: dir})
	require.Error(t, err)
	require.NotErrorIs(t, err, grab.ErrCancelled)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Equal(t, []string{"https://v.example.com/watch/v9"}, sink.urls)
}

func TestExternal_SpawnFailureSkipsUnhandledLog(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink := &recordingSink{}
	spawnErr := grab.ErrSpawn
	e := &External{Tool: &fakeTool{err: spawnErr}, Unhandled: sink}

	_, err := e.Do(context.Background(), Request{Job: videoJob("https://v.example.com/watch/v9"), Dir: dir})
	require.ErrorIs(t, err, grab.ErrSpawn)

	// A missing binary is an environment problem, not an unsupported link.
	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Empty(t, sink.urls)
}

func TestExternal_StemMatchAnyExtensionIsDuplicate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	existing := filepath.Join(dir, "clip_v9.mkv")
	require.NoError(t, os.WriteFile(existing, []byte("done before"), 0o600))

	tool := &fakeTool{ext: "mp4"}
	e := &External{Tool: tool}

	result, err := e.Do(context.Background(), Request{Job: videoJob("https://v.example.com/watch/v9"), Dir: dir})
	require.NoError(t, err)
	require.True(t, result.Duplicate)
	require.Equal(t, existing, result.Path)

	tool.mu.Lock()
	defer tool.mu.Unlock()
	require.Empty(t, tool.templates)
}
