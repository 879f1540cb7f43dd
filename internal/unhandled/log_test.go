package unhandled

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStartSession_TruncatesWithHeader(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "unhandled_links.log")
	log := New(path)

	require.NoError(t, log.StartSession(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
	require.NoError(t, log.Append("https://example.com/first"))
	require.NoError(t, log.Append("https://example.com/second"))

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "# session 2026-03-01T12:00:00Z", lines[0])
	require.Equal(t, "https://example.com/first", lines[1])
	require.Equal(t, "https://example.com/second", lines[2])

	// A new session discards the previous run's entries.
	require.NoError(t, log.StartSession(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)))
	body, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "# session 2026-03-02T08:00:00Z\n", string(body))
}

func TestStartSession_CreatesParentDir(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "dir", "unhandled_links.log")
	log := New(path)
	require.NoError(t, log.StartSession(time.Now()))
	require.FileExists(t, path)
	require.Equal(t, path, log.Path())
}
