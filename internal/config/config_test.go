package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mediagrab.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "output:\n  root_dir: /tmp/media\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "/tmp/media", cfg.Output.RootDir)
	require.Equal(t, "unhandled_links.log", cfg.Output.UnhandledLog)
	require.Equal(t, 4, cfg.Limits.MaxSimultaneous)
	require.Equal(t, 2, cfg.Limits.PerDomainDefault)
	require.Equal(t, 30, cfg.HTTP.TimeoutSeconds)
	require.Equal(t, int64(8*1024*1024), cfg.HTTP.ChunkSizeBytes)
	require.Equal(t, 8, cfg.HTTP.Connections)
	require.Equal(t, 100, cfg.Render.PollIntervalMs)
	require.Equal(t, 25, cfg.Render.PollAttempts)
	require.Equal(t, "yt-dlp", cfg.Extractor.Binary)
	require.True(t, cfg.Filters.Images)
	require.True(t, cfg.Filters.Videos)
	require.True(t, cfg.Filters.GIFs)
}

func TestLoad_MissingRootDirFails(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "limits:\n  max_simultaneous: 2\n")
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "output.root_dir")
}

func TestValidate_RejectsBadLimits(t *testing.T) {
	t.Parallel()

	base := Config{
		Output: OutputConfig{RootDir: "/tmp/media"},
		Limits: LimitsConfig{MaxSimultaneous: 4, PerDomainDefault: 2},
		HTTP:   HTTPConfig{TimeoutSeconds: 30, Connections: 8},
	}
	require.NoError(t, base.Validate())

	bad := base
	bad.Limits.MaxSimultaneous = 0
	require.Error(t, bad.Validate())

	bad = base
	bad.Limits.PerDomain = map[string]int{"example.com": 0}
	require.Error(t, bad.Validate())

	bad = base
	bad.HTTP.Connections = 0
	require.Error(t, bad.Validate())

	bad = base
	bad.Render = RenderConfig{Enabled: true, MaxParallel: 0}
	require.Error(t, bad.Validate())
}

func TestDomainCap_FallsBackToDefault(t *testing.T) {
	t.Parallel()

	cfg := Config{Limits: LimitsConfig{
		PerDomain:        map[string]int{"example.com": 5},
		PerDomainDefault: 2,
	}}

	require.Equal(t, 5, cfg.DomainCap("example.com"))
	require.Equal(t, 5, cfg.DomainCap("Example.COM"))
	require.Equal(t, 2, cfg.DomainCap("unlisted.net"))
	require.ElementsMatch(t, []string{"example.com"}, cfg.RegisteredDomains())
}
