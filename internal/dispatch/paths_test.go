package dispatch

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chrisdogtn/RedditGrabber-sub000/internal/grab"
)

func TestSourceDir_CommunityFeedNestsFeedName(t *testing.T) {
	t.Parallel()

	src := &grab.SourceItem{
		URL:  "https://reddit.com/r/example",
		Kind: grab.KindCommunityFeed,
	}
	require.Equal(t, filepath.Join("/out", "reddit.com", "example"), sourceDir("/out", src))
}

func TestSourceDir_DirectSiteUsesDomainOnly(t *testing.T) {
	t.Parallel()

	src := &grab.SourceItem{
		URL:    "https://www.redgifs.com/watch/somegif",
		Kind:   grab.KindDirectSite,
		Domain: "redgifs.com",
	}
	require.Equal(t, filepath.Join("/out", "redgifs.com"), sourceDir("/out", src))
}

func TestFeedName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example", feedName("https://reddit.com/r/example"))
	require.Equal(t, "someone", feedName("https://reddit.com/user/someone/submitted"))
	require.Equal(t, "profile", feedName("https://site.example/profile"))
	require.Equal(t, "", feedName("https://site.example/"))
}

func TestTypeFolder(t *testing.T) {
	t.Parallel()

	require.Equal(t, "images", typeFolder(grab.MediaImage))
	require.Equal(t, "videos", typeFolder(grab.MediaVideo))
	require.Equal(t, "other", typeFolder(grab.MediaGIF))
}
