package dispatch

import (
	"net/url"
	"path/filepath"
	"strings"

	"github.com/kennygrant/sanitize"

	"github.com/chrisdogtn/RedditGrabber-sub000/internal/grab"
)

// sourceDir computes a source's output directory under the root: direct-site
// sources land in a per-domain directory, community feeds get one more level
// named for the feed.
func sourceDir(root string, src *grab.SourceItem) string {
	host := src.Domain
	if host == "" {
		host = grab.Host(src.URL)
	}
	if host == "" {
		host = "unknown"
	}
	dir := filepath.Join(root, host)
	if src.Kind == grab.KindCommunityFeed {
		if name := feedName(src.URL); name != "" {
			dir = filepath.Join(dir, name)
		}
	}
	return dir
}

// feedName extracts the feed's display segment from a community URL, e.g.
// /r/example -> example.
func feedName(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return ""
	}
	name := segments[len(segments)-1]
	switch segments[0] {
	case "r", "u", "user":
		if len(segments) > 1 {
			name = segments[1]
		}
	}
	return sanitize.BaseName(name)
}

// typeFolder maps a job's media type to the community-feed subfolder split.
func typeFolder(m grab.MediaType) string {
	switch m {
	case grab.MediaImage:
		return "images"
	case grab.MediaVideo:
		return "videos"
	default:
		return "other"
	}
}
