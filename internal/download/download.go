// Package download implements the three interchangeable download strategies
// and the shared target-path / duplicate-detection logic they rely on.
package download

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/kennygrant/sanitize"

	"github.com/chrisdogtn/RedditGrabber-sub000/internal/grab"
)

// Request carries one claimed job into a strategy.
type Request struct {
	Job grab.Job
	// Dir is the output directory for this job, including any feed
	// type-subfolder. The job's SeriesFolder is nested beneath it.
	Dir string
	// OnProgress receives percent-complete updates in [0,100].
	OnProgress func(percent float64)
}

// Result reports where the file landed.
type Result struct {
	Path string
	// Duplicate means the target already existed and nothing was fetched;
	// treated as success for progress accounting.
	Duplicate bool
}

// Downloader executes one job. Implementations classify cancellation as
// grab.ErrCancelled and remove partial files before returning an error.
type Downloader interface {
	Do(ctx context.Context, req Request) (Result, error)
}

// Stem builds the filesystem-safe filename stem {sanitizedTitle}_{id}.
// Together with the extension it must be unique within the target
// directory; a collision is treated as a duplicate and skipped.
func Stem(job grab.Job) string {
	title := sanitize.BaseName(strings.TrimSpace(job.Title))
	id := sanitize.BaseName(strings.TrimSpace(job.ID))
	switch {
	case title == "" && id == "":
		return "item"
	case title == "":
		return id
	case id == "":
		return title
	default:
		return title + "_" + id
	}
}

// TargetDir resolves the directory a job's file belongs in, nesting the
// optional series folder under the request directory.
func TargetDir(req Request) string {
	if req.Job.SeriesFolder == "" {
		return req.Dir
	}
	return filepath.Join(req.Dir, sanitize.BaseName(req.Job.SeriesFolder))
}

// ExtFromURL extracts a usable file extension from a media URL, falling back
// to a sensible default for the media type.
func ExtFromURL(rawURL string, media grab.MediaType) string {
	if parsed, err := url.Parse(rawURL); err == nil {
		if ext := strings.ToLower(path.Ext(parsed.Path)); ext != "" && len(ext) <= 5 {
			return ext
		}
	}
	switch media {
	case grab.MediaVideo:
		return ".mp4"
	case grab.MediaGIF:
		return ".gif"
	default:
		return ".jpg"
	}
}

// fileExists reports whether path exists as a regular file.
func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// stemExists reports whether any file with the given stem exists in dir,
// regardless of extension. Used by the external strategy, whose tool picks
// the extension itself.
func stemExists(dir, stem string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name == stem || strings.HasPrefix(name, stem+".") {
			return filepath.Join(dir, name), true
		}
	}
	return "", false
}

// classify maps a transport error onto the shared taxonomy: cancellation is
// distinguished from plain network failure.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", grab.ErrCancelled, err)
	}
	return err
}

// removePartial deletes a partially written file, ignoring not-exist.
func removePartial(p string) {
	if p == "" {
		return
	}
	_ = os.Remove(p)
}
