// Package resolver translates source URLs into normalized download jobs.
// One resolver exists per site family; the registry picks the first that
// claims a URL.
package resolver

import (
	"context"

	"github.com/chrisdogtn/RedditGrabber-sub000/internal/grab"
)

// UnhandledSink receives URLs no handler family recognizes.
type UnhandledSink interface {
	Append(url string) error
}

// Options carries the per-run knobs every resolver must honor.
type Options struct {
	// MaxLinks stops resolution once this many jobs were collected (0 = no
	// cap).
	MaxLinks int
	// PageStart/PageEnd bound pagination for paginated sources (1-based,
	// inclusive; zero values mean unbounded).
	PageStart int
	PageEnd   int
	// Types filters which media kinds become jobs.
	Types grab.TypeFilters
	// Cancelled and Skipping are polled at least once per page or record;
	// resolvers stop promptly when either fires.
	Cancelled func() bool
	Skipping  func() bool
	// Unhandled records post URLs that match no handler family.
	Unhandled UnhandledSink
	// HybridExtract lists domains resolved by the extractor in URL-only
	// mode and fetched range-parallel.
	HybridExtract []string
	// Galleries lists domains treated as multi-image galleries.
	Galleries []string
}

// Stop reports whether resolution should halt now.
func (o Options) Stop() bool {
	if o.Cancelled != nil && o.Cancelled() {
		return true
	}
	if o.Skipping != nil && o.Skipping() {
		return true
	}
	return false
}

// Reached reports whether the link cap has been hit.
func (o Options) Reached(collected int) bool {
	return o.MaxLinks > 0 && collected >= o.MaxLinks
}

// Truncate trims a job slice to the link cap.
func (o Options) Truncate(jobs []grab.Job) []grab.Job {
	if o.MaxLinks > 0 && len(jobs) > o.MaxLinks {
		return jobs[:o.MaxLinks]
	}
	return jobs
}

// Resolver converts one source URL into zero or more jobs.
//
// Contract: CanHandle is a pure predicate and must not perform I/O. Resolve
// never panics or propagates normal failure modes (missing element, HTTP
// error); it catches, logs, and returns an empty slice.
type Resolver interface {
	Name() string
	CanHandle(url string) bool
	Resolve(ctx context.Context, url string, opts Options) []grab.Job
}
