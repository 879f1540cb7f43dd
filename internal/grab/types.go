// Package grab defines the core types shared across subsystems.
package grab

import (
	"fmt"
	"time"
)

// MediaType classifies what kind of asset a job downloads.
type MediaType string

// Supported media types.
const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
	MediaGIF   MediaType = "gif"
)

// Strategy selects how a job is downloaded. It is resolved once at job
// creation time and pattern-matched exhaustively by the dispatcher.
type Strategy string

// Supported download strategies.
const (
	// StrategyDirect streams a single HTTP GET straight to disk.
	StrategyDirect Strategy = "direct-stream"
	// StrategyExternal delegates metadata and fetch to the extractor binary.
	StrategyExternal Strategy = "external-process"
	// StrategyRange splits the file into concurrent byte-range requests,
	// falling back to StrategyDirect when the server cannot serve ranges.
	StrategyRange Strategy = "range-parallel"
)

// Job is the canonical unit of downloadable work. Every resolver emits jobs
// in this shape regardless of how the source site structures its content.
type Job struct {
	// URL is the direct or near-direct media location.
	URL string
	// Media classifies the asset for type filtering and feed subfolders.
	Media MediaType
	// Strategy selects the downloader that will execute this job.
	Strategy Strategy
	// ID is a stable identifier used for on-disk dedup, unique within the
	// source batch when the site provides one.
	ID string
	// Title is the human label, sanitized later into a filename stem.
	Title string
	// SeriesFolder optionally nests the file under a per-album directory.
	SeriesFolder string
	// Domain is the resolved host used for per-domain concurrency
	// bucketing; derived from URL when empty.
	Domain string
}

// Validate performs coarse validation on a resolver-emitted job.
func (j Job) Validate() error {
	if j.URL == "" {
		return fmt.Errorf("job url is required")
	}
	switch j.Strategy {
	case StrategyDirect, StrategyExternal, StrategyRange:
	default:
		return fmt.Errorf("unknown strategy %q", j.Strategy)
	}
	switch j.Media {
	case MediaImage, MediaVideo, MediaGIF:
	default:
		return fmt.Errorf("unknown media type %q", j.Media)
	}
	return nil
}

// SourceKind distinguishes the two shapes of user-supplied URLs.
type SourceKind string

// Supported source kinds.
const (
	// KindCommunityFeed is a threaded-post feed that mixes many domains.
	KindCommunityFeed SourceKind = "community-feed"
	// KindDirectSite is a page or profile on one supported site.
	KindDirectSite SourceKind = "direct-site"
)

// SourceStatus tracks whether a source has been fully downloaded.
type SourceStatus string

// Source lifecycle states.
const (
	SourcePending   SourceStatus = "pending"
	SourceCompleted SourceStatus = "completed"
)

// SourceItem is one entry in the user-supplied work list. The dispatcher
// marks it completed once every job attributed to it has finished.
type SourceItem struct {
	URL         string
	Kind        SourceKind
	Domain      string
	Status      SourceStatus
	CompletedAt *time.Time
}

// TypeFilters enables or disables media types for a run.
type TypeFilters struct {
	Images bool
	Videos bool
	GIFs   bool
}

// Allows reports whether the filter admits the given media type.
func (f TypeFilters) Allows(m MediaType) bool {
	switch m {
	case MediaImage:
		return f.Images
	case MediaVideo:
		return f.Videos
	case MediaGIF:
		return f.GIFs
	default:
		return false
	}
}

// AllTypes returns a filter admitting every media type.
func AllTypes() TypeFilters {
	return TypeFilters{Images: true, Videos: true, GIFs: true}
}

// QueueEntry is a job plus the scheduling metadata the dispatcher needs.
type QueueEntry struct {
	Job Job
	// EffectiveDomain is the host after normalizing subdomains against the
	// per-domain cap table.
	EffectiveDomain string
	// SourceURL back-references the SourceItem that produced the job.
	SourceURL string
	// OutputDir is the directory the downloaded file lands in, before any
	// SeriesFolder nesting.
	OutputDir string
}
