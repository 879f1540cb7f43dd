package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/chrisdogtn/RedditGrabber-sub000/internal/fetch"
	"github.com/chrisdogtn/RedditGrabber-sub000/internal/grab"
)

const redditPageSize = 25

// GifLookup resolves an aggregator short link (redgifs) into a single job.
type GifLookup interface {
	LookupGif(ctx context.Context, url string) (grab.Job, error)
}

// AlbumScraper resolves an album page (imgur) into its member jobs.
type AlbumScraper interface {
	ScrapeAlbum(ctx context.Context, url string, opts Options) ([]grab.Job, error)
}

// URLExtractor resolves the true media URL via the external tool without
// downloading, enabling the hybrid-extraction path.
type URLExtractor interface {
	ExtractURL(ctx context.Context, url string) (string, error)
}

// Reddit resolves community feeds (subreddits and user pages) by walking the
// JSON listing API with an `after` cursor and classifying every post into a
// handler family.
type Reddit struct {
	fetcher   fetch.Fetcher
	gifs      GifLookup
	albums    AlbumScraper
	extractor URLExtractor
	logger    *zap.Logger
}

// NewReddit builds the community-feed resolver. gifs, albums, and extractor
// may be nil; posts needing them then fall through to the unhandled log.
func NewReddit(fetcher fetch.Fetcher, gifs GifLookup, albums AlbumScraper, extractor URLExtractor, logger *zap.Logger) *Reddit {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reddit{fetcher: fetcher, gifs: gifs, albums: albums, extractor: extractor, logger: logger}
}

// Name implements Resolver.
func (r *Reddit) Name() string { return "reddit" }

var redditPath = regexp.MustCompile(`^/(r|user|u)/[^/]+`)

// CanHandle claims subreddit and user feed URLs.
func (r *Reddit) CanHandle(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	if host != "reddit.com" && host != "old.reddit.com" {
		return false
	}
	return redditPath.MatchString(parsed.Path)
}

type redditListing struct {
	Data struct {
		After    string `json:"after"`
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Domain      string `json:"domain"`
	URL         string `json:"url_overridden_by_dest"`
	FallbackURL string `json:"url"`
	Permalink   string `json:"permalink"`
	PostHint    string `json:"post_hint"`
	IsVideo     bool   `json:"is_video"`
	Subreddit   string `json:"subreddit"`
	GalleryData *struct {
		Items []struct {
			MediaID string `json:"media_id"`
		} `json:"items"`
	} `json:"gallery_data"`
	MediaMetadata map[string]struct {
		S struct {
			U   string `json:"u"`
			GIF string `json:"gif"`
		} `json:"s"`
	} `json:"media_metadata"`
}

func (p redditPost) mediaURL() string {
	if p.URL != "" {
		return p.URL
	}
	return p.FallbackURL
}

// Resolve walks listing pages until the cursor runs out, the link cap is
// reached, or a cancel/skip signal fires.
func (r *Reddit) Resolve(ctx context.Context, sourceURL string, opts Options) []grab.Job {
	feed, err := feedPath(sourceURL)
	if err != nil {
		r.logger.Error("bad feed url", zap.String("url", sourceURL), zap.Error(err))
		return nil
	}

	var jobs []grab.Job
	after := ""
	for {
		if opts.Stop() || opts.Reached(len(jobs)) {
			break
		}
		listing, err := r.fetchPage(ctx, feed, after)
		if err != nil {
			r.logger.Error("feed page fetch failed",
				zap.String("feed", feed),
				zap.String("after", after),
				zap.Error(err),
			)
			break
		}
		for _, child := range listing.Data.Children {
			if opts.Stop() || opts.Reached(len(jobs)) {
				break
			}
			jobs = append(jobs, r.classify(ctx, child.Data, opts)...)
		}
		after = listing.Data.After
		if after == "" {
			break
		}
	}
	return opts.Truncate(jobs)
}

func feedPath(sourceURL string) (string, error) {
	parsed, err := url.Parse(sourceURL)
	if err != nil {
		return "", fmt.Errorf("parse feed url: %w", err)
	}
	match := redditPath.FindString(parsed.Path)
	if match == "" {
		return "", fmt.Errorf("no feed path in %s", sourceURL)
	}
	return match, nil
}

func (r *Reddit) fetchPage(ctx context.Context, feed, after string) (redditListing, error) {
	pageURL := fmt.Sprintf("https://www.reddit.com%s.json?raw_json=1&limit=%d", feed, redditPageSize)
	if after != "" {
		pageURL += "&after=" + url.QueryEscape(after)
	}
	resp, err := r.fetcher.Fetch(ctx, fetch.Request{URL: pageURL})
	if err != nil {
		return redditListing{}, err
	}
	var listing redditListing
	if err := json.Unmarshal(resp.Body, &listing); err != nil {
		return redditListing{}, fmt.Errorf("decode listing: %w", err)
	}
	return listing, nil
}

// classify routes one post into its handler family: native asset, gallery,
// aggregator short link, album page, hybrid extraction, or unhandled.
func (r *Reddit) classify(ctx context.Context, post redditPost, opts Options) []grab.Job {
	mediaURL := post.mediaURL()
	if mediaURL == "" {
		return nil
	}
	domain := strings.ToLower(post.Domain)

	switch {
	case post.GalleryData != nil:
		return r.galleryJobs(post, opts)

	case post.IsVideo:
		if !opts.Types.Allows(grab.MediaVideo) {
			return nil
		}
		// The post page, not the raw stream: video and audio are separate
		// DASH tracks that only the external tool can mux.
		return []grab.Job{{
			URL:      "https://www.reddit.com" + post.Permalink,
			Media:    grab.MediaVideo,
			Strategy: grab.StrategyExternal,
			ID:       post.ID,
			Title:    post.Title,
			Domain:   "reddit.com",
		}}

	case domain == "redgifs.com" || strings.HasSuffix(domain, ".redgifs.com"):
		return r.gifJob(ctx, post, mediaURL, opts)

	case isAlbumURL(mediaURL):
		return r.albumJobs(ctx, post, mediaURL, opts)

	case mediaKindOf(mediaURL) == grab.MediaImage:
		if !opts.Types.Allows(grab.MediaImage) {
			return nil
		}
		return []grab.Job{{
			URL:      mediaURL,
			Media:    grab.MediaImage,
			Strategy: grab.StrategyDirect,
			ID:       post.ID,
			Title:    post.Title,
			Domain:   grab.Host(mediaURL),
		}}

	case mediaKindOf(mediaURL) == grab.MediaGIF:
		if !opts.Types.Allows(grab.MediaGIF) {
			return nil
		}
		return []grab.Job{{
			URL:      mediaURL,
			Media:    grab.MediaGIF,
			Strategy: grab.StrategyDirect,
			ID:       post.ID,
			Title:    post.Title,
			Domain:   grab.Host(mediaURL),
		}}

	case onList(domain, opts.HybridExtract):
		return r.hybridJobs(ctx, post, mediaURL, opts)

	default:
		r.recordUnhandled(opts, mediaURL)
		return nil
	}
}

func (r *Reddit) galleryJobs(post redditPost, opts Options) []grab.Job {
	if !opts.Types.Allows(grab.MediaImage) {
		return nil
	}
	var jobs []grab.Job
	for _, item := range post.GalleryData.Items {
		meta, ok := post.MediaMetadata[item.MediaID]
		if !ok {
			continue
		}
		itemURL := meta.S.U
		if itemURL == "" {
			itemURL = meta.S.GIF
		}
		if itemURL == "" {
			continue
		}
		jobs = append(jobs, grab.Job{
			URL:          itemURL,
			Media:        grab.MediaImage,
			Strategy:     grab.StrategyDirect,
			ID:           post.ID + "_" + item.MediaID,
			Title:        post.Title,
			SeriesFolder: post.Title,
			Domain:       grab.Host(itemURL),
		})
	}
	return jobs
}

func (r *Reddit) gifJob(ctx context.Context, post redditPost, mediaURL string, opts Options) []grab.Job {
	if !opts.Types.Allows(grab.MediaVideo) && !opts.Types.Allows(grab.MediaGIF) {
		return nil
	}
	if r.gifs == nil {
		r.recordUnhandled(opts, mediaURL)
		return nil
	}
	job, err := r.gifs.LookupGif(ctx, mediaURL)
	if err != nil {
		r.logger.Error("gif lookup failed", zap.String("url", mediaURL), zap.Error(err))
		r.recordUnhandled(opts, mediaURL)
		return nil
	}
	if job.Title == "" {
		job.Title = post.Title
	}
	return []grab.Job{job}
}

func (r *Reddit) albumJobs(ctx context.Context, post redditPost, mediaURL string, opts Options) []grab.Job {
	if r.albums == nil {
		r.recordUnhandled(opts, mediaURL)
		return nil
	}
	jobs, err := r.albums.ScrapeAlbum(ctx, mediaURL, opts)
	if err != nil {
		r.logger.Error("album scrape failed", zap.String("url", mediaURL), zap.Error(err))
		r.recordUnhandled(opts, mediaURL)
		return nil
	}
	for i := range jobs {
		if jobs[i].SeriesFolder == "" {
			jobs[i].SeriesFolder = post.Title
		}
	}
	return jobs
}

// hybridJobs fetches the real media URL out-of-band via the external
// extractor so the range-parallel downloader can take it, falling back to a
// plain external-process download when extraction fails.
func (r *Reddit) hybridJobs(ctx context.Context, post redditPost, mediaURL string, opts Options) []grab.Job {
	if !opts.Types.Allows(grab.MediaVideo) {
		return nil
	}
	if r.extractor != nil {
		direct, err := r.extractor.ExtractURL(ctx, mediaURL)
		if err == nil && direct != "" {
			return []grab.Job{{
				URL:      direct,
				Media:    grab.MediaVideo,
				Strategy: grab.StrategyRange,
				ID:       post.ID,
				Title:    post.Title,
				Domain:   grab.Host(mediaURL),
			}}
		}
		r.logger.Warn("hybrid extraction failed, deferring to external download",
			zap.String("url", mediaURL),
			zap.Error(err),
		)
	}
	return []grab.Job{{
		URL:      mediaURL,
		Media:    grab.MediaVideo,
		Strategy: grab.StrategyExternal,
		ID:       post.ID,
		Title:    post.Title,
		Domain:   grab.Host(mediaURL),
	}}
}

func (r *Reddit) recordUnhandled(opts Options, url string) {
	if opts.Unhandled == nil {
		return
	}
	if err := opts.Unhandled.Append(url); err != nil {
		r.logger.Warn("failed to record unhandled url", zap.Error(err))
	}
}

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true}

func mediaKindOf(rawURL string) grab.MediaType {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	path := strings.ToLower(parsed.Path)
	switch {
	case strings.HasSuffix(path, ".gif") || strings.HasSuffix(path, ".gifv"):
		return grab.MediaGIF
	case imageExts[pathExt(path)]:
		return grab.MediaImage
	case strings.HasSuffix(path, ".mp4") || strings.HasSuffix(path, ".webm"):
		return grab.MediaVideo
	default:
		return ""
	}
}

func pathExt(p string) string {
	if idx := strings.LastIndex(p, "."); idx >= 0 {
		return p[idx:]
	}
	return ""
}

func isAlbumURL(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	if host != "imgur.com" {
		return false
	}
	return strings.HasPrefix(parsed.Path, "/a/") || strings.HasPrefix(parsed.Path, "/gallery/")
}

func onList(domain string, list []string) bool {
	domain = strings.ToLower(domain)
	for _, entry := range list {
		entry = strings.ToLower(entry)
		if domain == entry || strings.HasSuffix(domain, "."+entry) {
			return true
		}
	}
	return false
}

var _ Resolver = (*Reddit)(nil)
