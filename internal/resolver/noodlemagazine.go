package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chrisdogtn/RedditGrabber-sub000/internal/fetch"
	"github.com/chrisdogtn/RedditGrabber-sub000/internal/grab"
)

// Detail-page fan-out cap for profile listings.
const noodleDetailParallel = 8

// Noodle resolves watch pages and profile listings on a site whose player
// URL is materialized by client-side script: single pages go through the
// rendered fetcher, profile listings walk a JSON POST API with index-based
// pagination (first page carries the total count).
type Noodle struct {
	client   fetch.Fetcher // plain HTTP, for the listing API
	renderer fetch.Fetcher // headless, for watch pages
	siteURL  string
	logger   *zap.Logger
}

// NewNoodle builds the resolver. siteURL overrides the production host in
// tests; pass "" for the default.
func NewNoodle(client, renderer fetch.Fetcher, siteURL string, logger *zap.Logger) *Noodle {
	if siteURL == "" {
		siteURL = "https://noodlemagazine.com"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Noodle{client: client, renderer: renderer, siteURL: siteURL, logger: logger}
}

// Name implements Resolver.
func (n *Noodle) Name() string { return "noodlemagazine" }

// CanHandle claims watch and profile URLs on the site.
func (n *Noodle) CanHandle(rawURL string) bool {
	host := grab.Host(rawURL)
	return host == "noodlemagazine.com" || strings.HasSuffix(host, ".noodlemagazine.com")
}

// Resolve routes watch pages to the rendered scrape and profile pages to
// the listing walk.
func (n *Noodle) Resolve(ctx context.Context, rawURL string, opts Options) []grab.Job {
	if !opts.Types.Allows(grab.MediaVideo) {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		n.logger.Error("bad source url", zap.String("url", rawURL), zap.Error(err))
		return nil
	}
	if strings.HasPrefix(parsed.Path, "/watch/") {
		job, err := n.scrapeWatch(ctx, rawURL)
		if err != nil {
			n.logger.Error("watch scrape failed", zap.String("url", rawURL), zap.Error(err))
			return nil
		}
		return opts.Truncate([]grab.Job{job})
	}
	return opts.Truncate(n.resolveProfile(ctx, parsed, opts))
}

var noodleFileRe = regexp.MustCompile(`"file"\s*:\s*"(https?:[^"]+?\.(?:mp4|m3u8)[^"]*)"`)

// scrapeWatch renders the watch page, waiting for the script-injected
// playlist, and pulls the stream URL out of the final HTML.
func (n *Noodle) scrapeWatch(ctx context.Context, watchURL string) (grab.Job, error) {
	resp, err := n.renderer.Fetch(ctx, fetch.Request{
		URL:  watchURL,
		Wait: fetch.Marker{Variable: "window.playlist"},
	})
	if err != nil {
		return grab.Job{}, fmt.Errorf("render watch page: %w", err)
	}

	match := noodleFileRe.FindSubmatch(resp.Body)
	if match == nil {
		return grab.Job{}, fmt.Errorf("no stream url in rendered page %s", watchURL)
	}
	streamURL := strings.ReplaceAll(string(match[1]), `\/`, "/")

	id := watchID(watchURL)
	return grab.Job{
		URL:      streamURL,
		Media:    grab.MediaVideo,
		Strategy: grab.StrategyRange,
		ID:       id,
		Title:    id,
		Domain:   "noodlemagazine.com",
	}, nil
}

type noodlePage struct {
	Total  int `json:"total"`
	Videos []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"videos"`
}

// resolveProfile walks the listing API: the first page returns the total
// count, subsequent pages use an incrementing index until the cumulative
// collected count reaches the total or a page comes back empty. Watch pages
// for the listed videos are scraped with a bounded fan-out.
func (n *Noodle) resolveProfile(ctx context.Context, profile *url.URL, opts Options) []grab.Job {
	profileID := strings.Trim(profile.Path, "/")

	type listed struct {
		id    string
		title string
	}
	var videos []listed
	total := -1
	index := firstIndex(opts)
	for {
		if opts.Stop() || opts.Reached(len(videos)) {
			break
		}
		if opts.PageEnd > 0 && index >= opts.PageEnd {
			break
		}
		page, err := n.fetchProfilePage(ctx, profileID, index)
		if err != nil {
			n.logger.Error("profile page fetch failed",
				zap.String("profile", profileID),
				zap.Int("index", index),
				zap.Error(err),
			)
			break
		}
		if total < 0 {
			total = page.Total
		}
		if len(page.Videos) == 0 {
			break
		}
		for _, v := range page.Videos {
			videos = append(videos, listed{id: v.ID, title: v.Title})
		}
		if total >= 0 && len(videos) >= total {
			break
		}
		index++
	}

	if opts.MaxLinks > 0 && len(videos) > opts.MaxLinks {
		videos = videos[:opts.MaxLinks]
	}

	// Scrape watch pages with a bounded fan-out so one profile cannot open
	// unbounded rendering work.
	jobs := make([]grab.Job, len(videos))
	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(noodleDetailParallel)
	for idx, v := range videos {
		group.Go(func() error {
			if opts.Stop() {
				return nil
			}
			job, err := n.scrapeWatch(groupCtx, fmt.Sprintf("%s/watch/%s", n.siteURL, v.id))
			if err != nil {
				n.logger.Error("profile video scrape failed", zap.String("id", v.id), zap.Error(err))
				return nil
			}
			if v.title != "" {
				job.Title = v.title
			}
			job.SeriesFolder = profileID
			mu.Lock()
			jobs[idx] = job
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	out := jobs[:0]
	for _, job := range jobs {
		if job.URL != "" {
			out = append(out, job)
		}
	}
	return out
}

func (n *Noodle) fetchProfilePage(ctx context.Context, profileID string, index int) (noodlePage, error) {
	body, err := json.Marshal(map[string]any{
		"mode":        "profile",
		"getMoreMode": "videos",
		"profile":     profileID,
		"index":       index,
	})
	if err != nil {
		return noodlePage{}, fmt.Errorf("encode listing request: %w", err)
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	resp, err := n.client.Fetch(ctx, fetch.Request{
		URL:     n.siteURL + "/api/listing",
		Method:  http.MethodPost,
		Body:    body,
		Headers: headers,
	})
	if err != nil {
		return noodlePage{}, err
	}

	var page noodlePage
	if err := json.Unmarshal(resp.Body, &page); err != nil {
		return noodlePage{}, fmt.Errorf("decode listing page: %w", err)
	}
	return page, nil
}

func firstIndex(opts Options) int {
	if opts.PageStart > 0 {
		return opts.PageStart - 1
	}
	return 0
}

func watchID(watchURL string) string {
	trimmed := strings.Trim(watchURL, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	return trimmed
}

var _ Resolver = (*Noodle)(nil)
