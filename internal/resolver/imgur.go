package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/chrisdogtn/RedditGrabber-sub000/internal/fetch"
	"github.com/chrisdogtn/RedditGrabber-sub000/internal/grab"
)

// Imgur resolves single images, albums, and galleries. Albums use the
// listing endpoint; single pages fall back to scraping the og:image meta
// tag from the page HTML.
type Imgur struct {
	fetcher fetch.Fetcher
	siteURL string
	logger  *zap.Logger
}

// NewImgur builds the resolver. siteURL overrides the production host in
// tests; pass "" for the default.
func NewImgur(fetcher fetch.Fetcher, siteURL string, logger *zap.Logger) *Imgur {
	if siteURL == "" {
		siteURL = "https://imgur.com"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Imgur{fetcher: fetcher, siteURL: siteURL, logger: logger}
}

// Name implements Resolver.
func (i *Imgur) Name() string { return "imgur" }

// CanHandle claims imgur pages and direct asset links.
func (i *Imgur) CanHandle(rawURL string) bool {
	host := grab.Host(rawURL)
	return host == "imgur.com" || host == "i.imgur.com"
}

// Resolve handles direct links, albums, and single-image pages.
func (i *Imgur) Resolve(ctx context.Context, rawURL string, opts Options) []grab.Job {
	if !opts.Types.Allows(grab.MediaImage) && !opts.Types.Allows(grab.MediaGIF) {
		return nil
	}

	if grab.Host(rawURL) == "i.imgur.com" {
		return opts.Truncate(i.directJob(rawURL))
	}

	if isAlbumURL(rawURL) {
		jobs, err := i.ScrapeAlbum(ctx, rawURL, opts)
		if err != nil {
			i.logger.Error("album resolve failed", zap.String("url", rawURL), zap.Error(err))
			return nil
		}
		return opts.Truncate(jobs)
	}

	return opts.Truncate(i.scrapePage(ctx, rawURL))
}

// ScrapeAlbum implements AlbumScraper: one image job per album item,
// grouped under a series folder named for the album.
func (i *Imgur) ScrapeAlbum(ctx context.Context, rawURL string, opts Options) ([]grab.Job, error) {
	hash, err := albumHash(rawURL)
	if err != nil {
		return nil, err
	}

	resp, err := i.fetcher.Fetch(ctx, fetch.Request{
		URL: fmt.Sprintf("%s/ajaxalbums/getimages/%s/hit.json", i.siteURL, hash),
	})
	if err != nil {
		return nil, fmt.Errorf("album listing: %w", err)
	}

	var payload struct {
		Data struct {
			Images []struct {
				Hash  string `json:"hash"`
				Ext   string `json:"ext"`
				Title string `json:"title"`
			} `json:"images"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("decode album listing: %w", err)
	}

	var jobs []grab.Job
	for idx, image := range payload.Data.Images {
		if opts.Stop() {
			break
		}
		if image.Hash == "" || image.Ext == "" {
			continue
		}
		media := grab.MediaImage
		if strings.EqualFold(image.Ext, ".gif") {
			media = grab.MediaGIF
		}
		if !opts.Types.Allows(media) {
			continue
		}
		title := image.Title
		if title == "" {
			title = fmt.Sprintf("item_%03d", idx+1)
		}
		jobs = append(jobs, grab.Job{
			URL:          fmt.Sprintf("https://i.imgur.com/%s%s", image.Hash, image.Ext),
			Media:        media,
			Strategy:     grab.StrategyDirect,
			ID:           image.Hash,
			Title:        title,
			SeriesFolder: hash,
			Domain:       "imgur.com",
		})
	}
	return jobs, nil
}

// scrapePage extracts the og:image target from a single-image page.
func (i *Imgur) scrapePage(ctx context.Context, rawURL string) []grab.Job {
	resp, err := i.fetcher.Fetch(ctx, fetch.Request{URL: rawURL})
	if err != nil {
		i.logger.Error("page fetch failed", zap.String("url", rawURL), zap.Error(err))
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		i.logger.Error("page parse failed", zap.String("url", rawURL), zap.Error(err))
		return nil
	}

	imageURL, ok := doc.Find(`meta[property="og:image"]`).Attr("content")
	if !ok || imageURL == "" {
		i.logger.Warn("page has no og:image", zap.String("url", rawURL))
		return nil
	}
	// Strip tracking query params from the asset URL.
	if idx := strings.Index(imageURL, "?"); idx >= 0 {
		imageURL = imageURL[:idx]
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	return i.directJobTitled(imageURL, title)
}

func (i *Imgur) directJob(rawURL string) []grab.Job {
	return i.directJobTitled(rawURL, "")
}

func (i *Imgur) directJobTitled(rawURL, title string) []grab.Job {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	base := strings.TrimSuffix(strings.Trim(parsed.Path, "/"), "/")
	id := base
	if idx := strings.LastIndex(base, "."); idx > 0 {
		id = base[:idx]
	}
	media := grab.MediaImage
	if strings.HasSuffix(strings.ToLower(parsed.Path), ".gif") {
		media = grab.MediaGIF
	}
	if title == "" {
		title = id
	}
	return []grab.Job{{
		URL:      rawURL,
		Media:    media,
		Strategy: grab.StrategyDirect,
		ID:       id,
		Title:    title,
		Domain:   "imgur.com",
	}}
}

func albumHash(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse album url: %w", err)
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(segments) < 2 {
		return "", fmt.Errorf("no album hash in %s", rawURL)
	}
	return segments[len(segments)-1], nil
}

var (
	_ Resolver     = (*Imgur)(nil)
	_ AlbumScraper = (*Imgur)(nil)
)
