package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/chrisdogtn/RedditGrabber-sub000/internal/fetch"
	"github.com/chrisdogtn/RedditGrabber-sub000/internal/grab"
)

// Redgifs resolves aggregator short links through the site's JSON API. The
// API wants a bearer token, fetched once and cached for the process
// lifetime.
type Redgifs struct {
	fetcher fetch.Fetcher
	apiBase string
	logger  *zap.Logger

	mu    sync.Mutex
	token string
}

// NewRedgifs builds the resolver. apiBase overrides the production API root
// in tests; pass "" for the default.
func NewRedgifs(fetcher fetch.Fetcher, apiBase string, logger *zap.Logger) *Redgifs {
	if apiBase == "" {
		apiBase = "https://api.redgifs.com"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redgifs{fetcher: fetcher, apiBase: apiBase, logger: logger}
}

// Name implements Resolver.
func (r *Redgifs) Name() string { return "redgifs" }

// CanHandle claims watch URLs on the aggregator domain.
func (r *Redgifs) CanHandle(rawURL string) bool {
	host := grab.Host(rawURL)
	return host == "redgifs.com" || strings.HasSuffix(host, ".redgifs.com")
}

// Resolve handles a single watch URL as a direct-site source.
func (r *Redgifs) Resolve(ctx context.Context, rawURL string, opts Options) []grab.Job {
	if !opts.Types.Allows(grab.MediaVideo) && !opts.Types.Allows(grab.MediaGIF) {
		return nil
	}
	job, err := r.LookupGif(ctx, rawURL)
	if err != nil {
		r.logger.Error("gif resolve failed", zap.String("url", rawURL), zap.Error(err))
		return nil
	}
	return []grab.Job{job}
}

// LookupGif implements GifLookup for the community-feed resolver.
func (r *Redgifs) LookupGif(ctx context.Context, rawURL string) (grab.Job, error) {
	id, err := gifID(rawURL)
	if err != nil {
		return grab.Job{}, err
	}

	token, err := r.bearerToken(ctx)
	if err != nil {
		return grab.Job{}, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)
	resp, err := r.fetcher.Fetch(ctx, fetch.Request{
		URL:     fmt.Sprintf("%s/v2/gifs/%s", r.apiBase, id),
		Headers: headers,
	})
	if err != nil {
		return grab.Job{}, fmt.Errorf("gif info: %w", err)
	}

	var payload struct {
		Gif struct {
			ID   string `json:"id"`
			URLs struct {
				HD string `json:"hd"`
				SD string `json:"sd"`
			} `json:"urls"`
		} `json:"gif"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return grab.Job{}, fmt.Errorf("decode gif info: %w", err)
	}

	mediaURL := payload.Gif.URLs.HD
	if mediaURL == "" {
		mediaURL = payload.Gif.URLs.SD
	}
	if mediaURL == "" {
		return grab.Job{}, fmt.Errorf("no media urls for gif %s", id)
	}

	return grab.Job{
		URL:      mediaURL,
		Media:    grab.MediaVideo,
		Strategy: grab.StrategyRange,
		ID:       payload.Gif.ID,
		Title:    payload.Gif.ID,
		Domain:   "redgifs.com",
	}, nil
}

// bearerToken fetches the temporary auth token on first use and caches it
// for the process lifetime.
func (r *Redgifs) bearerToken(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.token != "" {
		return r.token, nil
	}

	resp, err := r.fetcher.Fetch(ctx, fetch.Request{URL: r.apiBase + "/v2/auth/temporary"})
	if err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	if payload.Token == "" {
		return "", fmt.Errorf("token exchange returned empty token")
	}
	r.token = payload.Token
	return r.token, nil
}

func gifID(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse gif url: %w", err)
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(segments) == 0 || segments[len(segments)-1] == "" {
		return "", fmt.Errorf("no gif id in %s", rawURL)
	}
	id := segments[len(segments)-1]
	// Thumbnail hosts carry the id as "<id>-mobile.jpg" style names.
	id = strings.SplitN(id, "-", 2)[0]
	id = strings.SplitN(id, ".", 2)[0]
	return strings.ToLower(id), nil
}

var (
	_ Resolver  = (*Redgifs)(nil)
	_ GifLookup = (*Redgifs)(nil)
)
