package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chrisdogtn/RedditGrabber-sub000/internal/grab"
)

const redgifsAPI = "https://api.test"

func redgifsFixtures(pages map[string]string) *fakeFetcher {
	base := map[string]string{
		redgifsAPI + "/v2/auth/temporary": `{"token":"tok-1"}`,
	}
	for k, v := range pages {
		base[k] = v
	}
	return &fakeFetcher{pages: base}
}

func TestRedgifs_CanHandle(t *testing.T) {
	t.Parallel()

	r := NewRedgifs(nil, redgifsAPI, zap.NewNop())
	require.True(t, r.CanHandle("https://www.redgifs.com/watch/someclip"))
	require.True(t, r.CanHandle("https://media.redgifs.com/SomeClip.mp4"))
	require.False(t, r.CanHandle("https://imgur.com/a/xyz"))
}

func TestLookupGif_PrefersHDAndCachesToken(t *testing.T) {
	t.Parallel()

	fetcher := redgifsFixtures(map[string]string{
		redgifsAPI + "/v2/gifs/someclip": `{"gif":{"id":"someclip","urls":{"hd":"https://media.test/SomeClip.mp4","sd":"https://media.test/SomeClip-mobile.mp4"}}}`,
		redgifsAPI + "/v2/gifs/other":    `{"gif":{"id":"other","urls":{"sd":"https://media.test/Other-mobile.mp4"}}}`,
	})
	r := NewRedgifs(fetcher, redgifsAPI, zap.NewNop())

	job, err := r.LookupGif(context.Background(), "https://www.redgifs.com/watch/SomeClip")
	require.NoError(t, err)
	require.Equal(t, "https://media.test/SomeClip.mp4", job.URL)
	require.Equal(t, grab.MediaVideo, job.Media)
	require.Equal(t, grab.StrategyRange, job.Strategy)
	require.Equal(t, "redgifs.com", job.Domain)

	// SD is the fallback when no HD rendition exists; the token endpoint is
	// not hit a second time.
	job, err = r.LookupGif(context.Background(), "https://www.redgifs.com/watch/other")
	require.NoError(t, err)
	require.Equal(t, "https://media.test/Other-mobile.mp4", job.URL)

	tokenFetches := 0
	for _, u := range fetcher.fetched() {
		if u == redgifsAPI+"/v2/auth/temporary" {
			tokenFetches++
		}
	}
	require.Equal(t, 1, tokenFetches)
}

func TestLookupGif_ThumbnailNameReducesToID(t *testing.T) {
	t.Parallel()

	fetcher := redgifsFixtures(map[string]string{
		redgifsAPI + "/v2/gifs/someclip": `{"gif":{"id":"someclip","urls":{"hd":"https://media.test/SomeClip.mp4"}}}`,
	})
	r := NewRedgifs(fetcher, redgifsAPI, zap.NewNop())

	job, err := r.LookupGif(context.Background(), "https://thumbs.redgifs.com/SomeClip-mobile.jpg")
	require.NoError(t, err)
	require.Equal(t, "someclip", job.ID)
}

func TestLookupGif_NoRenditionsIsAnError(t *testing.T) {
	t.Parallel()

	fetcher := redgifsFixtures(map[string]string{
		redgifsAPI + "/v2/gifs/gone": `{"gif":{"id":"gone","urls":{}}}`,
	})
	r := NewRedgifs(fetcher, redgifsAPI, zap.NewNop())

	_, err := r.LookupGif(context.Background(), "https://www.redgifs.com/watch/gone")
	require.Error(t, err)
}

func TestRedgifs_ResolveHonorsTypeFilter(t *testing.T) {
	t.Parallel()

	fetcher := redgifsFixtures(nil)
	r := NewRedgifs(fetcher, redgifsAPI, zap.NewNop())

	jobs := r.Resolve(context.Background(), "https://www.redgifs.com/watch/someclip", Options{
		Types: grab.TypeFilters{Images: true},
	})
	require.Empty(t, jobs)
	require.Empty(t, fetcher.fetched())
}
