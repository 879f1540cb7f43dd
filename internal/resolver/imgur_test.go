package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chrisdogtn/RedditGrabber-sub000/internal/grab"
)

const imgurSite = "https://imgur.test"

func TestImgur_CanHandle(t *testing.T) {
	t.Parallel()

	i := NewImgur(nil, imgurSite, zap.NewNop())
	require.True(t, i.CanHandle("https://imgur.com/a/xyz123"))
	require.True(t, i.CanHandle("https://i.imgur.com/abc.jpg"))
	require.False(t, i.CanHandle("https://example.com/abc.jpg"))
}

func TestScrapeAlbum_ListsMembersUnderSeriesFolder(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]string{
		imgurSite + "/ajaxalbums/getimages/xyz123/hit.json": `{"data":{"images":[
			{"hash":"aaa","ext":".jpg","title":"first"},
			{"hash":"bbb","ext":".gif","title":""},
			{"hash":"","ext":".jpg","title":"broken"}
		]}}`,
	}}
	i := NewImgur(fetcher, imgurSite, zap.NewNop())

	jobs, err := i.ScrapeAlbum(context.Background(), "https://imgur.com/a/xyz123", Options{Types: allTypes()})
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	require.Equal(t, "https://i.imgur.com/aaa.jpg", jobs[0].URL)
	require.Equal(t, grab.MediaImage, jobs[0].Media)
	require.Equal(t, "first", jobs[0].Title)
	require.Equal(t, "xyz123", jobs[0].SeriesFolder)

	// Untitled items get a positional name; .gif members are typed as GIF.
	require.Equal(t, grab.MediaGIF, jobs[1].Media)
	require.Equal(t, "item_002", jobs[1].Title)
}

func TestResolve_GalleryURLUsesAlbumListing(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]string{
		imgurSite + "/ajaxalbums/getimages/abc9/hit.json": `{"data":{"images":[{"hash":"ccc","ext":".png","title":"shot"}]}}`,
	}}
	i := NewImgur(fetcher, imgurSite, zap.NewNop())

	jobs := i.Resolve(context.Background(), "https://imgur.com/gallery/abc9", Options{Types: allTypes()})
	require.Len(t, jobs, 1)
	require.Equal(t, "https://i.imgur.com/ccc.png", jobs[0].URL)
}

func TestResolve_SinglePageScrapesOgImage(t *testing.T) {
	t.Parallel()

	page := `<html><head>
		<title>A mountain - Imgur</title>
		<meta property="og:image" content="https://i.imgur.com/ddd.jpg?fb"/>
	</head><body></body></html>`
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://imgur.com/ddd": page,
	}}
	i := NewImgur(fetcher, imgurSite, zap.NewNop())

	jobs := i.Resolve(context.Background(), "https://imgur.com/ddd", Options{Types: allTypes()})
	require.Len(t, jobs, 1)
	// Tracking query params are stripped from the asset URL.
	require.Equal(t, "https://i.imgur.com/ddd.jpg", jobs[0].URL)
	require.Equal(t, "A mountain - Imgur", jobs[0].Title)
	require.Equal(t, grab.StrategyDirect, jobs[0].Strategy)
}

func TestResolve_DirectAssetLinkNeedsNoFetch(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]string{}}
	i := NewImgur(fetcher, imgurSite, zap.NewNop())

	jobs := i.Resolve(context.Background(), "https://i.imgur.com/eee.gif", Options{Types: allTypes()})
	require.Len(t, jobs, 1)
	require.Equal(t, grab.MediaGIF, jobs[0].Media)
	require.Equal(t, "eee", jobs[0].ID)
	require.Empty(t, fetcher.fetched())
}

func TestImgur_ResolveHonorsTypeFilter(t *testing.T) {
	t.Parallel()

	i := NewImgur(&fakeFetcher{}, imgurSite, zap.NewNop())
	jobs := i.Resolve(context.Background(), "https://i.imgur.com/eee.jpg", Options{
		Types: grab.TypeFilters{Videos: true},
	})
	require.Empty(t, jobs)
}
