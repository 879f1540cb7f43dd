package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chrisdogtn/RedditGrabber-sub000/internal/config"
	"github.com/chrisdogtn/RedditGrabber-sub000/internal/dispatch"
	"github.com/chrisdogtn/RedditGrabber-sub000/internal/grab"
	"github.com/chrisdogtn/RedditGrabber-sub000/internal/runstate"
)

type fakeController struct {
	mu        sync.Mutex
	running   bool
	ran       [][]*grab.SourceItem
	cancelled int
	skipped   int
	started   chan struct{}
}

func (f *fakeController) Run(_ context.Context, sources []*grab.SourceItem) (dispatch.Summary, error) {
	f.mu.Lock()
	f.ran = append(f.ran, sources)
	f.mu.Unlock()
	if f.started != nil {
		close(f.started)
	}
	return dispatch.Summary{State: dispatch.RunComplete}, nil
}

func (f *fakeController) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
}

func (f *fakeController) Skip() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skipped++
}

func (f *fakeController) Status() dispatch.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return dispatch.Status{Running: f.running, Resolvers: []string{"redgifs", "reddit"}}
}

func (f *fakeController) Active() []runstate.ActiveDownload {
	return []runstate.ActiveDownload{{Name: "clip", URL: "https://v.example/clip.mp4", Domain: "v.example", Percent: 40}}
}

func newTestServer(ctrl *fakeController) *Server {
	cfg := config.Config{
		Sites: config.SitesConfig{Supported: []string{"redgifs.com", "noodlemagazine.com"}},
	}
	return NewServer(ctrl, cfg, prometheus.NewRegistry(), zap.NewNop())
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec := doRequest(newTestServer(&fakeController{}), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestGetStatus(t *testing.T) {
	t.Parallel()

	rec := doRequest(newTestServer(&fakeController{}), http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"running":false`)
	require.Contains(t, rec.Body.String(), `"redgifs"`)
}

func TestGetActive(t *testing.T) {
	t.Parallel()

	rec := doRequest(newTestServer(&fakeController{}), http.MethodGet, "/v1/active", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"clip"`)
}

func TestStartRun_AcceptsAndClassifies(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{started: make(chan struct{})}
	s := newTestServer(ctrl)

	body := `{"sources":[
		{"url":"https://www.reddit.com/r/pics"},
		{"url":"https://www.redgifs.com/watch/someclip"}
	]}`
	rec := doRequest(s, http.MethodPost, "/v1/runs", body)
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-ctrl.started:
	case <-time.After(2 * time.Second):
		t.Fatal("run was never started")
	}

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	require.Len(t, ctrl.ran, 1)
	sources := ctrl.ran[0]
	require.Len(t, sources, 2)
	require.Equal(t, grab.KindCommunityFeed, sources[0].Kind)
	require.Equal(t, grab.SourcePending, sources[0].Status)
	require.Equal(t, grab.KindDirectSite, sources[1].Kind)
	require.Equal(t, "redgifs.com", sources[1].Domain)
}

func TestStartRun_RejectsBadJSON(t *testing.T) {
	t.Parallel()

	rec := doRequest(newTestServer(&fakeController{}), http.MethodPost, "/v1/runs", "{nope")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartRun_RejectsEmptySources(t *testing.T) {
	t.Parallel()

	rec := doRequest(newTestServer(&fakeController{}), http.MethodPost, "/v1/runs", `{"sources":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartRun_RejectsRelativeURL(t *testing.T) {
	t.Parallel()

	rec := doRequest(newTestServer(&fakeController{}), http.MethodPost, "/v1/runs", `{"sources":[{"url":"/r/pics"}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "absolute")
}

func TestStartRun_RejectsUnsupportedDomain(t *testing.T) {
	t.Parallel()

	rec := doRequest(newTestServer(&fakeController{}), http.MethodPost, "/v1/runs",
		`{"sources":[{"url":"https://unknown-site.example/profile"}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "supported list")
}

func TestStartRun_ConflictWhileRunning(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{running: true}
	rec := doRequest(newTestServer(ctrl), http.MethodPost, "/v1/runs",
		`{"sources":[{"url":"https://www.reddit.com/r/pics"}]}`)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelAndSkip(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{}
	s := newTestServer(ctrl)

	rec := doRequest(s, http.MethodPost, "/v1/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(s, http.MethodPost, "/v1/skip", "")
	require.Equal(t, http.StatusOK, rec.Code)

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	require.Equal(t, 1, ctrl.cancelled)
	require.Equal(t, 1, ctrl.skipped)
}

func TestRequestIDPropagates(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeController{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "grab_test_total"})
	reg.MustRegister(counter)
	counter.Inc()

	s := NewServer(&fakeController{}, config.Config{}, reg, zap.NewNop())
	rec := doRequest(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "grab_test_total 1")
}
