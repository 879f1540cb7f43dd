package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RendererConfig controls the headless rendering fetcher.
type RendererConfig struct {
	MaxParallel  int
	UserAgent    string
	PollInterval time.Duration
	PollAttempts int
	DomainQPS    float64
	NavTimeout   time.Duration
}

// Renderer implements Fetcher by loading pages in an isolated, invisible
// browsing context and polling the rendered DOM for a marker. Several target
// sites only materialize media URLs via client-side script, which defeats a
// plain HTTP fetch.
type Renderer struct {
	cfg            RendererConfig
	allocator      context.Context
	allocCancel    context.CancelFunc
	sem            chan struct{}
	domainLimiters sync.Map
	logger         *zap.Logger
}

// NewRenderer creates a renderer backed by chromedp.
func NewRenderer(cfg RendererConfig, logger *zap.Logger) (*Renderer, error) {
	if cfg.MaxParallel <= 0 {
		return nil, fmt.Errorf("renderer max parallel must be > 0")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 25
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		sem:         make(chan struct{}, cfg.MaxParallel),
		logger:      logger,
	}, nil
}

// Close cancels the allocator context.
func (r *Renderer) Close() {
	r.allocCancel()
}

// Fetch navigates with a headless browser, waits for the request's marker,
// and returns the fully rendered DOM.
func (r *Renderer) Fetch(ctx context.Context, req Request) (Response, error) {
	release, err := r.acquireSlot(ctx)
	if err != nil {
		return Response{}, err
	}
	defer release()

	if err := r.waitDomainBudget(ctx, req.URL); err != nil {
		return Response{}, fmt.Errorf("render rate limit: %w", err)
	}

	tabCtx, cancelTab := chromedp.NewContext(r.allocator)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, r.cfg.NavTimeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	meta := newResponseMeta()
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	start := time.Now()
	html, err := r.runRender(taskCtx, req)
	if err != nil {
		return Response{}, err
	}

	status, headers := meta.snapshot()
	if status == 0 {
		status = http.StatusOK
	}
	return Response{
		URL:        req.URL,
		StatusCode: status,
		Headers:    headers,
		Body:       []byte(html),
		Duration:   time.Since(start),
		Rendered:   true,
	}, nil
}

func (r *Renderer) runRender(ctx context.Context, req Request) (string, error) {
	var html string
	actions := []chromedp.Action{
		network.Enable(),
	}
	if r.cfg.UserAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(r.cfg.UserAgent))
	}
	actions = append(actions,
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		r.waitForMarker(req.Wait),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, nil
}

// waitForMarker polls the DOM at the configured interval up to the bounded
// attempt count. A marker that never appears is not an error; the caller
// gets whatever HTML exists when the budget runs out.
func (r *Renderer) waitForMarker(m Marker) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if m.IsZero() {
			return nil
		}
		expr := markerExpr(m)
		for attempt := 0; attempt < r.cfg.PollAttempts; attempt++ {
			var found bool
			if err := chromedp.Evaluate(expr, &found).Do(ctx); err != nil {
				return fmt.Errorf("evaluate marker: %w", err)
			}
			if found {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.cfg.PollInterval):
			}
		}
		r.logger.Debug("render marker never appeared", zap.String("expr", expr))
		return nil
	})
}

func markerExpr(m Marker) string {
	switch {
	case m.Selector != "":
		return fmt.Sprintf("document.querySelector(%s) !== null", strconv.Quote(m.Selector))
	case m.Variable != "":
		return fmt.Sprintf("typeof %s !== 'undefined'", m.Variable)
	default:
		return fmt.Sprintf("document.documentElement.outerHTML.includes(%s)", strconv.Quote(m.Substring))
	}
}

func (r *Renderer) acquireSlot(ctx context.Context) (func(), error) {
	select {
	case r.sem <- struct{}{}:
		return func() { <-r.sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire render slot: %w", ctx.Err())
	}
}

func (r *Renderer) waitDomainBudget(ctx context.Context, rawURL string) error {
	if r.cfg.DomainQPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse render url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := r.domainLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(r.cfg.DomainQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	return nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

type responseMeta struct {
	mu      sync.Mutex
	status  int
	headers http.Header
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range resp.Response.Headers {
		headers.Add(key, fmt.Sprint(value))
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.headers = headers
	m.mu.Unlock()
}

func (m *responseMeta) snapshot() (int, http.Header) {
	m.mu.Lock()
	defer m.mu.Unlock()
	headers := make(http.Header, len(m.headers))
	for k, values := range m.headers {
		for _, v := range values {
			headers.Add(k, v)
		}
	}
	return m.status, headers
}
