package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/chrisdogtn/RedditGrabber-sub000/internal/runstate"
)

// Direct streams a single HTTP GET straight to the destination file.
type Direct struct {
	Client    *http.Client
	State     *runstate.State
	UserAgent string
	Logger    *zap.Logger
}

// Do executes the direct-stream strategy. The request's cancel handle is
// registered in run state before the transfer starts so a run-wide cancel
// aborts it; on any error the partial file is deleted.
func (d *Direct) Do(ctx context.Context, req Request) (Result, error) {
	dir := TargetDir(req)
	target := filepath.Join(dir, Stem(req.Job)+ExtFromURL(req.Job.URL, req.Job.Media))

	if fileExists(target) {
		return Result{Path: target, Duplicate: true}, nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Result{}, fmt.Errorf("create target dir: %w", err)
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if d.State != nil {
		unregister := d.State.RegisterRequest(cancel)
		defer unregister()
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, req.Job.URL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	if d.UserAgent != "" {
		httpReq.Header.Set("User-Agent", d.UserAgent)
	}

	resp, err := d.client().Do(httpReq)
	if err != nil {
		return Result{}, classify(reqCtx, fmt.Errorf("get %s: %w", req.Job.URL, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Result{}, fmt.Errorf("get %s: status %d", req.Job.URL, resp.StatusCode)
	}

	out, err := os.Create(target)
	if err != nil {
		return Result{}, fmt.Errorf("create file: %w", err)
	}

	writer := io.Writer(out)
	if req.OnProgress != nil && resp.ContentLength > 0 {
		writer = io.MultiWriter(out, &progressWriter{
			total: resp.ContentLength,
			on:    req.OnProgress,
		})
	}

	_, copyErr := io.Copy(writer, resp.Body)
	closeErr := out.Close()

	if copyErr != nil || closeErr != nil {
		removePartial(target)
		if copyErr == nil {
			copyErr = closeErr
		}
		return Result{}, classify(reqCtx, fmt.Errorf("stream %s: %w", req.Job.URL, copyErr))
	}

	if req.OnProgress != nil {
		req.OnProgress(100)
	}
	return Result{Path: target}, nil
}

func (d *Direct) client() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return http.DefaultClient
}

// progressWriter converts a byte stream into percent callbacks.
type progressWriter struct {
	total    int64
	received int64
	on       func(float64)
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.received += int64(len(p))
	if w.total > 0 {
		w.on(float64(w.received) * 100 / float64(w.total))
	}
	return len(p), nil
}

var _ Downloader = (*Direct)(nil)
