package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chrisdogtn/RedditGrabber-sub000/internal/runstate"
)

// RangeParallel splits one large file into N byte-range requests downloaded
// concurrently and concatenated in index order. Servers that cannot serve
// ranges, HEAD failures, and files smaller than roughly twice the chunk size
// all fall back transparently to the single-stream path.
type RangeParallel struct {
	Client      *http.Client
	ChunkSize   int64
	Connections int
	Fallback    *Direct
	State       *runstate.State
	UserAgent   string
	Logger      *zap.Logger
}

// Do executes the range-parallel strategy.
func (r *RangeParallel) Do(ctx context.Context, req Request) (Result, error) {
	dir := TargetDir(req)
	target := filepath.Join(dir, Stem(req.Job)+ExtFromURL(req.Job.URL, req.Job.Media))

	if fileExists(target) {
		return Result{Path: target, Duplicate: true}, nil
	}

	length, ok := r.probe(ctx, req.Job.URL)
	if !ok || length < 2*r.chunkSize() {
		if r.Logger != nil {
			r.Logger.Debug("range download falling back to direct stream",
				zap.String("url", req.Job.URL),
				zap.Int64("length", length),
			)
		}
		return r.Fallback.Do(ctx, req)
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Result{}, fmt.Errorf("create target dir: %w", err)
	}

	partsDir := target + ".parts"
	if err := os.MkdirAll(partsDir, 0o750); err != nil {
		return Result{}, fmt.Errorf("create parts dir: %w", err)
	}

	groupCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if r.State != nil {
		unregister := r.State.RegisterRequest(cancel)
		defer unregister()
	}

	ranges := splitRanges(length, r.connections())
	var received atomic.Int64
	group, chunkCtx := errgroup.WithContext(groupCtx)
	for i, rng := range ranges {
		group.Go(func() error {
			return r.fetchChunk(chunkCtx, req.Job.URL, partsDir, i, rng, &received, length, req.OnProgress)
		})
	}

	if err := group.Wait(); err != nil {
		_ = os.RemoveAll(partsDir)
		return Result{}, classify(groupCtx, fmt.Errorf("range download %s: %w", req.Job.URL, err))
	}

	if err := concatChunks(target, partsDir, len(ranges)); err != nil {
		removePartial(target)
		_ = os.RemoveAll(partsDir)
		return Result{}, fmt.Errorf("assemble %s: %w", target, err)
	}
	if err := os.RemoveAll(partsDir); err != nil {
		return Result{}, fmt.Errorf("clean parts dir: %w", err)
	}

	if req.OnProgress != nil {
		req.OnProgress(100)
	}
	return Result{Path: target}, nil
}

// probe issues the preliminary HEAD request. Any failure, including method
// not allowed, reports not-ok so the caller falls back rather than failing
// the job outright.
func (r *RangeParallel) probe(ctx context.Context, url string) (int64, bool) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, false
	}
	if r.UserAgent != "" {
		httpReq.Header.Set("User-Agent", r.UserAgent)
	}
	resp, err := r.client().Do(httpReq)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, false
	}
	if resp.Header.Get("Accept-Ranges") != "bytes" {
		return 0, false
	}
	if resp.ContentLength <= 0 {
		return 0, false
	}
	return resp.ContentLength, true
}

type byteRange struct {
	start int64
	end   int64 // inclusive
}

func splitRanges(length int64, n int) []byteRange {
	if n < 1 {
		n = 1
	}
	size := length / int64(n)
	ranges := make([]byteRange, 0, n)
	var start int64
	for i := 0; i < n; i++ {
		end := start + size - 1
		if i == n-1 {
			end = length - 1
		}
		ranges = append(ranges, byteRange{start: start, end: end})
		start = end + 1
	}
	return ranges
}

func (r *RangeParallel) fetchChunk(
	ctx context.Context,
	url, partsDir string,
	index int,
	rng byteRange,
	received *atomic.Int64,
	total int64,
	onProgress func(float64),
) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build chunk request: %w", err)
	}
	httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", rng.start, rng.end))
	if r.UserAgent != "" {
		httpReq.Header.Set("User-Agent", r.UserAgent)
	}

	resp, err := r.client().Do(httpReq)
	if err != nil {
		return fmt.Errorf("chunk %d: %w", index, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("chunk %d: status %d", index, resp.StatusCode)
	}

	out, err := os.Create(chunkPath(partsDir, index))
	if err != nil {
		return fmt.Errorf("chunk %d: create: %w", index, err)
	}

	writer := io.MultiWriter(out, countingWriter(func(n int) {
		got := received.Add(int64(n))
		if onProgress != nil && total > 0 {
			onProgress(float64(got) * 100 / float64(total))
		}
	}))
	_, copyErr := io.Copy(writer, resp.Body)
	closeErr := out.Close()
	if copyErr != nil {
		return fmt.Errorf("chunk %d: %w", index, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("chunk %d: flush: %w", index, closeErr)
	}
	return nil
}

func chunkPath(partsDir string, index int) string {
	return filepath.Join(partsDir, fmt.Sprintf("chunk_%04d", index))
}

// concatChunks stitches the chunk files together in index order once every
// chunk writer has flushed.
func concatChunks(target, partsDir string, n int) error {
	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create target: %w", err)
	}
	defer out.Close()

	for i := 0; i < n; i++ {
		in, err := os.Open(chunkPath(partsDir, i))
		if err != nil {
			return fmt.Errorf("open chunk %d: %w", i, err)
		}
		_, copyErr := io.Copy(out, in)
		in.Close()
		if copyErr != nil {
			return fmt.Errorf("copy chunk %d: %w", i, copyErr)
		}
	}
	return out.Sync()
}

func (r *RangeParallel) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return http.DefaultClient
}

func (r *RangeParallel) chunkSize() int64 {
	if r.ChunkSize > 0 {
		return r.ChunkSize
	}
	return 8 * 1024 * 1024
}

func (r *RangeParallel) connections() int {
	if r.Connections > 0 {
		return r.Connections
	}
	return 4
}

func countingWriter(on func(int)) io.Writer {
	return writerFunc(func(p []byte) (int, error) {
		on(len(p))
		return len(p), nil
	})
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

var _ Downloader = (*RangeParallel)(nil)
