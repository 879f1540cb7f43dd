package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/chrisdogtn/RedditGrabber-sub000/internal/grab"
)

// Tool is the extractor capability the external strategy shells out to.
// Implemented by extractor.Tool.
type Tool interface {
	Download(ctx context.Context, url, outputTemplate string, onProgress func(float64)) error
}

// UnhandledSink receives URLs the external tool gave up on.
type UnhandledSink interface {
	Append(url string) error
}

// External delegates the whole download to the extractor process. Some
// domains are forced onto this path even when another strategy would apply,
// because their media URLs need the tool's request shaping to succeed.
type External struct {
	Tool      Tool
	Unhandled UnhandledSink
	Logger    *zap.Logger
}

// Do executes the external-process strategy. The duplicate check matches any
// file with the same stem regardless of extension, since the tool picks the
// container itself. A non-zero exit appends the URL to the unhandled log.
func (e *External) Do(ctx context.Context, req Request) (Result, error) {
	dir := TargetDir(req)
	stem := Stem(req.Job)

	if existing, ok := stemExists(dir, stem); ok {
		return Result{Path: existing, Duplicate: true}, nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Result{}, fmt.Errorf("create target dir: %w", err)
	}

	template := filepath.Join(dir, stem+".%(ext)s")
	err := e.Tool.Download(ctx, req.Job.URL, template, req.OnProgress)
	if err != nil {
		if cerr := classify(ctx, err); errors.Is(cerr, grab.ErrCancelled) {
			return Result{}, cerr
		}
		if errors.Is(err, grab.ErrSpawn) {
			return Result{}, err
		}
		if e.Unhandled != nil {
			if aerr := e.Unhandled.Append(req.Job.URL); aerr != nil && e.Logger != nil {
				e.Logger.Warn("failed to record unhandled url", zap.Error(aerr))
			}
		}
		return Result{}, fmt.Errorf("external download: %w", err)
	}

	result := Result{Path: filepath.Join(dir, stem)}
	if existing, ok := stemExists(dir, stem); ok {
		result.Path = existing
	}
	if req.OnProgress != nil {
		req.OnProgress(100)
	}
	return result, nil
}

var _ Downloader = (*External)(nil)
