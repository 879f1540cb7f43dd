// Package extractor wraps the general-purpose media downloader/extractor
// binary (yt-dlp). It is invoked in two modes: full download with stdout
// progress parsing, and URL-only extraction for hand-off to the
// range-parallel downloader.
package extractor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/chrisdogtn/RedditGrabber-sub000/internal/grab"
)

// ProcessRegistry records spawned processes so the run can hard-kill them on
// cancel. Implemented by runstate.State.
type ProcessRegistry interface {
	RegisterProcess(kill func() error) func()
}

// Config locates and tunes the extractor binary.
type Config struct {
	Binary              string
	FragmentConcurrency int
}

// Tool shells out to the extractor binary.
type Tool struct {
	cfg      Config
	registry ProcessRegistry
	logger   *zap.Logger
}

// New builds a Tool. The registry may be nil, in which case spawned
// processes are not tracked for cancellation.
func New(cfg Config, registry ProcessRegistry, logger *zap.Logger) *Tool {
	if cfg.Binary == "" {
		cfg.Binary = "yt-dlp"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tool{cfg: cfg, registry: registry, logger: logger}
}

var percentToken = regexp.MustCompile(`(\d+(?:\.\d+)?)%`)

// Download runs the binary in download mode with an output-path template,
// reporting incremental progress parsed from stdout percentage tokens.
// A non-zero exit is returned as an error; starting failures wrap
// grab.ErrSpawn.
func (t *Tool) Download(ctx context.Context, url, outputTemplate string, onProgress func(float64)) error {
	args := []string{
		"--newline",
		"--no-playlist",
		"-o", outputTemplate,
	}
	if t.cfg.FragmentConcurrency > 1 {
		args = append(args, "--concurrent-fragments", strconv.Itoa(t.cfg.FragmentConcurrency))
	}
	args = append(args, url)

	cmd := exec.CommandContext(ctx, t.cfg.Binary, args...)
	configureSysProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("extractor stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start %s: %v", grab.ErrSpawn, t.cfg.Binary, err)
	}
	if t.registry != nil {
		unregister := t.registry.RegisterProcess(func() error { return killTree(cmd) })
		defer unregister()
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		if onProgress == nil {
			continue
		}
		if match := percentToken.FindStringSubmatch(line); match != nil {
			if pct, perr := strconv.ParseFloat(match[1], 64); perr == nil {
				onProgress(pct)
			}
		}
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("extractor exited: %w", err)
	}
	return nil
}

// ExtractURL runs the binary in URL-only mode and returns the resolved
// direct media URL from stdout. The kill handle is registered only after the
// process exists, so a cancel always reaches it.
func (t *Tool) ExtractURL(ctx context.Context, url string) (string, error) {
	cmd := exec.CommandContext(ctx, t.cfg.Binary, "--no-playlist", "-g", url)
	configureSysProcAttr(cmd)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("%w: start %s: %v", grab.ErrSpawn, t.cfg.Binary, err)
	}
	if t.registry != nil {
		unregister := t.registry.RegisterProcess(func() error { return killTree(cmd) })
		defer unregister()
	}

	if err := cmd.Wait(); err != nil {
		return "", fmt.Errorf("extract url exited: %w", err)
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return "", fmt.Errorf("extract url: empty output for %s", url)
	}
	return strings.TrimSpace(lines[0]), nil
}

// SelfUpdate invokes the binary's own updater. Best-effort at startup.
func (t *Tool) SelfUpdate(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, t.cfg.Binary, "-U").CombinedOutput()
	if err != nil {
		return fmt.Errorf("self update: %w", err)
	}
	t.logger.Debug("extractor self update", zap.String("output", strings.TrimSpace(string(out))))
	return nil
}
