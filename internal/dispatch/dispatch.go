package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chrisdogtn/RedditGrabber-sub000/internal/config"
	"github.com/chrisdogtn/RedditGrabber-sub000/internal/download"
	"github.com/chrisdogtn/RedditGrabber-sub000/internal/grab"
	"github.com/chrisdogtn/RedditGrabber-sub000/internal/progress"
	"github.com/chrisdogtn/RedditGrabber-sub000/internal/resolver"
	"github.com/chrisdogtn/RedditGrabber-sub000/internal/runstate"
)

// Idle backoffs for the consumer loop. Consumers also wake on the board's
// notify channel, so the sleeps only bound the worst case.
const (
	globalCapBackoff  = 100 * time.Millisecond
	noEligibleBackoff = 200 * time.Millisecond
)

// RunOutcome is the terminal state of one dispatch run.
type RunOutcome string

// Terminal run states.
const (
	RunComplete  RunOutcome = "complete"
	RunCancelled RunOutcome = "cancelled"
	RunSkipped   RunOutcome = "skipped"
)

// Summary reports how a run ended.
type Summary struct {
	State  RunOutcome
	Counts Counts
	Dur    time.Duration
}

// Status is the live snapshot served by the status API.
type Status struct {
	Running   bool      `json:"running"`
	RunID     string    `json:"run_id,omitempty"`
	Cancelled bool      `json:"cancelled"`
	Skipping  bool      `json:"skipping"`
	Counts    Counts    `json:"counts"`
	Resolvers []string  `json:"resolvers"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// sessionLog is the slice of the unhandled-links log the dispatcher uses.
type sessionLog interface {
	StartSession(now time.Time) error
	Append(url string) error
}

// Dispatcher is the orchestration core: it spawns one resolution producer
// per pending source, feeds discovered jobs into the board, and runs a fixed
// pool of download consumers under the configured caps.
type Dispatcher struct {
	cfg         config.Config
	registry    *resolver.Registry
	downloaders map[grab.Strategy]download.Downloader
	state       *runstate.State
	unhandled   sessionLog
	emitter     progress.Emitter
	logger      *zap.Logger

	skipped atomic.Bool

	mu      sync.Mutex
	current *run
	running bool
}

type run struct {
	id        uuid.UUID
	board     *Board
	startedAt time.Time

	mu      sync.Mutex
	sources map[string]*grab.SourceItem
}

// New wires a Dispatcher. The downloaders map must cover every strategy a
// resolver can emit; missing strategies fail jobs at claim time.
func New(
	cfg config.Config,
	registry *resolver.Registry,
	downloaders map[grab.Strategy]download.Downloader,
	state *runstate.State,
	unhandledLog sessionLog,
	emitter progress.Emitter,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:         cfg,
		registry:    registry,
		downloaders: downloaders,
		state:       state,
		unhandled:   unhandledLog,
		emitter:     emitter,
		logger:      logger,
	}
}

// Run executes one dispatch pass over the pending sources and blocks until
// the queue drains, cancellation fires, or ctx ends. Only configuration
// failures return an error; resolver and job failures are accounted in the
// summary and never abort the run.
func (d *Dispatcher) Run(ctx context.Context, sources []*grab.SourceItem) (Summary, error) {
	start := time.Now()
	if err := d.prepareOutput(); err != nil {
		return Summary{}, err
	}
	if err := d.unhandled.StartSession(start); err != nil {
		return Summary{}, fmt.Errorf("reset unhandled log: %v: %w", err, grab.ErrFatalConfig)
	}
	d.state.Reset()
	d.skipped.Store(false)

	r := &run{
		id:        uuid.New(),
		board:     NewBoard(),
		startedAt: start,
		sources:   make(map[string]*grab.SourceItem),
	}

	var pending []*grab.SourceItem
	for _, src := range sources {
		if src.Status != grab.SourcePending {
			continue
		}
		pending = append(pending, src)
		r.sources[src.URL] = src
		r.board.RegisterSource(src.URL)
	}

	d.mu.Lock()
	d.current = r
	d.running = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	d.emit(progress.Event{RunID: r.id, Stage: progress.StageRunStart})
	d.logger.Info("dispatch run starting",
		zap.String("run_id", r.id.String()),
		zap.Int("pending_sources", len(pending)),
	)

	if len(pending) == 0 {
		d.emit(progress.Event{RunID: r.id, Stage: progress.StageRunDone, Dur: time.Since(start)})
		return Summary{State: RunComplete, Counts: r.board.Snapshot(), Dur: time.Since(start)}, nil
	}

	var prodWG sync.WaitGroup
	for _, src := range pending {
		prodWG.Add(1)
		go func(src *grab.SourceItem) {
			defer prodWG.Done()
			d.produce(ctx, r, src)
		}(src)
	}
	producersDone := make(chan struct{})
	go func() {
		prodWG.Wait()
		close(producersDone)
		r.board.nudge()
	}()

	var consWG sync.WaitGroup
	for i := 0; i < d.cfg.Limits.MaxSimultaneous; i++ {
		consWG.Add(1)
		go func() {
			defer consWG.Done()
			d.consume(ctx, r, producersDone)
		}()
	}
	consWG.Wait()
	<-producersDone

	state := RunComplete
	switch {
	case d.state.Cancelled():
		state = RunCancelled
		r.board.Clear()
	case d.skipped.Load():
		state = RunSkipped
	}

	dur := time.Since(start)
	d.emit(progress.Event{RunID: r.id, Stage: progress.StageRunDone, Dur: dur, Note: string(state)})
	d.logger.Info("dispatch run finished",
		zap.String("run_id", r.id.String()),
		zap.String("state", string(state)),
		zap.Duration("dur", dur),
	)
	return Summary{State: state, Counts: r.board.Snapshot(), Dur: dur}, nil
}

// Cancel hard-stops the current run: aborts registered requests, kills
// registered processes, and clears the queue so no new work is claimed.
func (d *Dispatcher) Cancel() {
	d.state.Cancel()
	d.mu.Lock()
	r := d.current
	d.mu.Unlock()
	if r != nil {
		r.board.Clear()
	}
}

// Skip asks the in-progress resolution pass to stop as soon as convenient.
// Active downloads keep running and the queue is untouched.
func (d *Dispatcher) Skip() {
	d.skipped.Store(true)
	d.state.Skip()
}

// Status returns the live run snapshot.
func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	r := d.current
	running := d.running
	d.mu.Unlock()

	st := Status{
		Running:   running,
		Cancelled: d.state.Cancelled(),
		Skipping:  d.state.Skipping(),
		Resolvers: d.registry.Names(),
	}
	if r != nil {
		st.RunID = r.id.String()
		st.Counts = r.board.Snapshot()
		st.StartedAt = r.startedAt
	}
	return st
}

// Active returns the in-flight downloads display.
func (d *Dispatcher) Active() []runstate.ActiveDownload {
	return d.state.ActiveSnapshot()
}

func (d *Dispatcher) prepareOutput() error {
	root := strings.TrimSpace(d.cfg.Output.RootDir)
	if root == "" {
		return fmt.Errorf("no output directory configured: %w", grab.ErrFatalConfig)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create output root %s: %v: %w", root, err, grab.ErrFatalConfig)
	}
	return nil
}

// produce resolves one source and enqueues its jobs tagged with their
// effective domain and output directory.
func (d *Dispatcher) produce(ctx context.Context, r *run, src *grab.SourceItem) {
	d.emit(progress.Event{RunID: r.id, Stage: progress.StageSourceStart, Source: src.URL})

	res := d.registry.Find(src.URL)
	if res == nil {
		if err := d.unhandled.Append(src.URL); err != nil {
			d.logger.Warn("unhandled log append failed", zap.Error(err))
		}
		d.finishScan(r, src)
		return
	}

	jobs := res.Resolve(ctx, src.URL, d.resolveOptions())

	baseDir := sourceDir(d.cfg.Output.RootDir, src)
	for _, job := range jobs {
		if err := job.Validate(); err != nil {
			d.logger.Error("resolver emitted invalid job",
				zap.String("resolver", res.Name()),
				zap.String("source", src.URL),
				zap.Error(err),
			)
			continue
		}
		if job.ID == "" {
			// Sites without stable IDs still need one for dedup and the
			// event stream, which rejects job events without it.
			job.ID = uuid.NewString()
		}
		domain := grab.EffectiveDomain(grab.JobDomain(job), d.cfg.RegisteredDomains())
		if d.forcedExternal(domain) {
			job.Strategy = grab.StrategyExternal
		}
		outDir := baseDir
		if src.Kind == grab.KindCommunityFeed {
			outDir = filepath.Join(baseDir, typeFolder(job.Media))
		}
		r.board.Enqueue(grab.QueueEntry{
			Job:             job,
			EffectiveDomain: domain,
			SourceURL:       src.URL,
			OutputDir:       outDir,
		})
	}
	d.logger.Info("source resolved",
		zap.String("resolver", res.Name()),
		zap.String("source", src.URL),
		zap.Int("jobs", len(jobs)),
	)
	d.finishScan(r, src)
}

func (d *Dispatcher) finishScan(r *run, src *grab.SourceItem) {
	if r.board.ScanDone(src.URL) {
		d.completeSource(r, src.URL)
	}
}

// forcedExternal reports whether the domain is on the force-external list:
// its media URLs only succeed with the extractor's request shaping.
func (d *Dispatcher) forcedExternal(domain string) bool {
	for _, forced := range d.cfg.Sites.ForceExternal {
		if strings.EqualFold(forced, domain) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) resolveOptions() resolver.Options {
	return resolver.Options{
		MaxLinks:  d.cfg.Filters.MaxLinks,
		PageStart: d.cfg.Filters.PageStart,
		PageEnd:   d.cfg.Filters.PageEnd,
		Types: grab.TypeFilters{
			Images: d.cfg.Filters.Images,
			Videos: d.cfg.Filters.Videos,
			GIFs:   d.cfg.Filters.GIFs,
		},
		Cancelled:     d.state.Cancelled,
		Skipping:      d.state.Skipping,
		Unhandled:     d.unhandled,
		HybridExtract: d.cfg.Sites.HybridExtract,
		Galleries:     d.cfg.Sites.Galleries,
	}
}

func (d *Dispatcher) claimPolicy() ClaimPolicy {
	unlimited := strings.ToLower(d.cfg.Limits.UnlimitedImageDomain)
	return ClaimPolicy{
		GlobalCap: d.cfg.Limits.MaxSimultaneous,
		CapFor:    d.cfg.DomainCap,
		Exempt: func(entry grab.QueueEntry) bool {
			return unlimited != "" &&
				entry.Job.Media == grab.MediaImage &&
				entry.EffectiveDomain == unlimited
		},
	}
}

// consume is one worker loop: claim the first eligible entry, execute its
// strategy, release capacity, repeat. Exits on cancellation or once the
// producers are done and the queue is empty.
func (d *Dispatcher) consume(ctx context.Context, r *run, producersDone <-chan struct{}) {
	policy := d.claimPolicy()
	for {
		if d.state.Cancelled() || ctx.Err() != nil {
			return
		}
		entry, result := r.board.Claim(policy)
		if result == Claimed {
			d.execute(ctx, r, entry)
			continue
		}
		if result == BlockedNone {
			select {
			case <-producersDone:
				if r.board.QueueLen() == 0 {
					return
				}
			default:
			}
		}
		backoff := noEligibleBackoff
		if result == BlockedGlobal {
			backoff = globalCapBackoff
		}
		select {
		case <-ctx.Done():
			return
		case <-r.board.Wake():
		case <-time.After(backoff):
		}
	}
}

// execute runs one claimed entry through its downloader strategy and
// accounts the outcome.
func (d *Dispatcher) execute(ctx context.Context, r *run, entry grab.QueueEntry) {
	start := time.Now()
	d.emit(progress.Event{
		RunID:  r.id,
		Stage:  progress.StageJobStart,
		Source: entry.SourceURL,
		Domain: entry.EffectiveDomain,
		JobID:  entry.Job.ID,
		Name:   entry.Job.Title,
	})

	update, done := d.state.Track(entry.Job.Title, entry.Job.URL, entry.EffectiveDomain)
	lastEmitted := -1.0
	onProgress := func(percent float64) {
		update(percent)
		// One event per whole percent keeps the stream bounded.
		if percent-lastEmitted < 1 && percent < 100 {
			return
		}
		lastEmitted = percent
		d.emit(progress.Event{
			RunID:   r.id,
			Stage:   progress.StageJobProgress,
			Source:  entry.SourceURL,
			Domain:  entry.EffectiveDomain,
			JobID:   entry.Job.ID,
			Name:    entry.Job.Title,
			Percent: clampPercent(percent),
		})
	}

	var (
		result download.Result
		err    error
	)
	if dl, ok := d.downloaders[entry.Job.Strategy]; ok {
		result, err = dl.Do(ctx, download.Request{
			Job:        entry.Job,
			Dir:        entry.OutputDir,
			OnProgress: onProgress,
		})
	} else {
		err = fmt.Errorf("no downloader wired for strategy %q", entry.Job.Strategy)
	}
	done()

	outcome := outcomeOf(result, err)
	evt := progress.Event{
		RunID:   r.id,
		Stage:   progress.StageJobDone,
		Source:  entry.SourceURL,
		Domain:  entry.EffectiveDomain,
		JobID:   entry.Job.ID,
		Name:    entry.Job.Title,
		Outcome: string(outcome),
		Dur:     time.Since(start),
	}
	switch outcome {
	case grab.OutcomeFailed:
		evt.Stage = progress.StageJobError
		evt.Outcome = ""
		evt.Note = err.Error()
		d.logger.Error("job failed",
			zap.String("url", entry.Job.URL),
			zap.String("domain", entry.EffectiveDomain),
			zap.Error(err),
		)
	case grab.OutcomeCancelled:
		d.logger.Info("job cancelled", zap.String("url", entry.Job.URL))
	default:
		if result.Path != "" {
			if info, statErr := os.Stat(result.Path); statErr == nil {
				evt.Bytes = info.Size()
			}
		}
		d.logger.Info("job done",
			zap.String("url", entry.Job.URL),
			zap.String("path", result.Path),
			zap.String("outcome", string(outcome)),
			zap.Duration("dur", evt.Dur),
		)
	}
	d.emit(evt)

	if r.board.Finish(entry, outcome) {
		d.completeSource(r, entry.SourceURL)
	}
}

// completeSource marks the SourceItem completed and emits SOURCE_DONE. The
// board guarantees this fires at most once per source.
func (d *Dispatcher) completeSource(r *run, sourceURL string) {
	r.mu.Lock()
	if src, ok := r.sources[sourceURL]; ok {
		now := time.Now().UTC()
		src.Status = grab.SourceCompleted
		src.CompletedAt = &now
	}
	r.mu.Unlock()
	d.emit(progress.Event{RunID: r.id, Stage: progress.StageSourceDone, Source: sourceURL})
	d.logger.Info("source completed", zap.String("source", sourceURL))
}

func (d *Dispatcher) emit(evt progress.Event) {
	if d.emitter == nil {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = time.Now().UTC()
	}
	d.emitter.Emit(evt)
}

func outcomeOf(result download.Result, err error) grab.Outcome {
	switch {
	case err == nil && result.Duplicate:
		return grab.OutcomeDuplicate
	case err == nil:
		return grab.OutcomeCompleted
	case errors.Is(err, grab.ErrCancelled):
		return grab.OutcomeCancelled
	default:
		return grab.OutcomeFailed
	}
}

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
