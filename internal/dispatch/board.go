// Package dispatch runs the resolution producers and the download consumer
// pool over a shared work queue under global and per-domain concurrency caps.
package dispatch

import (
	"sync"

	"github.com/chrisdogtn/RedditGrabber-sub000/internal/grab"
)

// ClaimResult tells an idle consumer why no entry was handed out.
type ClaimResult int

const (
	// Claimed means an entry was removed from the queue and its counters
	// were incremented.
	Claimed ClaimResult = iota
	// BlockedGlobal means the global active count is at the cap.
	BlockedGlobal
	// BlockedNone means the queue is empty or every queued entry's domain is
	// at its cap.
	BlockedNone
)

// ClaimPolicy is the capacity rule evaluated inside the board's mutex.
type ClaimPolicy struct {
	GlobalCap int
	// CapFor returns the concurrency cap for an effective domain.
	CapFor func(domain string) int
	// Exempt reports entries that bypass the per-domain cap (the
	// grandfathered unlimited-image-domain rule). The global cap still
	// applies.
	Exempt func(entry grab.QueueEntry) bool
}

// Counts is a point-in-time snapshot of run accounting.
type Counts struct {
	SourcesTotal     int `json:"sources_total"`
	SourcesCompleted int `json:"sources_completed"`
	JobsQueued       int `json:"jobs_queued"`
	JobsActive       int `json:"jobs_active"`
	JobsCompleted    int `json:"jobs_completed"`
	JobsDuplicate    int `json:"jobs_duplicate"`
	JobsFailed       int `json:"jobs_failed"`
	JobsCancelled    int `json:"jobs_cancelled"`
}

type sourceStats struct {
	scanDone  bool
	jobs      int
	finished  int
	completed bool
}

// Board is the shared scheduling state for one run: the work queue, the
// global and per-domain active counters, and per-source completion
// accounting. Scan, claim, and counter increment happen under one mutex so
// an entry is claimed at most once and the cap invariants hold under real
// threads.
type Board struct {
	mu           sync.Mutex
	entries      []grab.QueueEntry
	globalActive int
	domainActive map[string]int
	sources      map[string]*sourceStats
	counts       Counts

	wake chan struct{}
}

// NewBoard creates an empty board.
func NewBoard() *Board {
	return &Board{
		domainActive: make(map[string]int),
		sources:      make(map[string]*sourceStats),
		wake:         make(chan struct{}, 1),
	}
}

// Wake exposes the consumer wake-up channel. Enqueue and Finish nudge it so
// idle consumers recheck without waiting out their full backoff.
func (b *Board) Wake() <-chan struct{} { return b.wake }

func (b *Board) nudge() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// RegisterSource adds a source to the run's accounting.
func (b *Board) RegisterSource(sourceURL string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sources[sourceURL]; ok {
		return
	}
	b.sources[sourceURL] = &sourceStats{}
	b.counts.SourcesTotal++
}

// Enqueue appends an entry to the queue and attributes it to its source.
func (b *Board) Enqueue(entry grab.QueueEntry) {
	b.mu.Lock()
	if stats, ok := b.sources[entry.SourceURL]; ok {
		stats.jobs++
	}
	b.entries = append(b.entries, entry)
	b.counts.JobsQueued++
	b.mu.Unlock()
	b.nudge()
}

// ScanDone marks a source's resolution phase finished. It returns true when
// the source is now complete (every attributed job already finished, or no
// jobs were found at all). True is returned at most once per source.
func (b *Board) ScanDone(sourceURL string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	stats, ok := b.sources[sourceURL]
	if !ok {
		return false
	}
	stats.scanDone = true
	return b.completeLocked(stats)
}

func (b *Board) completeLocked(stats *sourceStats) bool {
	if stats.completed || !stats.scanDone || stats.finished < stats.jobs {
		return false
	}
	stats.completed = true
	b.counts.SourcesCompleted++
	return true
}

// Claim removes and returns the first queued entry whose effective domain
// has spare capacity. Claim order is scan-order-first-eligible, not strict
// FIFO: domain-capacity gating takes priority over age.
func (b *Board) Claim(policy ClaimPolicy) (grab.QueueEntry, ClaimResult) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if policy.GlobalCap > 0 && b.globalActive >= policy.GlobalCap {
		return grab.QueueEntry{}, BlockedGlobal
	}
	for i, entry := range b.entries {
		exempt := policy.Exempt != nil && policy.Exempt(entry)
		if !exempt && policy.CapFor != nil {
			if b.domainActive[entry.EffectiveDomain] >= policy.CapFor(entry.EffectiveDomain) {
				continue
			}
		}
		b.entries = append(b.entries[:i], b.entries[i+1:]...)
		b.globalActive++
		b.domainActive[entry.EffectiveDomain]++
		b.counts.JobsQueued--
		b.counts.JobsActive++
		return entry, Claimed
	}
	return grab.QueueEntry{}, BlockedNone
}

// Finish releases a claimed entry's capacity, records its outcome, and
// reports whether the entry's source is now complete.
func (b *Board) Finish(entry grab.QueueEntry, outcome grab.Outcome) (sourceComplete bool) {
	b.mu.Lock()
	b.globalActive--
	if b.domainActive[entry.EffectiveDomain] > 0 {
		b.domainActive[entry.EffectiveDomain]--
	}
	b.counts.JobsActive--
	switch outcome {
	case grab.OutcomeDuplicate:
		b.counts.JobsDuplicate++
	case grab.OutcomeFailed:
		b.counts.JobsFailed++
	case grab.OutcomeCancelled:
		b.counts.JobsCancelled++
	default:
		b.counts.JobsCompleted++
	}
	if stats, ok := b.sources[entry.SourceURL]; ok {
		stats.finished++
		sourceComplete = b.completeLocked(stats)
	}
	b.mu.Unlock()
	b.nudge()
	return sourceComplete
}

// Clear drops every queued entry. Cancellation calls this so no new work is
// claimed; active entries still release through Finish.
func (b *Board) Clear() {
	b.mu.Lock()
	b.entries = nil
	b.counts.JobsQueued = 0
	b.mu.Unlock()
	b.nudge()
}

// Drained reports whether the queue is empty and nothing is active.
func (b *Board) Drained() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries) == 0 && b.globalActive == 0
}

// QueueLen reports how many entries are waiting.
func (b *Board) QueueLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// ActiveFor reports the active count for an effective domain. Test hook.
func (b *Board) ActiveFor(domain string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.domainActive[domain]
}

// Snapshot copies the current accounting counters.
func (b *Board) Snapshot() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}
