// Package runstate holds the mutable state shared by one dispatch run: the
// cancel and skip flags, the registries of abortable work, and the live
// active-downloads display.
package runstate

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ActiveDownload is one in-flight item shown on the live display.
type ActiveDownload struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	URL     string  `json:"url"`
	Domain  string  `json:"domain"`
	Percent float64 `json:"percent"`
}

// State is reset at the start of each run and torn down on cancel or
// completion. All methods are safe for concurrent use.
type State struct {
	cancelled atomic.Bool
	skipping  atomic.Bool

	mu      sync.Mutex
	nextID  int64
	aborts  map[int64]func()       // in-flight HTTP request cancels
	kills   map[int64]func() error // external process hard-kills
	active  map[int64]*ActiveDownload
	order   []int64
	logger  *zap.Logger
}

// New creates a State ready for a run.
func New(logger *zap.Logger) *State {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &State{logger: logger}
	s.resetLocked()
	return s
}

// Reset clears all flags, registries, and the display for a fresh run.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled.Store(false)
	s.ClearSkip()
	s.resetLocked()
}

func (s *State) resetLocked() {
	s.aborts = make(map[int64]func())
	s.kills = make(map[int64]func() error)
	s.active = make(map[int64]*ActiveDownload)
	s.order = nil
}

// Cancelled reports whether the run-wide cancel signal has fired.
func (s *State) Cancelled() bool { return s.cancelled.Load() }

// Skipping reports whether the lighter-weight skip signal is set. Resolvers
// poll this in their pagination loops; it does not affect active downloads.
func (s *State) Skipping() bool { return s.skipping.Load() }

// Skip requests that in-progress resolution stop as soon as convenient.
func (s *State) Skip() { s.skipping.Store(true) }

// ClearSkip rearms resolution for the next run. A skip, once set, holds for
// the remainder of the current run so every in-flight resolver observes it.
func (s *State) ClearSkip() { s.skipping.Store(false) }

// Cancel sets the cancel flag, aborts every registered HTTP request, kills
// every registered external process, and clears the display. Producers and
// consumers observe the flag and stop claiming work.
func (s *State) Cancel() {
	s.cancelled.Store(true)

	s.mu.Lock()
	aborts := make([]func(), 0, len(s.aborts))
	for _, abort := range s.aborts {
		aborts = append(aborts, abort)
	}
	kills := make([]func() error, 0, len(s.kills))
	for _, kill := range s.kills {
		kills = append(kills, kill)
	}
	s.resetLocked()
	s.mu.Unlock()

	for _, abort := range aborts {
		abort()
	}
	for _, kill := range kills {
		if err := kill(); err != nil {
			s.logger.Warn("failed to kill external process", zap.Error(err))
		}
	}
}

// RegisterRequest records an abortable HTTP request and returns its
// unregister func. The abort func is invoked by Cancel.
func (s *State) RegisterRequest(abort func()) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.aborts[id] = abort
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.aborts, id)
		s.mu.Unlock()
	}
}

// RegisterProcess records a hard-kill handle for a spawned external process
// and returns its unregister func.
func (s *State) RegisterProcess(kill func() error) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.kills[id] = kill
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.kills, id)
		s.mu.Unlock()
	}
}

// PendingHandles reports how many abortable requests and process handles are
// currently registered. Used by shutdown checks and tests.
func (s *State) PendingHandles() (requests, processes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.aborts), len(s.kills)
}

// Track adds an item to the active-downloads display. The returned update
// func adjusts its live percent; the returned done func removes it.
func (s *State) Track(name, url, domain string) (update func(percent float64), done func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.active[id] = &ActiveDownload{ID: id, Name: name, URL: url, Domain: domain}
	s.order = append(s.order, id)
	s.mu.Unlock()

	update = func(percent float64) {
		s.mu.Lock()
		if item, ok := s.active[id]; ok {
			item.Percent = percent
		}
		s.mu.Unlock()
	}
	done = func() {
		s.mu.Lock()
		delete(s.active, id)
		s.mu.Unlock()
	}
	return update, done
}

// ActiveSnapshot returns the in-flight items in start order.
func (s *State) ActiveSnapshot() []ActiveDownload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ActiveDownload, 0, len(s.active))
	for _, id := range s.order {
		if item, ok := s.active[id]; ok {
			out = append(out, *item)
		}
	}
	return out
}
