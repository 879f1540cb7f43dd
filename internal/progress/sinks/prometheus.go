package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chrisdogtn/RedditGrabber-sub000/internal/progress"
)

// PrometheusSink exports grab progress metrics. It owns all collectors for
// jobs started/completed/active and per-domain byte counters.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsActive    prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec

	sourcesResolved prometheus.Counter
	downloadBytes   *prometheus.CounterVec

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grab_jobs_started_total",
			Help: "Total download jobs that have started.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grab_jobs_completed_total",
			Help: "Total download jobs completed partitioned by outcome.",
		}, []string{"outcome"}),
		jobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grab_jobs_active",
			Help: "Current number of in-flight download jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grab_job_runtime_seconds",
			Help:    "Wall time per completed download job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"outcome"}),
		sourcesResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grab_sources_resolved_total",
			Help: "Total sources fully processed.",
		}),
		downloadBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grab_download_bytes_total",
			Help: "Bytes downloaded per effective domain.",
		}, []string{"domain"}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsActive,
		s.jobRuntime,
		s.sourcesResolved,
		s.downloadBytes,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the provided batch. It is safe for
// concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageJobStart:
		s.jobsStarted.Inc()
		if s.tracker.start(evt.JobID) {
			s.jobsActive.Inc()
		}
	case progress.StageJobDone:
		outcome := evt.Outcome
		if outcome == "" {
			outcome = "completed"
		}
		s.finishJob(evt, outcome)
	case progress.StageJobError:
		s.finishJob(evt, "failed")
	case progress.StageSourceDone:
		s.sourcesResolved.Inc()
	}
}

func (s *PrometheusSink) finishJob(evt progress.Event, outcome string) {
	s.jobsCompleted.WithLabelValues(outcome).Inc()
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(outcome).Observe(evt.Dur.Seconds())
	}
	if evt.Bytes > 0 {
		domain := evt.Domain
		if domain == "" {
			domain = "unknown"
		}
		s.downloadBytes.WithLabelValues(domain).Add(float64(evt.Bytes))
	}
	if s.tracker.complete(evt.JobID) {
		s.jobsActive.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// jobTracker deduplicates start/complete transitions so the active gauge
// stays correct even if an emitter double-fires a stage.
type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
