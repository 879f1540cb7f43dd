// Package progress defines the event stream emitted while a grab run
// executes, and the hub that fans events out to sinks.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart    Stage = "RUN_START"
	StageRunDone     Stage = "RUN_DONE"
	StageSourceStart Stage = "SOURCE_START"
	StageSourceDone  Stage = "SOURCE_DONE"
	StageJobStart    Stage = "JOB_START"
	StageJobProgress Stage = "JOB_PROGRESS"
	StageJobDone     Stage = "JOB_DONE"
	StageJobError    Stage = "JOB_ERROR"
)

// Event captures a single milestone of a grab run.
type Event struct {
	// RunID identifies the run this event belongs to.
	RunID uuid.UUID
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Source is the originating source URL for source and job events.
	Source string
	// Domain is the effective domain the job is charged against.
	Domain string
	// JobID identifies the job for job-scoped events.
	JobID string
	// Name is the display name of the item being downloaded.
	Name string
	// Percent is the completion percentage for JOB_PROGRESS events.
	Percent float64
	// Bytes carries the downloaded size for completed jobs.
	Bytes int64
	// Outcome labels job completions: completed, duplicate, failed, cancelled.
	Outcome string
	// Dur captures wall time for completed jobs and runs.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StageSourceStart, StageSourceDone:
		if e.Source == "" {
			return errors.New("source events require a source url")
		}
	case StageJobStart, StageJobProgress, StageJobError:
		if e.JobID == "" {
			return errors.New("job events require a job id")
		}
	case StageJobDone:
		if e.JobID == "" {
			return errors.New("job events require a job id")
		}
		if e.Outcome == "" {
			return errors.New("job done requires an outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Percent < 0 || e.Percent > 100 {
		return errors.New("percent must be within [0, 100]")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
