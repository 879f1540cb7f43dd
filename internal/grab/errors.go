package grab

import "errors"

// Shared error values used to classify download outcomes across strategies.
var (
	// ErrCancelled marks a job stopped by the run-wide cancel signal. The
	// partial file is removed and the URL is not logged as unhandled.
	ErrCancelled = errors.New("download cancelled")
	// ErrSpawn marks an external tool that could not be started. Fatal for
	// the job only; the run continues.
	ErrSpawn = errors.New("process spawn failure")
	// ErrFatalConfig aborts an entire run before any work starts.
	ErrFatalConfig = errors.New("fatal configuration error")
)

// Outcome is the terminal result of one job.
type Outcome string

// Terminal job outcomes.
const (
	OutcomeCompleted Outcome = "completed"
	// OutcomeDuplicate means the target file already existed; counted as a
	// success for progress accounting.
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)
