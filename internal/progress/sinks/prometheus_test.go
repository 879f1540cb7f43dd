package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/chrisdogtn/RedditGrabber-sub000/internal/progress"
)

func event(stage progress.Stage, jobID string) progress.Event {
	return progress.Event{
		RunID: uuid.New(),
		TS:    time.Now().UTC(),
		Stage: stage,
		JobID: jobID,
	}
}

func TestPrometheusSink_CountsJobLifecycle(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	done := event(progress.StageJobDone, "j1")
	done.Outcome = "completed"
	done.Domain = "redgifs.com"
	done.Bytes = 2048
	done.Dur = 3 * time.Second

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		event(progress.StageJobStart, "j1"),
		event(progress.StageJobStart, "j2"),
		done,
		event(progress.StageSourceDone, ""),
	}))

	require.Equal(t, float64(2), testutil.ToFloat64(sink.jobsStarted))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.jobsActive))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("completed")))
	require.Equal(t, float64(2048), testutil.ToFloat64(sink.downloadBytes.WithLabelValues("redgifs.com")))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.sourcesResolved))
}

func TestPrometheusSink_ErrorEventsCountAsFailed(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		event(progress.StageJobStart, "j1"),
		event(progress.StageJobError, "j1"),
	}))

	require.Equal(t, float64(1), testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("failed")))
	require.Equal(t, float64(0), testutil.ToFloat64(sink.jobsActive))
}

func TestPrometheusSink_DoubleStartDoesNotSkewGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		event(progress.StageJobStart, "j1"),
		event(progress.StageJobStart, "j1"),
	}))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.jobsActive))
}
