// ABOUTME: Tests for background job lifecycle, cancellation, and cleanup
// ABOUTME: Includes the cancel-versus-completion race required by the job contract

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(time.Hour, nil)
}

// waitForStatus polls until the job reaches a terminal state or times out.
func waitForStatus(t *testing.T, s *Service, jobID string) Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := s.Get(jobID)
		require.True(t, ok)
		if job.Status.Terminal() {
			return job.Status
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return ""
}

func TestService_StartReturnsImmediately(t *testing.T) {
	s := newTestService(t)
	release := make(chan struct{})

	start := time.Now()
	job, err := s.Start(Request{JobType: "azure-op", ConversationID: "conv-1"}, func(ctx context.Context, _ *Reporter) (json.RawMessage, error) {
		<-release
		return json.RawMessage(`"done"`), nil
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond, "Start must not block on the workload")
	assert.Equal(t, StatusRunning, job.Status)
	assert.NotEmpty(t, job.JobID)

	close(release)
	assert.Equal(t, StatusSucceeded, waitForStatus(t, s, job.JobID))

	final, _ := s.Get(job.JobID)
	assert.Equal(t, json.RawMessage(`"done"`), final.Result)
	assert.Equal(t, 100, final.Progress.PercentComplete)
	assert.NotNil(t, final.CompletedAt)
}

func TestService_WorkloadErrorRecordedNotThrown(t *testing.T) {
	s := newTestService(t)

	job, err := s.Start(Request{JobType: "azure-op"}, func(ctx context.Context, _ *Reporter) (json.RawMessage, error) {
		return nil, errors.New("quota exceeded")
	})
	require.NoError(t, err, "workload errors must never surface from Start")

	assert.Equal(t, StatusFailed, waitForStatus(t, s, job.JobID))
	final, _ := s.Get(job.JobID)
	assert.Equal(t, "quota exceeded", final.ErrorMessage)
}

func TestService_WorkloadPanicRecordedAsFailed(t *testing.T) {
	s := newTestService(t)

	job, err := s.Start(Request{JobType: "azure-op"}, func(ctx context.Context, _ *Reporter) (json.RawMessage, error) {
		panic("boom")
	})
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, waitForStatus(t, s, job.JobID))
	final, _ := s.Get(job.JobID)
	assert.Contains(t, final.ErrorMessage, "boom")
}

func TestService_CancelRunningJob(t *testing.T) {
	s := newTestService(t)
	started := make(chan struct{})

	job, err := s.Start(Request{JobType: "azure-op"}, func(ctx context.Context, _ *Reporter) (json.RawMessage, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)
	<-started

	assert.True(t, s.Cancel(job.JobID))
	assert.Equal(t, StatusCancelled, waitForStatus(t, s, job.JobID))

	// Cancelling again is a no-op
	assert.False(t, s.Cancel(job.JobID))
}

func TestService_CancelUnknownJob(t *testing.T) {
	s := newTestService(t)
	assert.False(t, s.Cancel("ghost"))
}

func TestService_CancelRacesNaturalCompletion(t *testing.T) {
	// Cancel raced against a fast-completing workload must yield exactly one
	// terminal status, observed consistently by all subsequent reads.
	for i := 0; i < 50; i++ {
		s := newTestService(t)

		job, err := s.Start(Request{JobType: "azure-op"}, func(ctx context.Context, _ *Reporter) (json.RawMessage, error) {
			return json.RawMessage(`"ok"`), nil
		})
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Cancel(job.JobID)
		}()
		wg.Wait()

		status := waitForStatus(t, s, job.JobID)
		assert.Contains(t, []Status{StatusSucceeded, StatusCancelled}, status)

		// Status is stable across reads
		for j := 0; j < 5; j++ {
			got, ok := s.Get(job.JobID)
			require.True(t, ok)
			assert.Equal(t, status, got.Status)
		}
	}
}

func TestService_CancelledAfterLastCheckpointCompletesNormally(t *testing.T) {
	s := newTestService(t)
	finished := make(chan struct{})

	// Workload never observes ctx: cancellation after its natural completion
	// must not overwrite the Succeeded state.
	job, err := s.Start(Request{JobType: "azure-op"}, func(ctx context.Context, _ *Reporter) (json.RawMessage, error) {
		defer close(finished)
		return json.RawMessage(`"ok"`), nil
	})
	require.NoError(t, err)
	<-finished
	require.Equal(t, StatusSucceeded, waitForStatus(t, s, job.JobID))

	assert.False(t, s.Cancel(job.JobID))
	got, _ := s.Get(job.JobID)
	assert.Equal(t, StatusSucceeded, got.Status)
}

func TestService_ProgressReporting(t *testing.T) {
	s := newTestService(t)
	step := make(chan struct{})
	release := make(chan struct{})

	job, err := s.Start(Request{JobType: "azure-op"}, func(ctx context.Context, r *Reporter) (json.RawMessage, error) {
		r.StartStep("validate")
		r.SetPercent(25)
		r.CompleteStep("validate")
		r.StartStep("apply")
		r.FailStep("apply")
		r.SetPercent(50)
		close(step)
		<-release
		return nil, errors.New("apply failed")
	})
	require.NoError(t, err)
	<-step

	snap, _ := s.Get(job.JobID)
	assert.Equal(t, 50, snap.Progress.PercentComplete)
	assert.Equal(t, []string{"validate"}, snap.Progress.CompletedSteps)
	assert.Equal(t, []string{"apply"}, snap.Progress.FailedSteps)

	close(release)
	waitForStatus(t, s, job.JobID)
}

func TestService_SnapshotsAreIsolated(t *testing.T) {
	s := newTestService(t)
	release := make(chan struct{})

	job, err := s.Start(Request{JobType: "azure-op", InputContext: map[string]string{"region": "eastus"}},
		func(ctx context.Context, _ *Reporter) (json.RawMessage, error) {
			<-release
			return nil, nil
		})
	require.NoError(t, err)

	snap, _ := s.Get(job.JobID)
	snap.InputContext["region"] = "mutated"
	snap.Progress.CompletedSteps = append(snap.Progress.CompletedSteps, "bogus")

	again, _ := s.Get(job.JobID)
	assert.Equal(t, "eastus", again.InputContext["region"])
	assert.Empty(t, again.Progress.CompletedSteps)

	close(release)
	waitForStatus(t, s, job.JobID)
}

func TestService_TerminalHookFiresOnceOnCompletion(t *testing.T) {
	s := newTestService(t)
	seen := make(chan *Job, 4)
	s.OnTerminal(func(job *Job) { seen <- job })

	job, err := s.Start(Request{JobType: "azure-op", ConversationID: "conv-1"},
		func(ctx context.Context, _ *Reporter) (json.RawMessage, error) {
			return json.RawMessage(`"ok"`), nil
		})
	require.NoError(t, err)
	waitForStatus(t, s, job.JobID)

	select {
	case got := <-seen:
		assert.Equal(t, job.JobID, got.JobID)
		assert.Equal(t, StatusSucceeded, got.Status)
		assert.Equal(t, "conv-1", got.ConversationID)
	case <-time.After(2 * time.Second):
		t.Fatal("terminal hook never fired")
	}

	// A late Cancel is a no-op and must not fire the hook again
	assert.False(t, s.Cancel(job.JobID))
	select {
	case <-seen:
		t.Fatal("hook fired for an already-terminal job")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestService_TerminalHookFiresOnCancel(t *testing.T) {
	s := newTestService(t)
	seen := make(chan *Job, 4)
	s.OnTerminal(func(job *Job) { seen <- job })
	started := make(chan struct{})

	job, err := s.Start(Request{JobType: "azure-op"},
		func(ctx context.Context, _ *Reporter) (json.RawMessage, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		})
	require.NoError(t, err)
	<-started

	require.True(t, s.Cancel(job.JobID))
	select {
	case got := <-seen:
		assert.Equal(t, StatusCancelled, got.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("terminal hook never fired")
	}

	// The workload observing ctx.Done afterwards must not re-fire the hook
	waitForStatus(t, s, job.JobID)
	select {
	case <-seen:
		t.Fatal("hook fired twice for one job")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestService_GetByConversation(t *testing.T) {
	s := newTestService(t)

	for _, conv := range []string{"conv-1", "conv-1", "conv-2"} {
		_, err := s.Start(Request{JobType: "azure-op", ConversationID: conv},
			func(ctx context.Context, _ *Reporter) (json.RawMessage, error) { return nil, nil })
		require.NoError(t, err)
	}

	assert.Len(t, s.GetByConversation("conv-1"), 2)
	assert.Len(t, s.GetByConversation("conv-2"), 1)
	assert.Empty(t, s.GetByConversation("conv-3"))
}

func TestService_CleanupExpired(t *testing.T) {
	s := NewService(50*time.Millisecond, nil)

	job, err := s.Start(Request{JobType: "azure-op"},
		func(ctx context.Context, _ *Reporter) (json.RawMessage, error) { return nil, nil })
	require.NoError(t, err)
	waitForStatus(t, s, job.JobID)

	// Not yet past retention
	assert.Equal(t, 0, s.CleanupExpired())

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, s.CleanupExpired())

	_, ok := s.Get(job.JobID)
	assert.False(t, ok)
}

func TestService_CleanupSkipsRunningJobs(t *testing.T) {
	s := NewService(time.Nanosecond, nil)
	release := make(chan struct{})

	job, err := s.Start(Request{JobType: "azure-op"},
		func(ctx context.Context, _ *Reporter) (json.RawMessage, error) {
			<-release
			return nil, nil
		})
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, s.CleanupExpired(), "running jobs are never reclaimed")

	_, ok := s.Get(job.JobID)
	assert.True(t, ok)

	close(release)
	waitForStatus(t, s, job.JobID)
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	s := newTestService(t)
	_, err := NewScheduler(s, "not a schedule", nil)
	require.Error(t, err)
}

func TestScheduler_RunsCleanup(t *testing.T) {
	s := NewService(time.Nanosecond, nil)

	job, err := s.Start(Request{JobType: "azure-op"},
		func(ctx context.Context, _ *Reporter) (json.RawMessage, error) { return nil, nil })
	require.NoError(t, err)
	waitForStatus(t, s, job.JobID)

	sched, err := NewScheduler(s, "@every 10ms", nil)
	require.NoError(t, err)
	sched.Start()
	defer sched.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := s.Get(job.JobID); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("scheduler never reclaimed the expired job")
}
