// ABOUTME: Supervised background jobs: start, poll, cancel, and reclaim
// ABOUTME: Terminal transitions are atomic - exactly one of Succeeded/Failed/Cancelled wins

package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a background job.
type Status string

// Job lifecycle states. NotStarted -> Running -> {Succeeded, Failed,
// Cancelled}; terminal states are mutually exclusive and final.
const (
	StatusNotStarted Status = "NotStarted"
	StatusRunning    Status = "Running"
	StatusSucceeded  Status = "Succeeded"
	StatusFailed     Status = "Failed"
	StatusCancelled  Status = "Cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Progress is a point-in-time snapshot of a job's advancement.
type Progress struct {
	PercentComplete int      `json:"percentComplete"`
	CurrentStep     string   `json:"currentStep,omitempty"`
	CompletedSteps  []string `json:"completedSteps,omitempty"`
	FailedSteps     []string `json:"failedSteps,omitempty"`
}

// Job is the record for one supervised unit of asynchronous work. It is
// mutated only by the owning workload goroutine and by Cancel.
type Job struct {
	JobID          string            `json:"jobId"`
	JobType        string            `json:"jobType"`
	ConversationID string            `json:"conversationId"`
	UserID         string            `json:"userId,omitempty"`
	InputMessage   string            `json:"inputMessage,omitempty"`
	InputContext   map[string]string `json:"inputContext,omitempty"`
	Status         Status            `json:"status"`
	Progress       Progress          `json:"progress"`
	Result         json.RawMessage   `json:"result,omitempty"`
	ErrorMessage   string            `json:"errorMessage,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	CompletedAt    *time.Time        `json:"completedAt,omitempty"`
}

// Workload is the unit of work a job runs. It must observe ctx at its
// checkpoints; a workload already past its last checkpoint completes
// normally even if cancellation was requested.
type Workload func(ctx context.Context, reporter *Reporter) (json.RawMessage, error)

// Request describes the job to start.
type Request struct {
	JobType        string
	ConversationID string
	UserID         string
	InputMessage   string
	InputContext   map[string]string
}

// Service owns all background job records and their supervision.
type Service struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	cancels map[string]context.CancelFunc

	retention  time.Duration
	logger     *slog.Logger
	onTerminal func(*Job)
}

// NewService creates a job service. retention bounds how long terminal jobs
// are kept before CleanupExpired reclaims them.
func NewService(retention time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Service{
		jobs:      make(map[string]*Job),
		cancels:   make(map[string]context.CancelFunc),
		retention: retention,
		logger:    logger.With("component", "jobs"),
	}
}

// OnTerminal registers a hook invoked with a snapshot each time a job reaches
// a terminal state, exactly once per job. Set it before starting any job; the
// hook runs outside the service lock.
func (s *Service) OnTerminal(fn func(*Job)) {
	s.onTerminal = fn
}

// Start allocates a job, transitions it to Running, and launches workload in
// its own goroutine with a progress reporter and a cancellation context. The
// returned snapshot is taken immediately; Start never blocks on completion.
//
// An error (or panic) inside workload is recorded as Failed on the job
// record and never re-thrown to the caller of Start.
func (s *Service) Start(req Request, workload Workload) (*Job, error) {
	if workload == nil {
		return nil, fmt.Errorf("workload is required")
	}
	if req.JobType == "" {
		return nil, fmt.Errorf("job_type is required")
	}

	job := &Job{
		JobID:          uuid.New().String(),
		JobType:        req.JobType,
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		InputMessage:   req.InputMessage,
		InputContext:   req.InputContext,
		Status:         StatusNotStarted,
		CreatedAt:      time.Now(),
	}

	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	job.Status = StatusRunning
	s.jobs[job.JobID] = job
	s.cancels[job.JobID] = cancel
	snapshot := job.clone()
	s.mu.Unlock()

	s.logger.Info("job started",
		"job_id", job.JobID,
		"job_type", job.JobType,
		"conversation_id", job.ConversationID,
	)

	go s.run(ctx, job.JobID, workload)

	return snapshot, nil
}

// run executes the workload and records its outcome.
func (s *Service) run(ctx context.Context, jobID string, workload Workload) {
	defer func() {
		if r := recover(); r != nil {
			s.finish(jobID, StatusFailed, nil, fmt.Sprintf("workload panic: %v", r))
		}
	}()

	reporter := &Reporter{service: s, jobID: jobID}

	result, err := workload(ctx, reporter)
	switch {
	case err == nil:
		s.finish(jobID, StatusSucceeded, result, "")
	case ctx.Err() != nil:
		// Cancel already recorded the terminal state; finish is a no-op if so
		s.finish(jobID, StatusCancelled, nil, "cancelled")
	default:
		s.finish(jobID, StatusFailed, nil, err.Error())
	}
}

// finish applies a terminal transition. Exactly one terminal state wins: if
// the job is already terminal (e.g. Cancel raced a natural completion) the
// call is a no-op.
func (s *Service) finish(jobID string, status Status, result json.RawMessage, errMsg string) {
	s.mu.Lock()

	job, ok := s.jobs[jobID]
	if !ok || job.Status.Terminal() {
		s.mu.Unlock()
		return
	}

	now := time.Now()
	job.Status = status
	job.Result = result
	job.ErrorMessage = errMsg
	job.CompletedAt = &now
	if status == StatusSucceeded {
		job.Progress.PercentComplete = 100
	}

	if cancel, ok := s.cancels[jobID]; ok {
		cancel()
		delete(s.cancels, jobID)
	}
	snapshot := job.clone()
	s.mu.Unlock()

	s.logger.Info("job finished",
		"job_id", jobID,
		"status", status,
		"error", errMsg,
	)
	if s.onTerminal != nil {
		s.onTerminal(snapshot)
	}
}

// Get returns a point-in-time snapshot of the job, safe to poll.
func (s *Service) Get(jobID string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, false
	}
	return job.clone(), true
}

// GetByConversation returns snapshots of every job owned by a conversation.
func (s *Service) GetByConversation(conversationID string) []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Job
	for _, job := range s.jobs {
		if job.ConversationID == conversationID {
			out = append(out, job.clone())
		}
	}
	return out
}

// Cancel signals cancellation to the running workload and transitions the
// job to Cancelled if it has not already reached a terminal state. Returns
// false if the job was not found or was already terminal.
func (s *Service) Cancel(jobID string) bool {
	s.mu.Lock()

	job, ok := s.jobs[jobID]
	if !ok || job.Status.Terminal() {
		s.mu.Unlock()
		return false
	}

	now := time.Now()
	job.Status = StatusCancelled
	job.ErrorMessage = "cancelled"
	job.CompletedAt = &now

	if cancel, ok := s.cancels[jobID]; ok {
		cancel()
		delete(s.cancels, jobID)
	}
	snapshot := job.clone()
	s.mu.Unlock()

	s.logger.Info("job cancelled", "job_id", jobID)
	if s.onTerminal != nil {
		s.onTerminal(snapshot)
	}
	return true
}

// CleanupExpired reclaims terminal jobs older than the retention window and
// returns the count removed. It is invoked by an external scheduler, never
// by the service itself.
func (s *Service) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.retention)
	removed := 0
	for id, job := range s.jobs {
		if !job.Status.Terminal() {
			continue
		}
		completed := job.CreatedAt
		if job.CompletedAt != nil {
			completed = *job.CompletedAt
		}
		if completed.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Info("expired jobs reclaimed", "count", removed)
	}
	return removed
}

// clone deep-copies a job so pollers never observe partial updates.
func (j *Job) clone() *Job {
	out := *j
	if j.InputContext != nil {
		out.InputContext = make(map[string]string, len(j.InputContext))
		for k, v := range j.InputContext {
			out.InputContext[k] = v
		}
	}
	out.Progress.CompletedSteps = append([]string(nil), j.Progress.CompletedSteps...)
	out.Progress.FailedSteps = append([]string(nil), j.Progress.FailedSteps...)
	if j.Result != nil {
		out.Result = append(json.RawMessage(nil), j.Result...)
	}
	if j.CompletedAt != nil {
		completed := *j.CompletedAt
		out.CompletedAt = &completed
	}
	return &out
}
