package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/luminapix/backend/internal/models"
	"github.com/luminapix/backend/internal/queue"
)

// TaskQueue is the queue surface the dispatcher needs.
type TaskQueue interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// deliverer sends terminal-state webhooks.
type deliverer interface {
	Deliver(ctx context.Context, callbackURL, jobID string, status models.JobStatus)
}

// cleanupScheduler arranges deferred input deletion.
type cleanupScheduler interface {
	ScheduleInputCleanup(jobID string)
}

// DispatchService bridges the job state machine and the task queue. The
// HTTP layer submits through it and workers report outcomes through it,
// so queue semantics stay out of both.
type DispatchService struct {
	queue     TaskQueue
	jobs      *JobService
	notifier  deliverer
	retention cleanupScheduler
}

func NewDispatchService(q TaskQueue, jobs *JobService, notifier deliverer, retention cleanupScheduler) *DispatchService {
	return &DispatchService{
		queue:     q,
		jobs:      jobs,
		notifier:  notifier,
		retention: retention,
	}
}

// Submit hands a freshly admitted job to the queue. If the queue is
// unreachable the job is failed immediately rather than left queued
// with no task behind it.
func (s *DispatchService) Submit(ctx context.Context, job *models.Job) error {
	err := s.queue.Enqueue(ctx, queue.Task{JobID: job.ID, Attempt: 1})
	if err == nil {
		log.Printf("[DISPATCH] job %s enqueued", job.ID)
		return nil
	}

	log.Printf("[DISPATCH] enqueue job %s: %v", job.ID, err)
	if failErr := s.jobs.Fail(ctx, job.ID, "task queue unavailable"); failErr != nil {
		log.Printf("[DISPATCH] failing unenqueued job %s: %v", job.ID, failErr)
	}
	return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
}

// OnWorkerProgress relays a progress update from a running worker.
func (s *DispatchService) OnWorkerProgress(ctx context.Context, jobID string, percent int) {
	if err := s.jobs.UpdateProgress(ctx, jobID, percent); err != nil {
		log.Printf("[DISPATCH] progress update for job %s: %v", jobID, err)
	}
}

// OnWorkerSuccess finalizes a completed job: records outputs, schedules
// input cleanup and fires the callback webhook in the background.
func (s *DispatchService) OnWorkerSuccess(ctx context.Context, jobID string, outputs []string, processingSeconds float64) error {
	if err := s.jobs.Complete(ctx, jobID, outputs, processingSeconds); err != nil {
		return err
	}

	s.retention.ScheduleInputCleanup(jobID)
	s.notifyTerminal(jobID, models.JobCompleted)
	return nil
}

// OnWorkerFailure records a failed attempt. Attempts with retries left
// are a no-op here since the queue redelivers; once exhausted the job is
// failed for good and the webhook fires. The reservation is not
// refunded.
func (s *DispatchService) OnWorkerFailure(ctx context.Context, jobID, errorMessage string, exhausted bool) error {
	if !exhausted {
		log.Printf("[DISPATCH] job %s attempt failed, will retry: %s", jobID, errorMessage)
		return nil
	}

	if err := s.jobs.Fail(ctx, jobID, errorMessage); err != nil {
		return err
	}

	s.notifyTerminal(jobID, models.JobFailed)
	return nil
}

func (s *DispatchService) notifyTerminal(jobID string, status models.JobStatus) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		job, err := s.jobs.Lookup(ctx, jobID)
		if err != nil {
			log.Printf("[DISPATCH] lookup for webhook, job %s: %v", jobID, err)
			return
		}
		s.notifier.Deliver(ctx, job.CallbackURL, jobID, status)
	}()
}
