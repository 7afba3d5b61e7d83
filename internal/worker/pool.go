// Package worker runs the processing pool: goroutines pulling tasks off
// the queue, driving the transform engine and reporting outcomes back
// through the dispatcher.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/luminapix/backend/internal/config"
	"github.com/luminapix/backend/internal/engine"
	"github.com/luminapix/backend/internal/models"
	"github.com/luminapix/backend/internal/queue"
	"github.com/luminapix/backend/internal/services"
)

// taskSource is the queue surface the pool consumes.
type taskSource interface {
	Dequeue(ctx context.Context) (*queue.Task, error)
	Ack(ctx context.Context, t *queue.Task) error
	Nack(ctx context.Context, t *queue.Task) (bool, error)
	PromoteDue(ctx context.Context) (int, error)
	ReclaimExpired(ctx context.Context) (int, error)
}

// jobStore is the job surface the pool reads and transitions.
type jobStore interface {
	Lookup(ctx context.Context, jobID string) (*models.Job, error)
	MarkProcessing(ctx context.Context, jobID string) error
}

// outcomeReporter receives worker results.
type outcomeReporter interface {
	OnWorkerProgress(ctx context.Context, jobID string, percent int)
	OnWorkerSuccess(ctx context.Context, jobID string, outputs []string, processingSeconds float64) error
	OnWorkerFailure(ctx context.Context, jobID, errorMessage string, exhausted bool) error
}

// artifactStore reads inputs and persists outputs.
type artifactStore interface {
	InputPaths(jobID string) ([]string, error)
	SaveOutputs(jobID string, images [][]byte) ([]string, error)
}

type Pool struct {
	queue      taskSource
	jobs       jobStore
	dispatcher outcomeReporter
	store      artifactStore
	engine     engine.Engine
	cfg        *config.QueueConfig
	workers    int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewPool(q taskSource, jobs jobStore, dispatcher outcomeReporter, store artifactStore, eng engine.Engine, cfg *config.QueueConfig, wcfg *config.WorkerConfig) *Pool {
	return &Pool{
		queue:      q,
		jobs:       jobs,
		dispatcher: dispatcher,
		store:      store,
		engine:     eng,
		cfg:        cfg,
		workers:    wcfg.Concurrency,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the worker goroutines and the pump loop. The pump
// promotes due retries and reclaims tasks whose worker died.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.runLoop(i)
	}
	p.wg.Add(1)
	go p.pumpLoop()
	log.Printf("[WORKER] pool started with %d workers", p.workers)
}

// Stop signals all loops and waits for in-flight tasks to finish.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
	log.Printf("[WORKER] pool stopped")
}

func (p *Pool) runLoop(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		ctx := context.Background()
		task, err := p.queue.Dequeue(ctx)
		if err != nil {
			log.Printf("[WORKER] %d dequeue: %v", id, err)
			time.Sleep(p.cfg.PollTimeout)
			continue
		}
		if task == nil {
			continue
		}

		p.process(ctx, task)
	}
}

func (p *Pool) pumpLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.PumpInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			ctx := context.Background()
			if n, err := p.queue.PromoteDue(ctx); err != nil {
				log.Printf("[WORKER] promote due retries: %v", err)
			} else if n > 0 {
				log.Printf("[WORKER] promoted %d delayed tasks", n)
			}
			if n, err := p.queue.ReclaimExpired(ctx); err != nil {
				log.Printf("[WORKER] reclaim expired leases: %v", err)
			} else if n > 0 {
				log.Printf("[WORKER] reclaimed %d abandoned tasks", n)
			}
		}
	}
}

// process runs one attempt end to end. The task is acked only after an
// outcome has been recorded, so a crash mid-attempt redelivers.
func (p *Pool) process(ctx context.Context, task *queue.Task) {
	job, err := p.jobs.Lookup(ctx, task.JobID)
	if errors.Is(err, services.ErrNotFound) {
		log.Printf("[WORKER] task for unknown job %s dropped", task.JobID)
		p.ack(ctx, task)
		return
	}
	if err != nil {
		p.failAttempt(ctx, task, fmt.Sprintf("loading job: %v", err))
		return
	}

	// A job cancelled while queued still has a task behind it. Drop it.
	if job.Status.Terminal() {
		log.Printf("[WORKER] job %s already %s, dropping task", job.ID, job.Status)
		p.ack(ctx, task)
		return
	}

	if err := p.jobs.MarkProcessing(ctx, job.ID); err != nil {
		if errors.Is(err, services.ErrInvalidState) {
			p.ack(ctx, task)
			return
		}
		p.failAttempt(ctx, task, fmt.Sprintf("marking processing: %v", err))
		return
	}

	inputs, err := p.store.InputPaths(job.ID)
	if err != nil {
		p.failAttempt(ctx, task, fmt.Sprintf("loading inputs: %v", err))
		return
	}

	started := time.Now()
	outputs, err := p.transform(ctx, job, inputs)
	if err != nil {
		p.failAttempt(ctx, task, err.Error())
		return
	}

	urls, err := p.store.SaveOutputs(job.ID, outputs)
	if err != nil {
		p.failAttempt(ctx, task, fmt.Sprintf("saving outputs: %v", err))
		return
	}

	if err := p.dispatcher.OnWorkerSuccess(ctx, job.ID, urls, time.Since(started).Seconds()); err != nil {
		log.Printf("[WORKER] recording success for job %s: %v", job.ID, err)
	}
	p.ack(ctx, task)
}

// transform runs the engine under the soft time limit, with the hard
// limit as a backstop against an engine that ignores cancellation.
func (p *Pool) transform(ctx context.Context, job *models.Job, inputs []string) ([][]byte, error) {
	softCtx, cancel := context.WithTimeout(ctx, p.cfg.SoftTimeLimit)
	defer cancel()

	// Transform progress covers 0-90; the last 10 is persistence.
	progress := func(done, total int) {
		if total <= 0 {
			return
		}
		p.dispatcher.OnWorkerProgress(ctx, job.ID, done*90/total)
	}

	type result struct {
		outputs [][]byte
		err     error
	}
	resCh := make(chan result, 1)
	go func() {
		out, err := p.engine.Transform(softCtx, job.ID, job.Operation, job.Parameters, inputs, progress)
		resCh <- result{out, err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			return nil, fmt.Errorf("transform: %w", res.err)
		}
		return res.outputs, nil
	case <-time.After(p.cfg.HardTimeLimit):
		return nil, fmt.Errorf("transform exceeded hard time limit %s", p.cfg.HardTimeLimit)
	}
}

// failAttempt nacks the task and reports the failure, which only
// finalizes the job once retries are exhausted.
func (p *Pool) failAttempt(ctx context.Context, task *queue.Task, msg string) {
	exhausted, err := p.queue.Nack(ctx, task)
	if err != nil {
		log.Printf("[WORKER] nack task for job %s: %v", task.JobID, err)
	}
	if err := p.dispatcher.OnWorkerFailure(ctx, task.JobID, msg, exhausted); err != nil {
		log.Printf("[WORKER] recording failure for job %s: %v", task.JobID, err)
	}
}

func (p *Pool) ack(ctx context.Context, task *queue.Task) {
	if err := p.queue.Ack(ctx, task); err != nil {
		log.Printf("[WORKER] ack task for job %s: %v", task.JobID, err)
	}
}
