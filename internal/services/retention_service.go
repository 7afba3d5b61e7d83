package services

import (
	"log"
	"sync"
	"time"

	"github.com/luminapix/backend/internal/config"
)

// artifactStore is the slice of storage the retention service needs.
type artifactStore interface {
	DeleteInputs(jobID string) error
	SweepOlderThan(cutoff time.Time) (int, error)
}

// RetentionService deletes input images shortly after a job finishes and
// sweeps whole job directories once the retention window passes.
type RetentionService struct {
	store artifactStore
	cfg   *config.RetentionConfig

	mu     sync.Mutex
	timers map[string]*time.Timer
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewRetentionService(store artifactStore, cfg *config.RetentionConfig) *RetentionService {
	return &RetentionService{
		store:  store,
		cfg:    cfg,
		timers: make(map[string]*time.Timer),
		stopCh: make(chan struct{}),
	}
}

// ScheduleInputCleanup arranges for the job's inputs to be deleted after
// the cleanup delay. Scheduling the same job twice resets the timer.
func (s *RetentionService) ScheduleInputCleanup(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.timers[jobID]; ok {
		timer.Stop()
	}
	s.timers[jobID] = time.AfterFunc(s.cfg.InputCleanupDelay, func() {
		if err := s.store.DeleteInputs(jobID); err != nil {
			log.Printf("[RETENTION] input cleanup for job %s: %v", jobID, err)
		}
		s.mu.Lock()
		delete(s.timers, jobID)
		s.mu.Unlock()
	})
}

// Start runs the periodic retention sweep until Stop is called.
func (s *RetentionService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.SweepOnce()
			case <-s.stopCh:
				return
			}
		}
	}()
	log.Printf("[RETENTION] sweeping every %s, window %s", s.cfg.SweepInterval, s.cfg.RetentionWindow)
}

// SweepOnce removes artifacts older than the retention window.
func (s *RetentionService) SweepOnce() {
	removed, err := s.store.SweepOlderThan(time.Now().Add(-s.cfg.RetentionWindow))
	if err != nil {
		log.Printf("[RETENTION] sweep: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("[RETENTION] swept %d expired job directories", removed)
	}
}

// Stop halts the sweep loop and cancels pending input cleanups.
func (s *RetentionService) Stop() {
	close(s.stopCh)
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for jobID, timer := range s.timers {
		timer.Stop()
		delete(s.timers, jobID)
	}
}
