package monitor

import (
	"log"
	"sync"
	"time"

	"github.com/insightflow/ml-studio-backend/repository"
)

// WorkerTracker reports whether a live training worker owns a job id
type WorkerTracker interface {
	IsActive(jobID string) bool
}

// JobMonitor sweeps running jobs and fails the ones whose worker is gone.
// Workers die with the process, so after a restart jobs stuck in running
// state would otherwise look alive to polling clients forever.
type JobMonitor struct {
	repo       *repository.Repository
	workers    WorkerTracker
	interval   time.Duration
	staleAfter time.Duration
	stopChan   chan struct{}
	wg         sync.WaitGroup
}

// NewJobMonitor creates a new job monitor
func NewJobMonitor(repo *repository.Repository, workers WorkerTracker) *JobMonitor {
	return &JobMonitor{
		repo:       repo,
		workers:    workers,
		interval:   30 * time.Second,
		staleAfter: 2 * time.Minute,
		stopChan:   make(chan struct{}),
	}
}

// Start begins the periodic sweep
func (m *JobMonitor) Start() {
	m.wg.Add(1)
	go m.monitorLoop()
	log.Printf("Job monitor started - sweeping every %s", m.interval)
}

// Stop stops the job monitor gracefully
func (m *JobMonitor) Stop() {
	close(m.stopChan)
	m.wg.Wait()
	log.Println("Job monitor stopped")
}

func (m *JobMonitor) monitorLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.sweepAbandonedJobs()
		}
	}
}

// sweepAbandonedJobs fails running jobs that have no live worker and have not
// been written to for a while. The stale window keeps a fresh worker that has
// not yet registered from being reaped.
func (m *JobMonitor) sweepAbandonedJobs() {
	jobs, err := m.repo.ListActiveJobs()
	if err != nil {
		log.Printf("Failed to list active jobs: %v", err)
		return
	}

	cutoff := time.Now().Add(-m.staleAfter)
	for _, job := range jobs {
		if m.workers.IsActive(job.ID) {
			continue
		}
		if job.UpdatedAt.After(cutoff) {
			continue
		}

		log.Printf("Job %s has no live worker and is stale, marking failed", job.ID)
		if err := m.repo.FailJob(job.ID, "training worker lost (service restarted during training)"); err != nil {
			log.Printf("Failed to mark abandoned job %s as failed: %v", job.ID, err)
		}
	}
}
