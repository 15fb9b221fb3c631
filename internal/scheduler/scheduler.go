// Package scheduler runs the periodic selection cycle on a cron timer.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// jobTimeout bounds one scheduled run; a stuck run must not pile up behind
// the next tick forever.
const jobTimeout = 10 * time.Minute

// Job represents a scheduled task
type Job func(ctx context.Context)

// Scheduler manages periodic tasks
type Scheduler struct {
	cron *cron.Cron
	jobs map[string]cron.EntryID
}

// New creates a new scheduler
func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		jobs: make(map[string]cron.EntryID),
	}
}

// AddJob adds a job with a cron schedule
func (s *Scheduler) AddJob(name, schedule string, job Job) error {
	entryID, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		log.Printf("[scheduler] starting job: %s", name)
		start := time.Now()
		job(ctx)
		log.Printf("[scheduler] job %s completed in %v", name, time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.jobs[name] = entryID
	log.Printf("[scheduler] added job: %s (schedule: %s)", name, schedule)
	return nil
}

// AddCycleJob adds the selection cycle job at a fixed minute interval.
func (s *Scheduler) AddCycleJob(intervalMinutes int, job Job) error {
	schedule := fmt.Sprintf("@every %dm", intervalMinutes)
	return s.AddJob("topic-selector", schedule, job)
}

// RemoveJob removes a scheduled job
func (s *Scheduler) RemoveJob(name string) {
	if entryID, ok := s.jobs[name]; ok {
		s.cron.Remove(entryID)
		delete(s.jobs, name)
		log.Printf("[scheduler] removed job: %s", name)
	}
}

// Start begins running scheduled jobs
func (s *Scheduler) Start() {
	log.Println("[scheduler] starting scheduler")
	s.cron.Start()
}

// Stop halts the scheduler; the returned context is done once running jobs
// finish.
func (s *Scheduler) Stop() context.Context {
	log.Println("[scheduler] stopping scheduler")
	return s.cron.Stop()
}

// RunNow immediately executes a job outside its schedule.
func (s *Scheduler) RunNow(name string, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	log.Printf("[scheduler] running job now: %s", name)
	job(ctx)
}

// JobInfo contains information about a scheduled job
type JobInfo struct {
	Name    string
	NextRun time.Time
	LastRun time.Time
}

// ListJobs returns info about scheduled jobs
func (s *Scheduler) ListJobs() []JobInfo {
	entries := s.cron.Entries()
	infos := make([]JobInfo, 0, len(entries))

	for name, entryID := range s.jobs {
		for _, entry := range entries {
			if entry.ID == entryID {
				infos = append(infos, JobInfo{
					Name:    name,
					NextRun: entry.Next,
					LastRun: entry.Prev,
				})
				break
			}
		}
	}

	return infos
}
