// Package scheduler owns every autonomous agent timer (ingestion polls,
// risk sweeps). Jobs are grouped by agent so a stopping agent can drop all
// of its timers at once.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Scheduler manages cron-based agent jobs.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	jobs    map[string][]cron.EntryID // agent id → entry ids
	running bool
}

// New creates a stopped scheduler.
func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		jobs: make(map[string][]cron.EntryID),
	}
}

// Every renders a fixed interval as an "@every" schedule. Cron rounds
// intervals under one second up to one second.
func Every(d time.Duration) string {
	return "@every " + d.String()
}

// Start begins firing jobs. Calling it twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	log.Info().Int("jobs", s.countLocked()).Msg("⏱️  Scheduler started")
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	log.Info().Msg("Scheduler stopped")
}

// AddJob registers fn on schedule for agentID. The schedule is a standard
// five-field cron expression or a descriptor such as "@every 5m".
func (s *Scheduler) AddJob(agentID, name, schedule string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(schedule, func() {
		log.Debug().Str("agent", agentID).Str("job", name).Msg("Scheduled job fired")
		fn()
	})
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q: %w", schedule, err)
	}

	s.jobs[agentID] = append(s.jobs[agentID], id)
	log.Debug().
		Str("agent", agentID).
		Str("job", name).
		Str("schedule", schedule).
		Msg("Scheduled job registered")
	return nil
}

// RemoveAgent removes every job registered for agentID.
func (s *Scheduler) RemoveAgent(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.jobs[agentID] {
		s.cron.Remove(id)
	}
	delete(s.jobs, agentID)
}

// Jobs returns how many jobs agentID has registered.
func (s *Scheduler) Jobs(agentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs[agentID])
}

// JobCount returns the total number of scheduled jobs.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLocked()
}

func (s *Scheduler) countLocked() int {
	total := 0
	for _, ids := range s.jobs {
		total += len(ids)
	}
	return total
}
