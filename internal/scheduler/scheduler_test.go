package scheduler_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/adithya-n05/ICHack26-sub001/internal/scheduler"
)

func TestAddJob_Fires(t *testing.T) {
	s := scheduler.New()
	var calls atomic.Int32

	if err := s.AddJob("ingestion", "poll:usgs", scheduler.Every(time.Second), func() { calls.Add(1) }); err != nil {
		t.Fatalf("AddJob() error = %v", err)
	}
	if s.JobCount() != 1 {
		t.Errorf("JobCount() = %d, want 1", s.JobCount())
	}

	s.Start()
	time.Sleep(1500 * time.Millisecond)
	s.Stop()

	if calls.Load() == 0 {
		t.Error("expected at least one call")
	}
}

func TestAddJob_InvalidSchedule(t *testing.T) {
	s := scheduler.New()
	if err := s.AddJob("risk", "sweep", "invalid-cron", func() {}); err == nil {
		t.Error("expected error for invalid schedule")
	}
	if s.JobCount() != 0 {
		t.Errorf("JobCount() = %d, want 0", s.JobCount())
	}
}

func TestRemoveAgent(t *testing.T) {
	s := scheduler.New()
	s.AddJob("ingestion", "poll:usgs", "@every 1h", func() {})
	s.AddJob("ingestion", "poll:nws", "@every 2h", func() {})
	s.AddJob("risk", "sweep", "@every 5m", func() {})

	if got := s.Jobs("ingestion"); got != 2 {
		t.Fatalf("Jobs(ingestion) = %d, want 2", got)
	}

	s.RemoveAgent("ingestion")
	if got := s.Jobs("ingestion"); got != 0 {
		t.Errorf("Jobs(ingestion) = %d after remove, want 0", got)
	}
	if got := s.JobCount(); got != 1 {
		t.Errorf("JobCount() = %d, want 1", got)
	}
}

func TestStartStop_Idempotent(t *testing.T) {
	s := scheduler.New()
	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
}

func TestEvery(t *testing.T) {
	if got := scheduler.Every(5 * time.Minute); got != "@every 5m0s" {
		t.Errorf("Every(5m) = %q", got)
	}
}
