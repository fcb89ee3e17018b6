package scheduler

import "testing"

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.AddJob("*/5 * * * *", func() {}); err != nil {
		t.Errorf("expected no error adding job, got %v", err)
	}
	if err := s.AddJob("not a cron spec", func() {}); err == nil {
		t.Error("expected error for invalid cron expression")
	}
}
