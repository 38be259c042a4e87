// Package scheduler provides cron-based background jobs for the loan agent:
// the follow-up sweep that sends due re-engagement messages and the daily
// retention job that prunes old conversation data.
package scheduler

import (
	"github.com/robfig/cron/v3"
)

// Cron expressions for the standard background jobs.
const (
	// FollowUpSweepSpec runs the follow-up sweep every minute.
	FollowUpSweepSpec = "* * * * *"
	// RetentionSpec runs retention pruning daily at 02:30.
	RetentionSpec = "30 2 * * *"
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
