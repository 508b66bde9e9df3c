// Package scheduler runs canvaslink's periodic maintenance jobs: the
// Refresh Registry eviction sweep and the event log archiver's upload
// pass, both driven by robfig/cron/v3 the way haasonsaas-nexus drives
// its own background jobs off a cron.Schedule.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/canvaslink/canvaslink/pkg/fwlog"
)

// RefreshRegistry is the slice of the Refresh Registry the scheduler
// needs to run its eviction sweep.
type RefreshRegistry interface {
	Sweep(olderThan time.Time) int
}

// Archiver is the slice of the event log archiver the scheduler needs.
// A nil Archiver means object storage is not configured; the archiver
// job is not scheduled at all in that case.
type Archiver interface {
	ArchiveOnce(ctx context.Context)
}

// Scheduler owns the cron runner backing canvaslink's background jobs.
type Scheduler struct {
	cron *cron.Cron
}

// New builds a Scheduler. rr is mandatory; archiver may be nil.
// tokenHardLifetime bounds how far back the RR sweep may evict: an entry
// can only be safely dropped once no live token could have been issued
// before it, per refreshregistry.Registry.Sweep's contract.
func New(rr RefreshRegistry, rrSweepInterval time.Duration, tokenHardLifetime time.Duration, archiver Archiver, archiveInterval time.Duration) (*Scheduler, error) {
	c := cron.New(cron.WithSeconds())

	if _, err := c.AddFunc(everySpec(rrSweepInterval), func() {
		evicted := rr.Sweep(time.Now().Add(-tokenHardLifetime))
		if evicted > 0 {
			fwlog.Infof("scheduler: refresh registry sweep evicted %d entries", evicted)
		}
	}); err != nil {
		return nil, err
	}

	if archiver != nil {
		if _, err := c.AddFunc(everySpec(archiveInterval), func() {
			archiver.ArchiveOnce(context.Background())
		}); err != nil {
			return nil, err
		}
	}

	return &Scheduler{cron: c}, nil
}

// everySpec renders d as a robfig/cron "@every" descriptor.
func everySpec(d time.Duration) string {
	return "@every " + d.String()
}

// Start begins running scheduled jobs in the background. Non-blocking.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels the scheduler and waits for any in-flight job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
