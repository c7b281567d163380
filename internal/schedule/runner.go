package schedule

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Runner wraps a cron scheduler so maintenance jobs get the process
// base context and panics never escape a job.
type Runner struct {
	cron    *cron.Cron
	log     *logrus.Logger
	baseCtx context.Context
}

// New creates a maintenance job runner
func New(log *logrus.Logger, baseCtx context.Context) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Runner{
		cron:    cron.New(),
		log:     log,
		baseCtx: baseCtx,
	}
}

// Add registers a job under a cron spec
func (r *Runner) Add(spec, name string, job func(context.Context)) (cron.EntryID, error) {
	return r.cron.AddFunc(spec, func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.log.WithFields(logrus.Fields{
					"job":   name,
					"panic": rec,
				}).Error("Maintenance job panicked")
			}
		}()
		job(r.baseCtx)
	})
}

// Start begins scheduling
func (r *Runner) Start() {
	r.log.Info("Maintenance scheduler started")
	r.cron.Start()
}

// Stop halts scheduling and waits for running jobs to finish
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.log.Info("Maintenance scheduler stopped")
}
