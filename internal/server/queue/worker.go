// Package queue runs the asynchronous sync job machinery: a fixed pool of
// workers pulling from the shared persistent queue, exponential backoff
// with retry budgets, and a scheduler that returns due retries to the
// queue. Claiming is an atomic queued-to-processing transition, so no two
// workers ever run the same job, and jobs for one attachment execute in
// submission order.
package queue

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dkaspars/attachsync/internal/common"
	"github.com/dkaspars/attachsync/internal/logging"
	"github.com/dkaspars/attachsync/internal/server/models"
	"github.com/dkaspars/attachsync/internal/server/repositories/attachments"
	"github.com/dkaspars/attachsync/internal/server/repositories/events"
	"github.com/dkaspars/attachsync/internal/server/repositories/jobs"
)

// Handler executes one claimed job. The error, if any, is classified into
// the shared taxonomy to decide the retry disposition.
type Handler interface {
	Execute(ctx context.Context, job *models.SyncJob) error
}

type PoolConfig struct {
	Workers      int
	PollInterval time.Duration
	Backoff      BackoffPolicy
}

type Pool struct {
	jobs        jobs.Repository
	events      events.Repository
	attachments attachments.Repository
	handler     Handler
	logger      logging.Logger
	metrics     *Metrics

	workers int
	poll    time.Duration
	backoff BackoffPolicy

	// now is a seam for tests.
	now func() time.Time
}

func NewPool(jobRepo jobs.Repository, eventRepo events.Repository, attachmentRepo attachments.Repository,
	handler Handler, logger logging.Logger, metrics *Metrics, cfg PoolConfig) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	backoff := cfg.Backoff.withDefaults()
	return &Pool{
		jobs:        jobRepo,
		events:      eventRepo,
		attachments: attachmentRepo,
		handler:     handler,
		logger:      logger,
		metrics:     metrics,
		workers:     workers,
		poll:        poll,
		backoff:     backoff,
		now:         time.Now,
	}
}

// Run starts the workers and the retry scheduler and blocks until ctx is
// cancelled. A claimed job always runs to completion; cancellation only
// stops new claims.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			p.workLoop(ctx)
			return nil
		})
	}
	g.Go(func() error {
		p.scheduleLoop(ctx)
		return nil
	})
	return g.Wait()
}

func (p *Pool) workLoop(ctx context.Context) {
	for {
		claimed := p.RunOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if !claimed {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.poll):
			}
		}
	}
}

// RunOnce claims and executes at most one job. Reports whether a job was
// claimed.
func (p *Pool) RunOnce(ctx context.Context) bool {
	job, err := p.jobs.ClaimNext(ctx)
	if err != nil {
		p.logger.Error(ctx, "job claim failed", "error", err)
		return false
	}
	if job == nil {
		return false
	}
	p.process(ctx, job)
	return true
}

func (p *Pool) process(ctx context.Context, job *models.SyncJob) {
	log := p.logger.With("job_id", job.ID, "job_type", job.JobType, "attachment_id", job.AttachmentID)
	start := p.now()

	err := p.handler.Execute(ctx, job)
	elapsed := p.now().Sub(start).Seconds()

	if err == nil {
		if markErr := p.jobs.MarkCompleted(ctx, job.ID); markErr != nil {
			log.Error(ctx, "failed to mark job completed", "error", markErr)
		}
		p.metrics.observe(string(job.JobType), "completed", elapsed)
		log.Info(ctx, "job completed")
		return
	}

	category := common.Classify(err)
	nextRetryCount := job.RetryCount + 1
	maxRetries := job.MaxRetries
	// Integrity failures get a single re-check before escalation.
	if category == common.CategoryIntegrity && maxRetries > 2 {
		maxRetries = 2
	}

	retryable := common.Retryable(category) && nextRetryCount < maxRetries
	var nextRetryAt *time.Time
	if retryable {
		at := p.now().Add(p.backoff.Delay(job.RetryCount, category))
		nextRetryAt = &at
	}
	if markErr := p.jobs.MarkFailed(ctx, job.ID, category, err.Error(), nextRetryAt); markErr != nil {
		log.Error(ctx, "failed to mark job failed", "error", markErr)
	}
	// The attachment keeps its own attempt counter across jobs, surfaced
	// through status summaries.
	if job.AttachmentID != "" {
		if incErr := p.attachments.IncrementRetryCount(ctx, job.AttachmentID); incErr != nil {
			log.Error(ctx, "failed to bump attachment retry count", "error", incErr)
		}
	}

	p.appendFailureEvents(ctx, job, category, err, retryable)
	outcome := "failed"
	if retryable {
		outcome = "retried"
	}
	p.metrics.observe(string(job.JobType), outcome, elapsed)
	log.Warn(ctx, "job failed", "category", category, "retryable", retryable, "error", err)
}

func (p *Pool) appendFailureEvents(ctx context.Context, job *models.SyncJob, category common.Category, cause error, retryable bool) {
	attempt := &models.Event{
		EventType:    "job.attempt_failed",
		Severity:     models.SeverityWarn,
		Source:       models.SourceWorker,
		WorkItemID:   job.WorkItemID,
		AttachmentID: job.AttachmentID,
		Message:      fmt.Sprintf("job %d (%s) attempt %d failed: %s: %v", job.ID, job.JobType, job.RetryCount+1, category, cause),
	}
	if err := p.events.Append(ctx, attempt); err != nil {
		p.logger.Error(ctx, "failed to append event", "error", err)
	}
	if retryable {
		return
	}
	// Terminal failure surfaces at error severity for manual intervention.
	terminal := &models.Event{
		EventType:    "job.failed",
		Severity:     models.SeverityError,
		Source:       models.SourceWorker,
		WorkItemID:   job.WorkItemID,
		AttachmentID: job.AttachmentID,
		Message:      fmt.Sprintf("job %d (%s) failed terminally: %s: %v", job.ID, job.JobType, category, cause),
	}
	if err := p.events.Append(ctx, terminal); err != nil {
		p.logger.Error(ctx, "failed to append event", "error", err)
	}
}

func (p *Pool) scheduleLoop(ctx context.Context) {
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			moved, err := p.jobs.RequeueDue(ctx, p.now())
			if err != nil {
				p.logger.Error(ctx, "retry requeue failed", "error", err)
			} else if moved > 0 {
				p.logger.Info(ctx, "returned due jobs to queue", "count", moved)
			}
			if depth, err := p.jobs.CountByStatus(ctx, models.JobQueued); err == nil {
				p.metrics.setDepth(depth)
			}
		}
	}
}
