package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/sawmill-video/sawmill/clients"
	"github.com/sawmill-video/sawmill/executor"
	"github.com/sawmill-video/sawmill/jobs"
	"github.com/sawmill-video/sawmill/log"
	"github.com/sawmill-video/sawmill/metrics"
	"github.com/sawmill-video/sawmill/queue"
)

// RenditionController is what the runner drives. Satisfied by
// *Controller; tests substitute fakes.
type RenditionController interface {
	Start(settings *jobs.Settings, progressCallback func(int)) error
	Status() executor.Status
	ErrorMessage() string
	Stop()
}

// ManifestMerger produces and uploads the job's master manifest once
// every rendition has completed.
type ManifestMerger interface {
	Merge(job *jobs.Job, outputs []*jobs.Output) error
}

// Runner is the body of one queued rendition task: it drives a
// controller for its output, reflects the outcome into the store, and
// coordinates job-level completion with its sibling runners.
type Runner struct {
	Store    jobs.Store
	Webhooks *clients.WebhookClient
	Queue    queue.Queue
	Merger   ManifestMerger

	// NewController is swapped out in tests.
	NewController func() RenditionController
	Clock         clock.Clock
}

func (r *Runner) controller() RenditionController {
	if r.NewController != nil {
		return r.NewController()
	}
	return NewController()
}

func (r *Runner) clock() clock.Clock {
	if r.Clock != nil {
		return r.Clock
	}
	return clock.New()
}

// Run executes one rendition to its terminal state. The context is
// cancelled when the task is revoked or hits its soft time limit; the
// runner translates that into a Cancelled output rather than returning
// the context error.
func (r *Runner) Run(ctx context.Context, jobID, outputID uuid.UUID) error {
	output, err := r.Store.GetOutput(ctx, outputID)
	if err != nil {
		return err
	}
	if err := r.initialize(ctx, jobID, output); err != nil {
		return err
	}

	start := time.Now()
	ctrl := r.controller()
	if err := ctrl.Start(output.Settings, r.progressCallback(jobID, output.ID)); err != nil {
		log.LogError(jobID.String(), "controller failed to start", err, "output", output.Name)
		r.failOutput(ctx, jobID, output, err.Error())
		ctrl.Stop()
		return r.finishJob(ctx, jobID)
	}

	r.poll(ctx, jobID, output, ctrl)

	// The transcoder settling does not mean the uploads are done. Stop
	// blocks until every node has wound down: polite subprocesses get
	// their drain window and the uploaders run their final sweep.
	ctrl.Stop()

	metrics.Metrics.RenditionDurationSec.
		WithLabelValues(string(output.Status)).
		Observe(time.Since(start).Seconds())

	// The task context may already be cancelled (soft time limit); the
	// completion block must still run.
	return r.finishJob(context.Background(), jobID)
}

// initialize moves the job to Processing (first runner in does this and
// fires the webhook) and marks the output Processing.
func (r *Runner) initialize(ctx context.Context, jobID uuid.UUID, output *jobs.Output) error {
	var notify *jobs.Job
	var notifyOutputs []*jobs.Output
	err := r.Store.WithJobLock(ctx, jobID, func(job *jobs.Job, outputs []*jobs.Output) error {
		if job.Status == jobs.StatusProcessing {
			return nil
		}
		now := time.Now().UTC()
		job.Status = jobs.StatusProcessing
		job.StartTime = &now
		notify = job
		notifyOutputs = outputs
		return nil
	})
	if err != nil {
		return err
	}
	if notify != nil {
		r.Webhooks.SendJobStatus(notify, notifyOutputs)
	}

	now := time.Now().UTC()
	output.Status = jobs.StatusProcessing
	output.StartTime = &now
	return r.Store.UpdateOutput(ctx, output)
}

// poll watches the controller until it settles or the task is cancelled.
func (r *Runner) poll(ctx context.Context, jobID uuid.UUID, output *jobs.Output, ctrl RenditionController) {
	clk := r.clock()
	for {
		select {
		case <-ctx.Done():
			log.Log(jobID.String(), "rendition cancelled", "output", output.Name, "reason", ctx.Err())
			r.cancelOutput(jobID, output)
			ctrl.Stop()
			return
		case <-clk.After(1 * time.Second):
		}

		switch ctrl.Status() {
		case executor.Finished:
			r.completeOutput(jobID, output)
			return
		case executor.Errored:
			msg := ctrl.ErrorMessage()
			if msg == "" {
				msg = "transcoding pipeline failed"
			}
			r.failOutput(context.Background(), jobID, output, msg)
			return
		}
	}
}

func (r *Runner) completeOutput(jobID uuid.UUID, output *jobs.Output) {
	now := time.Now().UTC()
	output.Status = jobs.StatusCompleted
	output.Progress = 100
	output.EndTime = &now
	if err := r.Store.UpdateOutput(context.Background(), output); err != nil {
		log.LogError(jobID.String(), "failed to persist completed output", err, "output", output.Name)
	}
}

func (r *Runner) cancelOutput(jobID uuid.UUID, output *jobs.Output) {
	now := time.Now().UTC()
	output.Status = jobs.StatusCancelled
	output.EndTime = &now
	if err := r.Store.UpdateOutput(context.Background(), output); err != nil {
		log.LogError(jobID.String(), "failed to persist cancelled output", err, "output", output.Name)
	}
}

// failOutput is the transcoder-error path: persist the failure, revoke
// every sibling task to fail the job fast, and move the job to Error
// exactly once.
func (r *Runner) failOutput(ctx context.Context, jobID uuid.UUID, output *jobs.Output, errorMessage string) {
	now := time.Now().UTC()
	output.Status = jobs.StatusError
	output.ErrorMessage = errorMessage
	output.EndTime = &now
	if err := r.Store.UpdateOutput(ctx, output); err != nil {
		log.LogError(jobID.String(), "failed to persist errored output", err, "output", output.Name)
	}

	var notify *jobs.Job
	var notifyOutputs []*jobs.Output
	err := r.Store.WithJobLock(ctx, jobID, func(job *jobs.Job, outputs []*jobs.Output) error {
		for _, sibling := range outputs {
			if sibling.ID == output.ID || sibling.Status.Terminal() || sibling.TaskID == "" {
				continue
			}
			r.Queue.Revoke(sibling.TaskID)
		}
		if job.Status == jobs.StatusError {
			return nil
		}
		job.Status = jobs.StatusError
		job.EndTime = &now
		notify = job
		notifyOutputs = outputs
		return nil
	})
	if err != nil {
		log.LogError(jobID.String(), "failed to persist errored job", err)
	}
	if notify != nil {
		metrics.Metrics.JobsCompletedCount.WithLabelValues(string(jobs.StatusError)).Inc()
		r.Webhooks.SendJobStatus(notify, notifyOutputs)
	}
}

// finishJob runs the atomic completion block: whichever runner observes
// all siblings terminal first moves the job to its terminal status, and
// if everything completed, merges the master manifest. The store's job
// lock guarantees the merge runs once.
func (r *Runner) finishJob(ctx context.Context, jobID uuid.UUID) error {
	var notify *jobs.Job
	var notifyOutputs []*jobs.Output
	err := r.Store.WithJobLock(ctx, jobID, func(job *jobs.Job, outputs []*jobs.Output) error {
		if job.Status.Terminal() {
			return nil
		}
		allCompleted := len(outputs) > 0
		for _, output := range outputs {
			if !output.Status.Terminal() {
				return nil
			}
			if output.Status != jobs.StatusCompleted {
				allCompleted = false
			}
		}

		now := time.Now().UTC()
		if allCompleted {
			if err := r.Merger.Merge(job, outputs); err != nil {
				log.LogError(jobID.String(), "manifest merge failed", err)
				job.Status = jobs.StatusError
			} else {
				job.Status = jobs.StatusCompleted
				job.Progress = 100
			}
		} else if anyStatus(outputs, jobs.StatusError) {
			job.Status = jobs.StatusError
		} else {
			job.Status = jobs.StatusCancelled
		}
		job.EndTime = &now
		notify = job
		notifyOutputs = outputs
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to finish job %s: %w", jobID, err)
	}
	if notify != nil {
		metrics.Metrics.JobsCompletedCount.WithLabelValues(string(notify.Status)).Inc()
		r.Webhooks.SendJobStatus(notify, notifyOutputs)
	}
	return nil
}

func anyStatus(outputs []*jobs.Output, status jobs.Status) bool {
	for _, output := range outputs {
		if output.Status == status {
			return true
		}
	}
	return false
}

// progressCallback persists a rendition's progress, but only on
// multiples of five and only when the value moved, then refreshes the
// job-level mean. It works on a fresh read of the output rather than
// the runner's copy: the log parser delivers events from its own
// goroutine, possibly after the runner has already settled the output.
func (r *Runner) progressCallback(jobID, outputID uuid.UUID) func(int) {
	return func(pct int) {
		if pct < 0 || pct > 100 || pct%5 != 0 {
			return
		}

		ctx := context.Background()
		output, err := r.Store.GetOutput(ctx, outputID)
		if err != nil {
			log.LogError(jobID.String(), "failed to load output for progress update", err)
			return
		}
		if output.Status.Terminal() || output.Progress == pct {
			return
		}
		output.Progress = pct
		if err := r.Store.UpdateOutput(ctx, output); err != nil {
			log.LogError(jobID.String(), "failed to persist output progress", err, "output", output.Name)
			return
		}
		err = r.Store.WithJobLock(ctx, jobID, func(job *jobs.Job, outputs []*jobs.Output) error {
			job.Progress = jobs.MeanProgress(outputs)
			return nil
		})
		if err != nil {
			log.LogError(jobID.String(), "failed to persist job progress", err)
		}
	}
}
