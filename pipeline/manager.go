package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sawmill-video/sawmill/clients"
	"github.com/sawmill-video/sawmill/config"
	"github.com/sawmill-video/sawmill/jobs"
	"github.com/sawmill-video/sawmill/log"
	"github.com/sawmill-video/sawmill/metrics"
	"github.com/sawmill-video/sawmill/queue"
	"github.com/sawmill-video/sawmill/video"
)

// JobManager is the job-level entry point used by the API: it
// materialises settings, fans a job out into rendition tasks, and
// handles cancel and restart.
type JobManager struct {
	Store    jobs.Store
	Queue    queue.Queue
	Webhooks *clients.WebhookClient
	Merger   ManifestMerger

	// Probe inspects the source before renditions are enqueued. Optional,
	// a nil Probe skips source inspection.
	Probe video.Prober

	// NewController is passed through to runners; tests use it to avoid
	// spawning real subprocesses.
	NewController func() RenditionController
}

func (m *JobManager) runner() *Runner {
	return &Runner{
		Store:         m.Store,
		Webhooks:      m.Webhooks,
		Queue:         m.Queue,
		Merger:        m.Merger,
		NewController: m.NewController,
	}
}

// StartJob persists the job, materialises its settings and outputs, and
// enqueues one rendition task per output.
func (m *JobManager) StartJob(ctx context.Context, job *jobs.Job) error {
	var template *jobs.JobTemplate
	if job.TemplateID != nil {
		var err error
		template, err = m.Store.GetTemplate(ctx, *job.TemplateID)
		if err != nil {
			return fmt.Errorf("failed to load template: %w", err)
		}
	}
	job.PopulateSettings(template)
	m.probeSource(job)

	outputs, err := job.CreateOutputs()
	if err != nil {
		return err
	}

	job.Status = jobs.StatusNotStarted
	if err := m.Store.CreateJob(ctx, job); err != nil {
		return err
	}
	for _, output := range outputs {
		if err := m.Store.CreateOutput(ctx, output); err != nil {
			return err
		}
	}

	if err := m.enqueueOutputs(ctx, job, outputs); err != nil {
		return err
	}

	job.Status = jobs.StatusQueued
	if err := m.Store.UpdateJob(ctx, job); err != nil {
		return err
	}
	metrics.Metrics.JobsCreatedCount.Inc()
	m.Webhooks.SendJobStatus(job, outputs)
	return nil
}

// probeSource records what ffprobe reports about the input on the job
// metadata. Best effort, a source that can't be probed still transcodes.
func (m *JobManager) probeSource(job *jobs.Job) {
	if m.Probe == nil {
		return
	}
	info, err := m.Probe.ProbeFile(job.ID.String(), job.InputURL)
	if err != nil {
		log.LogError(job.ID.String(), "failed to probe source", err, "input", job.InputURL)
		return
	}
	if job.MetaData == nil {
		job.MetaData = map[string]string{}
	}
	job.MetaData["source_duration"] = strconv.FormatFloat(info.Duration, 'f', 2, 64)
	job.MetaData["source_resolution"] = jobs.Resolution(info.Width, info.Height)
	job.MetaData["source_codec"] = info.Codec
}

func (m *JobManager) enqueueOutputs(ctx context.Context, job *jobs.Job, outputs []*jobs.Output) error {
	queueName := job.Queue()
	if queueName == "" {
		queueName = config.DefaultQueue
	}

	runner := m.runner()
	for _, output := range outputs {
		jobID, outputID := job.ID, output.ID
		taskID, err := m.Queue.Enqueue(queueName, func(taskCtx context.Context) error {
			return runner.Run(taskCtx, jobID, outputID)
		})
		if err != nil {
			return fmt.Errorf("failed to enqueue rendition %s: %w", output.Name, err)
		}
		output.TaskID = taskID
		output.Status = jobs.StatusQueued
		if err := m.Store.UpdateOutput(ctx, output); err != nil {
			return err
		}
	}
	return nil
}

// StopJob cancels a job: already-Completed jobs are left untouched,
// otherwise every rendition task is revoked. Tasks that never started
// are marked Cancelled here; running ones observe their context and
// cancel themselves.
func (m *JobManager) StopJob(ctx context.Context, jobID uuid.UUID) error {
	job, err := m.Store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == jobs.StatusCompleted {
		return nil
	}

	var notify *jobs.Job
	var notifyOutputs []*jobs.Output
	err = m.Store.WithJobLock(ctx, jobID, func(job *jobs.Job, outputs []*jobs.Output) error {
		now := time.Now().UTC()
		for _, output := range outputs {
			if output.TaskID != "" {
				m.Queue.Revoke(output.TaskID)
			}
			if output.Status == jobs.StatusNotStarted || output.Status == jobs.StatusQueued {
				output.Status = jobs.StatusCancelled
				output.EndTime = &now
				if err := m.Store.UpdateOutput(ctx, output); err != nil {
					return err
				}
			}
		}

		for _, output := range outputs {
			if !output.Status.Terminal() {
				// a running sibling will finish the job when it winds down
				return nil
			}
		}
		if job.Status.Terminal() {
			return nil
		}
		job.Status = jobs.StatusCancelled
		job.EndTime = &now
		notify = job
		notifyOutputs = outputs
		return nil
	})
	if err != nil {
		return err
	}
	if notify != nil {
		metrics.Metrics.JobsCompletedCount.WithLabelValues(string(jobs.StatusCancelled)).Inc()
		m.Webhooks.SendJobStatus(notify, notifyOutputs)
	}
	return nil
}

// RestartJob stops whatever is still running and enqueues a fresh set of
// rendition tasks over the same outputs.
func (m *JobManager) RestartJob(ctx context.Context, jobID uuid.UUID) error {
	if err := m.StopJob(ctx, jobID); err != nil {
		return err
	}

	job, err := m.Store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	outputs, err := m.Store.ListOutputs(ctx, jobID)
	if err != nil {
		return err
	}

	for _, output := range outputs {
		output.Status = jobs.StatusNotStarted
		output.Progress = 0
		output.TaskID = ""
		output.ErrorMessage = ""
		output.StartTime = nil
		output.EndTime = nil
		if err := m.Store.UpdateOutput(ctx, output); err != nil {
			return err
		}
	}

	job.Status = jobs.StatusNotStarted
	job.Progress = 0
	job.StartTime = nil
	job.EndTime = nil
	if err := m.Store.UpdateJob(ctx, job); err != nil {
		return err
	}

	if err := m.enqueueOutputs(ctx, job, outputs); err != nil {
		return err
	}
	job.Status = jobs.StatusQueued
	if err := m.Store.UpdateJob(ctx, job); err != nil {
		return err
	}
	log.Log(jobID.String(), "job restarted", "outputs", len(outputs))
	m.Webhooks.SendJobStatus(job, outputs)
	return nil
}
