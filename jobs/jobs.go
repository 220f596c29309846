// Package jobs holds the transcoding job data model: a Job with one
// Output per target rendition, plus the templates and settings blobs the
// pipeline is driven by.
package jobs

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusError      Status = "error"
)

func (s Status) Display() string {
	switch s {
	case StatusNotStarted:
		return "Not Started"
	case StatusQueued:
		return "Queued"
	case StatusProcessing:
		return "Processing"
	case StatusCompleted:
		return "Completed"
	case StatusCancelled:
		return "Cancelled"
	case StatusError:
		return "Error"
	}
	return "Unknown"
}

// Terminal reports whether a job or output in this status is done for
// good. End timestamps are set exactly when a row becomes terminal.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusError
}

// Job is one transcoding request: a source video and a set of renditions
// to produce from it.
type Job struct {
	ID            uuid.UUID         `json:"id"`
	TemplateID    *uuid.UUID        `json:"template,omitempty"`
	Settings      *Settings         `json:"settings"`
	Progress      int               `json:"progress"`
	Status        Status            `json:"status"`
	InputURL      string            `json:"input_url"`
	OutputURL     string            `json:"output_url"`
	WebhookURL    string            `json:"webhook_url,omitempty"`
	EncryptionKey string            `json:"encryption_key,omitempty"`
	KeyURL        string            `json:"key_url,omitempty"`
	MetaData      map[string]string `json:"meta_data,omitempty"`
	StartTime     *time.Time        `json:"start_time,omitempty"`
	EndTime       *time.Time        `json:"end_time,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Queue returns the worker queue this job's renditions should be
// dispatched to, or the empty string when the job doesn't care.
func (j *Job) Queue() string {
	if j.MetaData == nil {
		return ""
	}
	return j.MetaData["queue"]
}

// Output is one target rendition of a Job. It is mutated only by the
// rendition runner that owns it.
type Output struct {
	ID           uuid.UUID  `json:"id"`
	JobID        uuid.UUID  `json:"job_id"`
	Name         string     `json:"name"`
	VideoCodec   string     `json:"video_codec"`
	VideoBitrate int        `json:"video_bitrate"`
	VideoPreset  string     `json:"video_preset"`
	AudioCodec   string     `json:"audio_codec"`
	AudioBitrate int        `json:"audio_bitrate"`
	Width        int        `json:"width"`
	Height       int        `json:"height"`
	Settings     *Settings  `json:"settings"`
	Status       Status     `json:"status"`
	Progress     int        `json:"progress"`
	TaskID       string     `json:"task_id,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func (o *Output) Resolution() string {
	return Resolution(o.Width, o.Height)
}

// JobTemplate is a named bundle of default settings merged into a job's
// settings at creation time. Read-only from the pipeline's perspective.
type JobTemplate struct {
	ID            uuid.UUID         `json:"id"`
	Name          string            `json:"name"`
	Format        Format            `json:"format"`
	SegmentLength int               `json:"segment_length,omitempty"`
	PlaylistType  PlaylistType      `json:"playlist_type,omitempty"`
	Outputs       []*OutputSettings `json:"outputs"`
	CreatedAt     time.Time         `json:"created_at"`
}

// TemplateSettings returns the template's preset bundle in settings-blob
// form, ready to be merged into a job.
func (t *JobTemplate) TemplateSettings() *Settings {
	s := &Settings{
		Format:        t.Format,
		SegmentLength: t.SegmentLength,
		PlaylistType:  t.PlaylistType,
	}
	for _, o := range t.Outputs {
		s.Outputs = append(s.Outputs, o.Clone())
	}
	return s
}

// MeanProgress is the job-level progress: the arithmetic mean of the
// outputs' progresses.
func MeanProgress(outputs []*Output) int {
	if len(outputs) == 0 {
		return 0
	}
	sum := 0
	for _, o := range outputs {
		sum += o.Progress
	}
	return sum / len(outputs)
}

// SerializedJob is the wire form of a job used for webhook payloads and
// API responses.
type SerializedJob struct {
	ID            string             `json:"id"`
	Status        Status             `json:"status"`
	StatusDisplay string             `json:"status_display"`
	Progress      int                `json:"progress"`
	Settings      *Settings          `json:"settings"`
	InputURL      string             `json:"input_url"`
	OutputURL     string             `json:"output_url"`
	StartTime     *time.Time         `json:"start_time,omitempty"`
	EndTime       *time.Time         `json:"end_time,omitempty"`
	Outputs       []SerializedOutput `json:"outputs,omitempty"`
}

type SerializedOutput struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Status       Status     `json:"status"`
	Progress     int        `json:"progress"`
	Resolution   string     `json:"resolution"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
}

func Serialize(job *Job, outputs []*Output) SerializedJob {
	s := SerializedJob{
		ID:            job.ID.String(),
		Status:        job.Status,
		StatusDisplay: job.Status.Display(),
		Progress:      job.Progress,
		Settings:      job.Settings,
		InputURL:      job.InputURL,
		OutputURL:     job.OutputURL,
		StartTime:     job.StartTime,
		EndTime:       job.EndTime,
	}
	for _, o := range outputs {
		s.Outputs = append(s.Outputs, SerializedOutput{
			ID:           o.ID.String(),
			Name:         o.Name,
			Status:       o.Status,
			Progress:     o.Progress,
			Resolution:   o.Resolution(),
			ErrorMessage: o.ErrorMessage,
			StartTime:    o.StartTime,
			EndTime:      o.EndTime,
		})
	}
	return s
}
