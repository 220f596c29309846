package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type SawmillMetrics struct {
	JobsCreatedCount     prometheus.Counter
	JobsCompletedCount   *prometheus.CounterVec
	RenditionDurationSec *prometheus.SummaryVec
	QueueTaskDurationSec *prometheus.SummaryVec
	WebhookAttemptCount  *prometheus.CounterVec
	UploadedFileCount    prometheus.Counter
	UploadErrorCount     prometheus.Counter
	HTTPRequestsInFlight prometheus.Gauge
}

func NewMetrics() *SawmillMetrics {
	m := &SawmillMetrics{
		JobsCreatedCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sawmill_jobs_created_count",
			Help: "The total number of transcode jobs accepted by the API",
		}),
		JobsCompletedCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sawmill_jobs_completed_count",
			Help: "The total number of jobs that reached a terminal status, broken up by status",
		}, []string{"status"}),
		RenditionDurationSec: promauto.NewSummaryVec(prometheus.SummaryOpts{
			Name: "sawmill_rendition_duration_seconds",
			Help: "The time that a single rendition task takes to run, broken up by terminal status",
		}, []string{"status"}),
		QueueTaskDurationSec: promauto.NewSummaryVec(prometheus.SummaryOpts{
			Name: "sawmill_queue_task_duration_seconds",
			Help: "The wall time a queued task spends running, broken up by queue and outcome",
		}, []string{"queue", "status"}),
		WebhookAttemptCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sawmill_webhook_attempt_count",
			Help: "The total number of webhook delivery attempts, broken up by success",
		}, []string{"success"}),
		UploadedFileCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sawmill_uploaded_file_count",
			Help: "The total number of files mirrored to remote object storage",
		}),
		UploadErrorCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sawmill_upload_error_count",
			Help: "The total number of failed uploads (retried on the next sweep)",
		}),
		HTTPRequestsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sawmill_http_requests_in_flight",
			Help: "A gauge of how many HTTP requests the API is currently serving",
		}),
	}

	return m
}

var Metrics = NewMetrics()
