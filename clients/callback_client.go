package clients

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/sawmill-video/sawmill/errors"
	"github.com/sawmill-video/sawmill/jobs"
	"github.com/sawmill-video/sawmill/log"
	"github.com/sawmill-video/sawmill/metrics"
)

// WebhookClient posts job status payloads to customer webhook URLs.
// Delivery is at-least-once: a burst of quick retries on each attempt,
// then a background exponential backoff loop if the endpoint stays down.
type WebhookClient struct {
	httpClient *retryablehttp.Client
	// backoffFor lets tests shrink the redelivery window
	backoffFor func() backoff.BackOff
}

func NewWebhookClient() *WebhookClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 2                          // Retry a maximum of this+1 times
	client.RetryWaitMin = 200 * time.Millisecond // Wait at least this long between retries
	client.RetryWaitMax = 1 * time.Second        // Wait at most this long between retries (exponential backoff)
	client.Logger = nil
	client.HTTPClient = &http.Client{
		Timeout: 5 * time.Second, // Give up on requests that take more than this long
	}

	return &WebhookClient{
		httpClient: client,
		backoffFor: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = 10 * time.Minute
			return bo
		},
	}
}

// SendJobStatus notifies the webhook URL of the job's current state.
// Callers aren't blocked on the customer's endpoint; delivery runs in the
// background. A job with no webhook URL is a no-op.
func (c *WebhookClient) SendJobStatus(job *jobs.Job, outputs []*jobs.Output) {
	if job.WebhookURL == "" {
		return
	}
	payload, err := json.Marshal(jobs.Serialize(job, outputs))
	if err != nil {
		log.LogError(job.ID.String(), "failed to marshal webhook payload", err)
		return
	}

	go func() {
		err := backoff.Retry(func() error {
			err := c.post(job.WebhookURL, payload)
			metrics.Metrics.WebhookAttemptCount.WithLabelValues(fmt.Sprintf("%t", err == nil)).Inc()
			// unretriable errors are backoff.Permanent, which ends the loop
			if err != nil && !errors.IsUnretriable(err) {
				log.LogError(job.ID.String(), "webhook delivery failed, will retry", err, "url", job.WebhookURL)
			}
			return err
		}, c.backoffFor())
		if err != nil {
			log.LogError(job.ID.String(), "webhook delivery abandoned", err, "url", job.WebhookURL)
		}
	}()
}

func (c *WebhookClient) post(url string, payload []byte) error {
	r, err := retryablehttp.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return errors.Unretriable(fmt.Errorf("failed to build webhook request for %q: %w", url, err))
	}
	r.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(r)
	if err != nil {
		return fmt.Errorf("failed to send webhook to %q: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("failed to send webhook to %q. HTTP Code: %d", url, resp.StatusCode)
	}
	return nil
}
