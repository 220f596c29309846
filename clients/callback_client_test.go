package clients

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sawmill-video/sawmill/jobs"
)

func webhookTestClient() *WebhookClient {
	c := NewWebhookClient()
	c.httpClient.RetryMax = 0
	c.backoffFor = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(10*time.Millisecond), 10)
	}
	return c
}

func TestWebhookDeliversSerializedJob(t *testing.T) {
	payloads := make(chan []byte, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		payloads <- body
	}))
	defer server.Close()

	job := &jobs.Job{ID: uuid.New(), Status: jobs.StatusCompleted, Progress: 100, WebhookURL: server.URL}
	outputs := []*jobs.Output{{ID: uuid.New(), Name: "720p", Width: 1280, Height: 720, Status: jobs.StatusCompleted}}

	webhookTestClient().SendJobStatus(job, outputs)

	select {
	case body := <-payloads:
		var got jobs.SerializedJob
		require.NoError(t, json.Unmarshal(body, &got))
		require.Equal(t, job.ID.String(), got.ID)
		require.Equal(t, jobs.StatusCompleted, got.Status)
		require.Equal(t, "Completed", got.StatusDisplay)
		require.Len(t, got.Outputs, 1)
		require.Equal(t, "1280x720", got.Outputs[0].Resolution)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook never delivered")
	}
}

func TestWebhookRedeliversUntilEndpointRecovers(t *testing.T) {
	var attempts int32
	delivered := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		close(delivered)
	}))
	defer server.Close()

	job := &jobs.Job{ID: uuid.New(), Status: jobs.StatusProcessing, WebhookURL: server.URL}
	webhookTestClient().SendJobStatus(job, nil)

	select {
	case <-delivered:
		require.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(3))
	case <-time.After(5 * time.Second):
		t.Fatal("webhook never redelivered after 5xx responses")
	}
}

func TestWebhookNoopWithoutURL(t *testing.T) {
	job := &jobs.Job{ID: uuid.New(), Status: jobs.StatusProcessing}
	webhookTestClient().SendJobStatus(job, nil)
}
