package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sawmill-video/sawmill/clients"
	"github.com/sawmill-video/sawmill/config"
	"github.com/sawmill-video/sawmill/jobs"
	"github.com/sawmill-video/sawmill/video"
)

func testManager(store jobs.Store, q *fakeQueue) *JobManager {
	return &JobManager{
		Store:    store,
		Queue:    q,
		Webhooks: clients.NewWebhookClient(),
		Merger:   &fakeMerger{},
	}
}

func newJob() *jobs.Job {
	return &jobs.Job{
		ID:        uuid.New(),
		InputURL:  "/var/media/input/raw_video.mp4",
		OutputURL: "/var/media/out/video.m3u8",
		Settings: &jobs.Settings{
			Format: jobs.FormatHLS,
			Outputs: []*jobs.OutputSettings{
				{Name: "360p", Video: jobs.VideoSettings{Width: 640, Height: 360}},
				{Name: "720p", Video: jobs.VideoSettings{Width: 1280, Height: 720}},
			},
		},
	}
}

func TestStartJobEnqueuesOneTaskPerRendition(t *testing.T) {
	store := jobs.NewMemoryStore()
	q := &fakeQueue{}
	manager := testManager(store, q)

	job := newJob()
	require.NoError(t, manager.StartJob(context.Background(), job))

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusQueued, got.Status)
	require.Equal(t, "/var/media/out", got.Settings.Destination)
	require.Equal(t, "video.m3u8", got.Settings.FileName)

	outputs, err := store.ListOutputs(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, outputs, 2)
	for _, output := range outputs {
		require.Equal(t, jobs.StatusQueued, output.Status)
		require.NotEmpty(t, output.TaskID)
		require.Equal(t, "/var/media/out/"+output.Name, output.Settings.Output.URL)
	}

	require.Equal(t, []string{config.DefaultQueue, config.DefaultQueue}, q.enqueuedQueues())
}

func TestStartJobUsesTemplateSettings(t *testing.T) {
	store := jobs.NewMemoryStore()
	q := &fakeQueue{}
	manager := testManager(store, q)

	template := &jobs.JobTemplate{
		ID:            uuid.New(),
		Name:          "web-hls",
		Format:        jobs.FormatHLS,
		SegmentLength: 6,
		Outputs: []*jobs.OutputSettings{
			{Name: "480p", Video: jobs.VideoSettings{Width: 854, Height: 480}},
		},
	}
	require.NoError(t, store.CreateTemplate(context.Background(), template))

	job := newJob()
	job.Settings = nil
	job.TemplateID = &template.ID
	require.NoError(t, manager.StartJob(context.Background(), job))

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.FormatHLS, got.Settings.Format)
	require.Equal(t, 6, got.Settings.SegmentLength)

	outputs, err := store.ListOutputs(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	require.Equal(t, "480p", outputs[0].Name)
}

func TestStartJobRoutesToRequestedQueue(t *testing.T) {
	store := jobs.NewMemoryStore()
	q := &fakeQueue{}
	manager := testManager(store, q)

	job := newJob()
	job.MetaData = map[string]string{"queue": "gpu"}
	require.NoError(t, manager.StartJob(context.Background(), job))

	require.Equal(t, []string{"gpu", "gpu"}, q.enqueuedQueues())
}

type fakeProber struct {
	info video.InputVideo
	err  error
}

func (p fakeProber) ProbeFile(jobID, url string) (video.InputVideo, error) {
	return p.info, p.err
}

func TestStartJobRecordsSourceMetadata(t *testing.T) {
	store := jobs.NewMemoryStore()
	manager := testManager(store, &fakeQueue{})
	manager.Probe = fakeProber{info: video.InputVideo{Duration: 100.5, Width: 1920, Height: 1080, Codec: "h264"}}

	job := newJob()
	require.NoError(t, manager.StartJob(context.Background(), job))

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, "100.50", got.MetaData["source_duration"])
	require.Equal(t, "1920x1080", got.MetaData["source_resolution"])
	require.Equal(t, "h264", got.MetaData["source_codec"])
}

func TestStartJobSurvivesProbeFailure(t *testing.T) {
	store := jobs.NewMemoryStore()
	manager := testManager(store, &fakeQueue{})
	manager.Probe = fakeProber{err: fmt.Errorf("no video stream found")}

	job := newJob()
	require.NoError(t, manager.StartJob(context.Background(), job))

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusQueued, got.Status)
	require.Empty(t, got.MetaData["source_duration"])
}

func TestStartJobWithoutRenditionsFails(t *testing.T) {
	store := jobs.NewMemoryStore()
	manager := testManager(store, &fakeQueue{})

	job := newJob()
	job.Settings.Outputs = nil
	require.Error(t, manager.StartJob(context.Background(), job))
}

func TestStopJobCancelsQueuedOutputs(t *testing.T) {
	store := jobs.NewMemoryStore()
	q := &fakeQueue{}
	manager := testManager(store, q)

	job := newJob()
	require.NoError(t, manager.StartJob(context.Background(), job))
	outputs, err := store.ListOutputs(context.Background(), job.ID)
	require.NoError(t, err)

	require.NoError(t, manager.StopJob(context.Background(), job.ID))

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusCancelled, got.Status)
	require.NotNil(t, got.EndTime)

	for _, output := range outputs {
		gotOutput, err := store.GetOutput(context.Background(), output.ID)
		require.NoError(t, err)
		require.Equal(t, jobs.StatusCancelled, gotOutput.Status)
		require.Contains(t, q.revokedTasks(), output.TaskID)
	}
}

func TestStopJobLeavesCompletedJobAlone(t *testing.T) {
	store := jobs.NewMemoryStore()
	q := &fakeQueue{}
	manager := testManager(store, q)

	job := newJob()
	require.NoError(t, manager.StartJob(context.Background(), job))
	job.Status = jobs.StatusCompleted
	job.Progress = 100
	require.NoError(t, store.UpdateJob(context.Background(), job))

	require.NoError(t, manager.StopJob(context.Background(), job.ID))

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusCompleted, got.Status)
	require.Equal(t, 100, got.Progress)
	require.Empty(t, q.revokedTasks())
}

func TestStopJobDefersToRunningSibling(t *testing.T) {
	store := jobs.NewMemoryStore()
	q := &fakeQueue{}
	manager := testManager(store, q)

	job := newJob()
	require.NoError(t, manager.StartJob(context.Background(), job))
	outputs, err := store.ListOutputs(context.Background(), job.ID)
	require.NoError(t, err)

	// one rendition is mid-flight; its runner is the one that observes
	// the revocation and closes out the job
	outputs[0].Status = jobs.StatusProcessing
	require.NoError(t, store.UpdateOutput(context.Background(), outputs[0]))

	require.NoError(t, manager.StopJob(context.Background(), job.ID))

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotEqual(t, jobs.StatusCancelled, got.Status)

	gotOutput, err := store.GetOutput(context.Background(), outputs[1].ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusCancelled, gotOutput.Status)
	require.Contains(t, q.revokedTasks(), outputs[0].TaskID)
}

func TestRestartJobReenqueuesRenditions(t *testing.T) {
	store := jobs.NewMemoryStore()
	q := &fakeQueue{}
	manager := testManager(store, q)

	job := newJob()
	require.NoError(t, manager.StartJob(context.Background(), job))
	before, err := store.ListOutputs(context.Background(), job.ID)
	require.NoError(t, err)

	// simulate a failed run
	job.Status = jobs.StatusError
	job.Progress = 50
	require.NoError(t, store.UpdateJob(context.Background(), job))
	before[0].Status = jobs.StatusError
	before[0].ErrorMessage = "Error opening input file"
	before[0].Progress = 80
	require.NoError(t, store.UpdateOutput(context.Background(), before[0]))

	require.NoError(t, manager.RestartJob(context.Background(), job.ID))

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusQueued, got.Status)
	require.Equal(t, 0, got.Progress)
	require.Nil(t, got.EndTime)

	after, err := store.ListOutputs(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i, output := range after {
		require.Equal(t, before[i].ID, output.ID)
		require.Equal(t, jobs.StatusQueued, output.Status)
		require.Equal(t, 0, output.Progress)
		require.Empty(t, output.ErrorMessage)
		require.NotEmpty(t, output.TaskID)
		require.NotEqual(t, before[i].TaskID, output.TaskID)
	}

	// two renditions enqueued on create, two more on restart
	require.Len(t, q.enqueuedQueues(), 4)
}
