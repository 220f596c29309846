// Package pipeline assembles and supervises the per-rendition node
// graph: transcoder, optional packagers fed through named pipes, the
// fan-out writer joining them, and the uploader mirroring results to the
// destination.
package pipeline

import (
	"fmt"
	"os"
	"sync"

	"github.com/sawmill-video/sawmill/clients"
	"github.com/sawmill-video/sawmill/config"
	"github.com/sawmill-video/sawmill/events"
	"github.com/sawmill-video/sawmill/executor"
	"github.com/sawmill-video/sawmill/ffmpeg"
	"github.com/sawmill-video/sawmill/jobs"
	"github.com/sawmill-video/sawmill/log"
	"github.com/sawmill-video/sawmill/packager"
)

// Controller owns every node of one rendition run. Symmetric lifecycle:
// Start builds and starts the graph, Stop tears it down and removes the
// pipe directory.
type Controller struct {
	root string

	mu         sync.Mutex
	started    bool
	stopped    bool
	tempDir    string
	nodes      []executor.Executor
	uploaders  []*clients.DirectoryUploader
	transcoder *ffmpeg.Transcoder
}

func NewController() *Controller {
	return &Controller{root: config.TranscodedRoot}
}

// packagingNeeded reports whether the rendition goes through the
// external packager. Plain HLS and MP4 come straight out of the
// transcoder; DASH, adaptive and FairPlay HLS need packaging.
func packagingNeeded(settings *jobs.Settings) bool {
	switch settings.Format {
	case jobs.FormatDASH, jobs.FormatAdaptive:
		return true
	case jobs.FormatHLS:
		return settings.Encryption != nil && settings.Encryption.Fairplay != nil
	}
	return false
}

// Start builds the node graph for the rendition and starts every node.
// progressCallback is invoked from the transcoder's log parser with each
// parsed percentage.
func (c *Controller) Start(settings *jobs.Settings, progressCallback func(int)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("controller already started")
	}
	c.started = true

	bus := events.NewBus()
	if progressCallback != nil {
		bus.Subscribe(events.TypeProgress, func(e events.Event) {
			progressCallback(e.Percentage)
		})
	}
	if err := c.buildNodes(settings, bus); err != nil {
		c.teardownLocked()
		return err
	}

	uploaders := append([]*clients.DirectoryUploader(nil), c.uploaders...)
	bus.Subscribe(events.TypeOutput, func(e events.Event) {
		if !e.TranscodeCompleted {
			return
		}
		for _, u := range uploaders {
			u.SetTranscodeCompleted()
		}
	})

	for _, node := range c.nodes {
		if err := node.Start(); err != nil {
			c.stopNodesLocked(executor.Errored)
			c.teardownLocked()
			return err
		}
	}
	return nil
}

func (c *Controller) buildNodes(settings *jobs.Settings, bus *events.Bus) error {
	localDir := ffmpeg.LocalDir(c.root, settings)

	if !packagingNeeded(settings) {
		c.addUploader(settings.ID, localDir, settings.Output.URL)
		return c.addTranscoder(settings, bus)
	}

	tempDir, err := os.MkdirTemp("", "sawmill-pipes-")
	if err != nil {
		return fmt.Errorf("failed to create pipe dir: %w", err)
	}
	c.tempDir = tempDir

	transcodePipe, err := createPipe(tempDir)
	if err != nil {
		return err
	}
	transcodeSettings := settings.Clone()
	transcodeSettings.Output.Pipe = transcodePipe

	wantHLS := settings.Format == jobs.FormatHLS || settings.Format == jobs.FormatAdaptive
	wantDASH := settings.Format == jobs.FormatDASH || settings.Format == jobs.FormatAdaptive

	if wantHLS && wantDASH {
		// Two packagers read the one transcode through the fanout.
		hlsPipe, err := createPipe(tempDir)
		if err != nil {
			return err
		}
		dashPipe, err := createPipe(tempDir)
		if err != nil {
			return err
		}
		c.nodes = append(c.nodes, NewFanout(settings.ID, transcodePipe, []string{hlsPipe, dashPipe}))
		if err := c.addPackager(settings, jobs.FormatHLS, hlsPipe, localDir); err != nil {
			return err
		}
		if err := c.addPackager(settings, jobs.FormatDASH, dashPipe, localDir); err != nil {
			return err
		}
	} else {
		format := jobs.FormatHLS
		if wantDASH {
			format = jobs.FormatDASH
		}
		if err := c.addPackager(settings, format, transcodePipe, localDir); err != nil {
			return err
		}
	}

	return c.addTranscoder(transcodeSettings, bus)
}

func (c *Controller) addTranscoder(settings *jobs.Settings, bus *events.Bus) error {
	transcoder, err := ffmpeg.NewTranscoder(c.root, settings, bus)
	if err != nil {
		return err
	}
	c.transcoder = transcoder
	c.nodes = append(c.nodes, transcoder)
	return nil
}

func (c *Controller) addPackager(settings *jobs.Settings, format jobs.Format, pipe, localDir string) error {
	suffix := "_" + string(format)
	packagerSettings := settings.Clone()
	packagerSettings.Format = format
	packagerSettings.Output.Pipe = pipe

	node, err := packager.NewPackager(packagerSettings, localDir+suffix)
	if err != nil {
		return err
	}
	c.nodes = append(c.nodes, node)
	c.addUploader(settings.ID, localDir+suffix, settings.Output.URL+suffix)
	return nil
}

func (c *Controller) addUploader(jobID, localDir, destination string) {
	uploader := clients.NewDirectoryUploader(jobID, localDir, destination)
	c.uploaders = append(c.uploaders, uploader)
	c.nodes = append(c.nodes, uploader.Node())
}

// Status is the max of the member node statuses: any Errored node
// dominates, and the transcoder exiting cleanly flips the aggregate to
// Finished even while uploads are still in flight. An empty (or
// stopped) controller reports Finished.
func (c *Controller) Status() executor.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	statuses := make([]executor.Status, 0, len(c.nodes))
	for _, node := range c.nodes {
		statuses = append(statuses, node.Status())
	}
	return executor.Max(statuses)
}

// IsCompleted reports whether every node has settled.
func (c *Controller) IsCompleted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, node := range c.nodes {
		if node.Status() == executor.Running {
			return false
		}
	}
	return true
}

// ErrorMessage surfaces the transcoder's failure detail, if it failed.
func (c *Controller) ErrorMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transcoder == nil {
		return ""
	}
	return c.transcoder.ErrorMessage()
}

// Stop captures the aggregate status first, then stops every node with
// it, so polite nodes only get their drain window when the run is
// ending cleanly. Stop returns once every node has settled, final
// uploader sweep included. Stopping an already-stopped controller is a
// no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true

	statuses := make([]executor.Status, 0, len(c.nodes))
	for _, node := range c.nodes {
		statuses = append(statuses, node.Status())
	}
	c.stopNodesLocked(executor.Max(statuses))
	c.teardownLocked()
}

func (c *Controller) stopNodesLocked(terminal executor.Status) {
	for _, node := range c.nodes {
		node.Stop(terminal)
	}
	c.nodes = nil
	c.uploaders = nil
}

func (c *Controller) teardownLocked() {
	if c.tempDir == "" {
		return
	}
	if err := os.RemoveAll(c.tempDir); err != nil {
		log.LogNoJobID("failed to remove pipe dir", "dir", c.tempDir, "err", err)
	}
	c.tempDir = ""
}
