package packager

import (
	"fmt"
	"os"

	"github.com/sawmill-video/sawmill/config"
	"github.com/sawmill-video/sawmill/executor"
	"github.com/sawmill-video/sawmill/jobs"
)

// Packager supervises one packager subprocess. Like the transcoder it is
// polite on stop: when the group finished cleanly the packager gets time
// to flush the final segments it read from the pipe.
type Packager struct {
	outputDir string
	proc      executor.PolitelyWait
}

func NewPackager(settings *jobs.Settings, outputDir string) (*Packager, error) {
	args, err := Command(settings, outputDir)
	if err != nil {
		return nil, err
	}
	return &Packager{
		outputDir: outputDir,
		proc:      executor.PolitelyWait{Subprocess: executor.NewSubprocess(settings.ID, "packager", config.PackagerBin, args)},
	}, nil
}

func (p *Packager) Start() error {
	if err := os.MkdirAll(p.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create packager dir %q: %w", p.outputDir, err)
	}
	return p.proc.Start()
}

func (p *Packager) Status() executor.Status {
	return p.proc.Status()
}

func (p *Packager) Stop(terminal executor.Status) {
	p.proc.Stop(terminal)
}
