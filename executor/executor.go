// Package executor provides a uniform lifecycle for the things a rendition
// pipeline is made of: child processes (ffmpeg, packager) and background
// loops (uploader, log parser, fan-out writer).
package executor

// Status of a single executor. The numeric ordering matters: an aggregate
// over several executors takes the max, so Errored dominates everything
// and Finished dominates Running. One node exiting cleanly is the signal
// that the rest of the group can wind down.
type Status int

const (
	NotStarted Status = iota
	Running
	Finished
	Errored
)

func (s Status) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Finished:
		return "finished"
	case Errored:
		return "errored"
	}
	return "unknown"
}

// Executor is something with a start/stop lifecycle and an observable
// status. Stop receives the aggregate status of the group the executor
// belongs to, so implementations can decide between a graceful wait and
// a forced teardown.
type Executor interface {
	Start() error
	Stop(terminal Status)
	Status() Status
}

// Max aggregates a set of statuses the way a controller does: any Errored
// member dominates, and one Finished member is enough to report Finished
// even while others still run. An empty set aggregates to Finished.
func Max(statuses []Status) Status {
	if len(statuses) == 0 {
		return Finished
	}
	max := statuses[0]
	for _, s := range statuses[1:] {
		if s > max {
			max = s
		}
	}
	return max
}
