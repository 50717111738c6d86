// Package activation implements taskd's activation sources: small objects
// attached to a job that can be armed (registered with the event loop,
// contributing to demand) or disarmed (unregistered while the job runs).
package activation

import "github.com/hashicorp/go-hclog"

// Kind enumerates the activation source variants (spec.md §2).
type Kind int

const (
	KindSocketGroup Kind = iota
	KindWatchPath
	KindCalendarInterval
	KindStartInterval
	KindMachService
)

func (k Kind) String() string {
	switch k {
	case KindSocketGroup:
		return "socket"
	case KindWatchPath:
		return "watch-path"
	case KindCalendarInterval:
		return "calendar-interval"
	case KindStartInterval:
		return "start-interval"
	case KindMachService:
		return "mach-service"
	default:
		return "unknown"
	}
}

// JobHandle is the minimal view of a Job an activation source needs: it can
// be told to start, and it has a label for logging. internal/supervisor.Job
// implements this.
type JobHandle interface {
	Start()
	Label() string
}

// Source is the shared contract every activation source implements
// (spec.md §4.2): arm wires it into the event loop, disarm removes it,
// onEvent is the loop callback (invoked internally, not by callers).
type Source interface {
	Kind() Kind
	Arm(job JobHandle) error
	Disarm(job JobHandle) error
}

// baseSource factors the logger every concrete source wants.
type baseSource struct {
	log hclog.Logger
}
