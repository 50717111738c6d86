//go:build unix

package activation

import (
	"os"

	sdactivation "github.com/coreos/go-systemd/v22/activation"
	"github.com/hashicorp/go-hclog"

	"github.com/coredaemon/taskd/internal/eventloop"
)

// SocketGroup is the activation source for a named group of descriptors
// (spec.md §3/§4.2). Passive descriptors (inetdStyle subgroups the job
// merely inherits without taskd restarting it on readability) are armed
// for bookkeeping only — no readability registration.
type SocketGroup struct {
	baseSource
	Name        string
	Descriptors []int
	Passive     bool

	loop  *eventloop.Loop
	regs  []uint64
	stops []chan struct{}
}

// NewSocketGroup constructs a SocketGroup. descriptors are fds taskd either
// opened on the job's behalf or inherited itself — see InheritedDescriptors
// for recognizing fds a parent process (systemd, or an outer taskd) handed
// to this process under socket-activation conventions.
func NewSocketGroup(log hclog.Logger, loop *eventloop.Loop, name string, descriptors []int, passive bool) *SocketGroup {
	return &SocketGroup{
		baseSource:  baseSource{log: log.Named("socket-group").With("name", name)},
		Name:        name,
		Descriptors: descriptors,
		Passive:     passive,
		loop:        loop,
	}
}

func (s *SocketGroup) Kind() Kind { return KindSocketGroup }

// Arm registers each non-passive descriptor for readability; on readable,
// the job is started (the descriptors themselves are handed to the child
// via inheritance, not re-read here).
func (s *SocketGroup) Arm(job JobHandle) error {
	if s.Passive {
		return nil
	}
	for _, fd := range s.Descriptors {
		fd := fd
		id := s.loop.Register(eventloop.ReadFilter, fd, func(eventloop.Event) {
			s.log.Debug("socket readable, starting job", "job", job.Label(), "fd", fd)
			job.Start()
		}, job)
		s.regs = append(s.regs, id)

		stop := make(chan struct{})
		s.stops = append(s.stops, stop)
		go pollReadable(fd, stop, func() { s.loop.Post(id, nil) })
	}
	return nil
}

func (s *SocketGroup) Disarm(job JobHandle) error {
	for _, stop := range s.stops {
		close(stop)
	}
	s.stops = nil
	for _, id := range s.regs {
		s.loop.Cancel(id)
	}
	s.regs = nil
	return nil
}

// InheritedDescriptors recognizes descriptors handed to this process under
// systemd-style socket activation (LISTEN_FDS/LISTEN_PID), letting a
// taskd-managed job itself be socket-activated by an outer supervisor. The
// returned slice is empty, never nil, when nothing was inherited.
func InheritedDescriptors(unsetEnv bool) []int {
	files := sdactivation.Files(unsetEnv)
	fds := make([]int, 0, len(files))
	for _, f := range files {
		fds = append(fds, int(f.Fd()))
	}
	return fds
}

// inheritedFromEnviron is a small seam kept separate from InheritedDescriptors
// so tests can exercise the "nothing inherited" path without touching
// process-wide environment state.
func inheritedFromEnviron() bool {
	_, ok := os.LookupEnv("LISTEN_FDS")
	return ok
}
