package supervisor

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/coredaemon/taskd/internal/activation"
	"github.com/coredaemon/taskd/internal/contract"
)

// buildSources constructs one activation.Source per entry in job.Spec's
// Sockets/WatchPaths/QueueDirectories/CalendarIntervals/StartInterval/
// MachServices (spec.md §3/§4.2). Sources are constructed unarmed; armJob
// arms every one once the job is in the arena.
func (s *Supervisor) buildSources(job *Job) []activation.Source {
	spec := job.Spec
	var sources []activation.Source

	for _, sock := range spec.Sockets {
		sources = append(sources, activation.NewSocketGroup(s.log, s.loop, sock.Name, sock.Descriptors, sock.InetdWait))
	}

	for _, path := range spec.WatchPaths {
		sources = append(sources, activation.NewWatchPath(s.log, s.loop, path, false))
	}
	for _, dir := range spec.QueueDirectories {
		sources = append(sources, activation.NewWatchPath(s.log, s.loop, dir, true))
	}

	for _, field := range spec.CalendarIntervals {
		sources = append(sources, activation.NewCalendarInterval(s.log, s.loop, field))
	}

	if spec.StartInterval > 0 {
		sources = append(sources, activation.NewStartInterval(s.log, s.loop, spec.StartInterval))
	}

	for _, ms := range spec.MachServices {
		ms := ms
		receiveRight := func() (contract.PortID, error) {
			if port, ok := s.broker.ServicePort(job.BootstrapContextID, ms.Name); ok {
				return port, nil
			}
			return s.broker.CreateService(job.BootstrapContextID, job.ID, ms.Name, ms.HideUntilCheckIn)
		}
		onInactive := func() {
			s.loop.Enqueue(func() { s.redispatch(job) })
		}
		sources = append(sources, activation.NewMachServiceSource(
			s.log, s.loop, s.notifier, s.messages, ms.Name, ms.ResetAtClose, receiveRight, onInactive,
		))
	}

	return sources
}

// armJob arms every source on job. Idempotent: a job already armed is left
// untouched. Must run on the loop thread.
func (s *Supervisor) armJob(job *Job) {
	if job.sourcesArmed {
		return
	}
	handle := jobHandle{job}
	for _, src := range job.Sources {
		if err := src.Arm(handle); err != nil {
			s.log.Warn("activation source failed to arm", "job", job.Label, "kind", src.Kind(), "error", err)
		}
	}
	job.sourcesArmed = true
	if len(job.Sources) > 0 {
		job.State = StateArmed
	}
}

// disarmJob disarms every source on job, continuing past individual
// failures and returning them fanned out into one error. Idempotent: a job
// already disarmed is left untouched. Must run on the loop thread.
func (s *Supervisor) disarmJob(job *Job) error {
	if !job.sourcesArmed {
		return nil
	}
	handle := jobHandle{job}
	var result *multierror.Error
	for _, src := range job.Sources {
		if err := src.Disarm(handle); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", src.Kind(), err))
		}
	}
	job.sourcesArmed = false
	return result.ErrorOrNil()
}
