//go:build unix

package supervisor

import (
	"syscall"

	"github.com/coredaemon/taskd/internal/contract"
)

// Remove tears down the job labeled label: disarms its sources, collapses
// any bootstrap context it owns, and either deletes it immediately (if
// inactive) or marks it for removal once its running process exits
// (spec.md §9 DESIGN NOTES: two-phase mark/sweep replacing the original's
// pointer-cycle teardown).
func (s *Supervisor) Remove(label string) error {
	done := make(chan error, 1)
	s.loop.Enqueue(func() {
		job, err := s.arena.GetByLabel(label)
		if err != nil {
			done <- err
			return
		}
		if job == nil {
			done <- contract.ErrUnknownService
			return
		}
		s.removeJob(job)
		done <- nil
	})
	return <-done
}

// Stop sends SIGTERM to label's running process, if any, without removing
// the job from the arena — it may restart per its own dispatch policy.
func (s *Supervisor) Stop(label string) error {
	done := make(chan error, 1)
	s.loop.Enqueue(func() {
		job, err := s.arena.GetByLabel(label)
		if err != nil {
			done <- err
			return
		}
		if job == nil || job.Pid == 0 {
			done <- nil
			return
		}
		done <- syscall.Kill(-job.Pid, syscall.SIGTERM)
	})
	return <-done
}

// removeJob performs the mark phase: disarm sources and collapse the
// bootstrap context now (neither needs the process to have exited), but
// defer the arena delete (sweep) until the process is confirmed dead. Must
// run on the loop thread.
func (s *Supervisor) removeJob(job *Job) {
	if job.State == StateDead {
		return
	}
	if err := s.disarmJob(job); err != nil {
		s.log.Warn("one or more activation sources failed to disarm cleanly", "job", job.Label, "error", err)
	}
	s.unregisterPathPredicates(job)
	job.State = StateDead

	if job.BootstrapContextID != "" {
		dropped := s.broker.RemoveContext(job.BootstrapContextID)
		if len(dropped) > 0 {
			s.log.Info("bootstrap context collapsed", "job", job.Label, "services_dropped", len(dropped))
		}
	}

	if job.Pid != 0 {
		job.MarkedForRemoval = true
		syscall.Kill(-job.Pid, syscall.SIGTERM)
		return
	}

	s.finishRemoval(job)
}

// finishRemoval performs the sweep phase: the job is confirmed inactive, so
// its arena row can be physically deleted. Must run on the loop thread.
func (s *Supervisor) finishRemoval(job *Job) {
	if err := s.arena.Delete(job.ID); err != nil {
		s.log.Warn("failed to delete job from arena", "job", job.Label, "error", err)
	}
}
