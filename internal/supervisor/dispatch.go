package supervisor

import "github.com/coredaemon/taskd/internal/eventloop"

// dispatchOnImport decides whether a freshly imported job should start
// immediately or wait armed on its activation sources (spec.md §4.3/§9 Open
// Question 1, resolved in jobspec.Spec.EffectiveOnDemand). A new job can
// never be useless, so this skips straight to the keepalive test rather
// than running the full post-exit dispatch. Must run on the loop thread.
func (s *Supervisor) dispatchOnImport(job *Job) {
	if job.Spec.ServiceOnly() {
		s.armJob(job)
		return
	}
	if s.keepAlive(job, make(map[string]bool)) {
		s.startJob(job)
		return
	}
	s.armJob(job)
}

// startJob spawns job's program, or is a no-op for service-only (legacy
// MachServices-only) jobs, which have nothing to exec. Must run on the loop
// thread.
func (s *Supervisor) startJob(job *Job) {
	if job.State == StateRunning || job.State == StateDead {
		return
	}
	if job.Spec.ServiceOnly() {
		return
	}

	// Once the child is running it owns any socket/mach-service demand
	// directly; stop watching for it ourselves until the child exits.
	if err := s.disarmJob(job); err != nil {
		s.log.Warn("one or more activation sources failed to disarm before spawn", "job", job.Label, "error", err)
	}

	result, err := s.spawner.Spawn(job.Spec)
	if err != nil {
		// Fork failure: the child never came into being, so this was not
		// an exit at all. Re-arm and leave the job where it was, with no
		// throttling penalty (spec.md §4.6).
		s.log.Error("failed to fork job", "job", job.Label, "error", err)
		s.armJob(job)
		return
	}

	regID := s.loop.Register(eventloop.ExitFilter, nil, s.onExit, job.ID)
	job.Pid = result.Process.Pid
	job.StartedAt = s.world.Now()
	job.State = StateRunning
	job.HasEverStarted = true

	go waitAndPost(s.loop, regID, result)

	if err := result.Release(); err != nil {
		s.log.Warn("failed to release start barrier", "job", job.Label, "error", err)
	}
}

// redispatch re-evaluates job's state after an exit or a predicate-changing
// event, per the dispatch policy state machine (spec.md §4.5).
func (s *Supervisor) redispatch(job *Job) {
	s.redispatchVisited(job, make(map[string]bool))
}

// redispatchVisited is redispatch with the set of jobs already visited in
// this cascade, so a path predicate shared between two jobs re-dispatches
// each other at most once instead of recursing forever.
func (s *Supervisor) redispatchVisited(job *Job, visited map[string]bool) {
	if visited[job.ID] {
		return
	}
	visited[job.ID] = true

	if job.MarkedForRemoval {
		if job.Pid == 0 {
			s.finishRemoval(job)
		}
		return
	}

	anyServiceLive := false
	if job.BootstrapContextID != "" {
		anyServiceLive = s.broker.AnyServiceLive(job.BootstrapContextID, s.hasQueuedMessages)
	}

	if job.Active(anyServiceLive) {
		return
	}

	if reason := uselessReason(job, s.world, anyServiceLive); reason != "" {
		s.log.Info("job has no further reason to exist, removing", "job", job.Label, "reason", reason)
		s.removeJob(job)
		return
	}

	if !job.Spec.ServiceOnly() && s.keepAlive(job, visited) {
		if job.Throttled {
			job.State = StateThrottled
			s.loop.Register(eventloop.TimerFilter, MinRunSeconds, func(eventloop.Event) {
				if !job.MarkedForRemoval {
					s.startJob(job)
				}
			}, job.ID)
			return
		}
		s.startJob(job)
		return
	}

	s.armJob(job)
}

// uselessReason reports spec.md §4.3.1's condition for reaping a job with no
// remaining reason to exist, or "" if job is still useful. Callers only
// reach here once job.Active is already known false.
func uselessReason(job *Job, world *World, anyServiceLive bool) string {
	switch {
	case job.Spec.Flags.UnloadAtExit && job.HasEverExited:
		return "unload_at_exit and the job has already run once"
	case world.ShuttingDown:
		return "system is shutting down"
	case job.ConsecutiveFailedExits >= FailedExitsThreshold:
		return "failed too many times in succession"
	case len(job.Sources) > 0 && !job.CheckedIn && job.HasEverExited:
		return "has activation sources but never checked in"
	case job.Legacy && !anyServiceLive:
		return "legacy registration with no remaining services"
	case !job.Spec.Flags.KeepAliveAlways && len(job.Spec.Predicates) == 0 && len(job.Sources) == 0 && job.HasEverExited:
		return "one-shot job has no activation source left that could ever restart it"
	default:
		return ""
	}
}
