package supervisor

import (
	"os"

	"github.com/hashicorp/go-set/v3"

	"github.com/coredaemon/taskd/internal/contract"
	"github.com/coredaemon/taskd/internal/jobspec"
)

// hasQueuedMessages adapts s.messages to the shape broker.AnyServiceLive and
// the KeepAlivePredicate queued-messages check want: a plain predicate
// function. Not every MessageWaiter can answer the question (spec.md §4.3.2
// needs an optional capability here, not a required one), so a concrete
// type that does not implement contract.QueueInspector is treated as "no
// queued messages known" rather than an error.
func (s *Supervisor) hasQueuedMessages(port contract.PortID) bool {
	inspector, ok := s.messages.(contract.QueueInspector)
	if !ok {
		return false
	}
	return inspector.HasQueuedMessages(port)
}

// keepAlive implements spec.md §4.3.2: true if the job should be started
// (or kept running) even though nothing currently demands it through an
// activation source.
func (s *Supervisor) keepAlive(job *Job, visited map[string]bool) bool {
	if job.Spec.Flags.RunAtLoad && !job.HasEverStarted {
		return true
	}
	if !job.Spec.EffectiveOnDemand() {
		return true
	}
	for _, ms := range job.Spec.MachServices {
		port, ok := s.broker.ServicePort(job.BootstrapContextID, ms.Name)
		if ok && s.hasQueuedMessages(port) {
			return true
		}
	}
	return s.anyPredicateSatisfied(job, visited)
}

// anyPredicateSatisfied evaluates every KeepAlivePredicate on job. A
// path-existence predicate also re-dispatches every other job watching the
// same path, so one job's restart does not starve a sibling waiting on the
// inverse condition (spec.md §4.3.2).
func (s *Supervisor) anyPredicateSatisfied(job *Job, visited map[string]bool) bool {
	satisfied := false
	for _, p := range job.Spec.Predicates {
		if s.predicateSatisfied(job, p) {
			satisfied = true
		}
		if p.Kind == jobspec.PredicatePathExists || p.Kind == jobspec.PredicatePathMissing {
			s.redispatchPathSiblings(job, p.Path, visited)
		}
	}
	return satisfied
}

func (s *Supervisor) predicateSatisfied(job *Job, p jobspec.Predicate) bool {
	switch p.Kind {
	case jobspec.PredicateNetworkUp:
		return s.world.NetworkUp
	case jobspec.PredicateNetworkDown:
		return !s.world.NetworkUp
	case jobspec.PredicateSuccessfulExit:
		return job.HasEverExited && job.LastExitOK
	case jobspec.PredicateFailedExit:
		return job.HasEverExited && !job.LastExitOK
	case jobspec.PredicatePathExists:
		_, err := os.Stat(p.Path)
		return err == nil
	case jobspec.PredicatePathMissing:
		_, err := os.Stat(p.Path)
		return err != nil
	case jobspec.PredicateQueuedMessagesOn:
		port, ok := s.broker.ServicePort(job.BootstrapContextID, p.Service)
		return ok && s.hasQueuedMessages(port)
	default:
		return false
	}
}

// redispatchPathSiblings re-evaluates every other job registered against
// path, skipping ones already visited in this dispatch cascade to avoid two
// siblings re-triggering each other indefinitely.
func (s *Supervisor) redispatchPathSiblings(job *Job, path string, visited map[string]bool) {
	siblings, ok := s.pathSiblings[path]
	if !ok {
		return
	}
	for _, id := range siblings.Slice() {
		if id == job.ID || visited[id] {
			continue
		}
		sibling, err := s.arena.Get(id)
		if err != nil || sibling == nil {
			continue
		}
		s.redispatchVisited(sibling, visited)
	}
}

// registerPathPredicates records job against every path-existence predicate
// it declares, so a later evaluation of one such predicate on any job can
// find the others sharing that path. Must run on the loop thread.
func (s *Supervisor) registerPathPredicates(job *Job) {
	for _, p := range job.Spec.Predicates {
		if p.Kind != jobspec.PredicatePathExists && p.Kind != jobspec.PredicatePathMissing {
			continue
		}
		if s.pathSiblings == nil {
			s.pathSiblings = make(map[string]*set.Set[string])
		}
		siblings, ok := s.pathSiblings[p.Path]
		if !ok {
			siblings = set.New[string](0)
			s.pathSiblings[p.Path] = siblings
		}
		siblings.Insert(job.ID)
	}
}

// unregisterPathPredicates undoes registerPathPredicates on job removal.
// Must run on the loop thread.
func (s *Supervisor) unregisterPathPredicates(job *Job) {
	for _, p := range job.Spec.Predicates {
		if p.Kind != jobspec.PredicatePathExists && p.Kind != jobspec.PredicatePathMissing {
			continue
		}
		siblings, ok := s.pathSiblings[p.Path]
		if !ok {
			continue
		}
		siblings.Remove(job.ID)
		if siblings.Size() == 0 {
			delete(s.pathSiblings, p.Path)
		}
	}
}
