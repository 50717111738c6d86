package supervisor

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-set/v3"
	uuid "github.com/hashicorp/go-uuid"

	"github.com/coredaemon/taskd/internal/broker"
	"github.com/coredaemon/taskd/internal/contract"
	"github.com/coredaemon/taskd/internal/eventloop"
	"github.com/coredaemon/taskd/internal/execpipeline"
	"github.com/coredaemon/taskd/internal/jobspec"
)

// Spawner is the process-spawning collaborator a Supervisor depends on.
// *execpipeline.Spawner is the real implementation; tests substitute a
// fake that starts a trivial process directly, skipping the re-exec
// trampoline.
type Spawner interface {
	Spawn(spec *jobspec.Spec) (*execpipeline.Result, error)
}

// Supervisor wires the Arena, the event loop, the service broker, process
// spawning, and supervisor-wide World state together (spec.md §4.1/§4.3).
// Every exported mutating method is safe to call from any goroutine: it
// hands off to the loop thread internally. Job state itself is only ever
// touched from within loop callbacks.
type Supervisor struct {
	log hclog.Logger

	arena    *Arena
	loop     *eventloop.Loop
	broker   *broker.Broker
	world    *World
	spawner  Spawner
	notifier contract.Notifier
	messages contract.MessageWaiter

	// pathSiblings maps a watched path to the set of job IDs holding a
	// KeepAlivePredicate against it, so evaluating that predicate for one
	// job can re-dispatch every sibling sharing the path (spec.md §4.3.2).
	pathSiblings map[string]*set.Set[string]
}

// New constructs a Supervisor. notifier/messages back the MachServices
// activation source; a single internal/broker/inproc.Table satisfies both
// when no external transport is configured.
func New(log hclog.Logger, loop *eventloop.Loop, brk *broker.Broker, world *World, spawner Spawner, notifier contract.Notifier, messages contract.MessageWaiter) (*Supervisor, error) {
	arena, err := NewArena()
	if err != nil {
		return nil, err
	}
	return &Supervisor{
		log:      log.Named("supervisor"),
		arena:    arena,
		loop:     loop,
		broker:   brk,
		world:    world,
		spawner:  spawner,
		notifier: notifier,
		messages: messages,
	}, nil
}

// Import decodes tree into a Spec, constructs a Job, arms its activation
// sources, and inserts it into the arena — the external entrypoint for
// submitting new work (spec.md §4.3/§6). parentContextID is the bootstrap
// context the job is submitted into; RootContextID for a top-level job.
func (s *Supervisor) Import(tree map[string]any, parentContextID string) (*Job, []jobspec.Warning, error) {
	spec, warnings, err := jobspec.Decode(tree)
	if err != nil {
		return nil, warnings, err
	}

	if existing, _ := s.arena.GetByLabel(spec.Label); existing != nil {
		return nil, warnings, &LabelInUseError{Label: spec.Label}
	}

	id, err := uuid.GenerateUUID()
	if err != nil {
		return nil, warnings, fmt.Errorf("generate job id: %w", err)
	}

	job := newJob(id, spec, "")
	job.sup = s
	job.BootstrapContextID = parentContextID

	if len(spec.MachServices) > 0 && !job.Legacy {
		ctx, err := s.broker.Subset(parentContextID, job.ID)
		if err != nil {
			return nil, warnings, fmt.Errorf("create bootstrap context: %w", err)
		}
		job.BootstrapContextID = ctx.ID
	}

	job.Sources = s.buildSources(job)

	done := make(chan error, 1)
	s.loop.Enqueue(func() {
		if err := s.arena.Insert(job); err != nil {
			done <- err
			return
		}
		s.registerPathPredicates(job)
		s.dispatchOnImport(job)
		done <- nil
	})
	if err := <-done; err != nil {
		return nil, warnings, err
	}

	return job, warnings, nil
}

// Lookup resolves label to its Job, or nil.
func (s *Supervisor) Lookup(label string) (*Job, error) {
	return s.arena.GetByLabel(label)
}

// List returns every job currently in the arena.
func (s *Supervisor) List() ([]*Job, error) {
	return s.arena.All()
}

// PeerEnvironment aggregates every job's UserEnvironmentVariables into one
// map, for execpipeline.Spawner to splice into a child's environment ahead
// of its own private variables (spec.md §3: jobs may publish environment
// entries their peers pick up). Later jobs win on key collision; callers
// needing a stable order don't get one, matching the data model's "a bag of
// peer contributions" framing rather than an ordered list.
func (s *Supervisor) PeerEnvironment() map[string]string {
	jobs, err := s.arena.All()
	if err != nil {
		return nil
	}
	out := make(map[string]string)
	for _, job := range jobs {
		for k, v := range job.Spec.UserEnvironmentVariables {
			out[k] = v
		}
	}
	return out
}

// CheckIn completes the classic checkin protocol for a socket/MachService
// job (spec.md §4.3.1's checkedin disjunct): it forwards to the broker and,
// on success, marks the job as having checked in so it is never reaped for
// failing to.
func (s *Supervisor) CheckIn(contextID, callerJobID, name string) (contract.PortID, error) {
	type result struct {
		port contract.PortID
		err  error
	}
	done := make(chan result, 1)
	s.loop.Enqueue(func() {
		port, err := s.broker.CheckIn(contextID, callerJobID, name)
		if err == nil {
			if job, lookupErr := s.arena.Get(callerJobID); lookupErr == nil && job != nil {
				job.CheckedIn = true
			}
		}
		done <- result{port, err}
	})
	r := <-done
	return r.port, r.err
}
