package supervisor

import (
	"time"

	"github.com/hashicorp/go-set/v3"

	"github.com/coredaemon/taskd/internal/activation"
	"github.com/coredaemon/taskd/internal/contract"
	"github.com/coredaemon/taskd/internal/jobspec"
)

// State is the dispatch-policy state machine (spec.md §4.5).
type State int

const (
	StateIdle State = iota
	StateArmed
	StateRunning
	StateThrottled
	StateDead
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateRunning:
		return "running"
	case StateThrottled:
		return "throttled"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Rusage is the accumulated resource-usage snapshot (spec.md §3).
type Rusage struct {
	UserTime   time.Duration
	SystemTime time.Duration
	MaxRSS     int64
}

// Job is the unit of supervision (spec.md §3). It lives in the Arena,
// keyed by ID; ParentID/ChildIDs replace pointer cycles.
type Job struct {
	ID    string
	Label string
	Spec  *jobspec.Spec

	ParentID string
	ChildIDs *set.Set[string]
	Sources  []activation.Source

	Pid            int
	LastExitStatus int
	LastExitOK     bool
	StartedAt      time.Time
	LastRunDur     time.Duration
	Rusage         Rusage

	ConsecutiveFailedExits int
	Throttled              bool
	State                  State
	CheckedIn              bool
	HasEverStarted         bool
	HasEverExited          bool
	Legacy                 bool

	BootstrapContextID string // non-empty iff this job owns a sub-bootstrap
	RequestorPort      contract.PortID
	HasRequestorPort   bool
	PendingWaitReply   chan int // non-nil iff a peer awaits a synchronous wait reply

	// MarkedForRemoval is set by the mark phase of a remove while the job
	// is still active; the sweep (arena deletion) happens once the exit
	// reaper observes the process has actually exited.
	MarkedForRemoval bool

	// sourcesArmed guards armJob/disarmJob against double-arming or
	// double-disarming the same source set across repeated dispatch passes.
	sourcesArmed bool

	sup *Supervisor
}

// Start implements activation.JobHandle: activation sources call this when
// they observe demand. It is always routed through the supervisor so that
// job mutation stays on the loop thread.
func (j *Job) Start() {
	if j.sup == nil {
		return
	}
	j.sup.loop.Enqueue(func() {
		j.sup.startJob(j)
	})
}

// jobHandle adapts *Job to activation.JobHandle. A separate type is needed
// because JobHandle requires a Label() method while Job already has a
// Label field of the same name.
type jobHandle struct{ job *Job }

func (h jobHandle) Start()        { h.job.Start() }
func (h jobHandle) Label() string { return h.job.Label }

var _ activation.JobHandle = jobHandle{}

// newJob constructs a Job row from a decoded Spec. It builds no activation
// sources; Import builds them with buildSources and dispatch arms them.
func newJob(id string, spec *jobspec.Spec, parentID string) *Job {
	return &Job{
		ID:       id,
		Label:    spec.Label,
		Spec:     spec,
		ParentID: parentID,
		ChildIDs: set.New[string](0),
		Legacy:   spec.IsInetd || (spec.ServiceOnly() && len(spec.MachServices) > 0),
		// Only the checkin protocol's own source kinds (sockets, mach
		// services) ever fail to check in; jobs without them have nothing
		// to check in for, so they start out considered checked in.
		CheckedIn: len(spec.Sockets) == 0 && len(spec.MachServices) == 0,
	}
}

// Active reports spec.md §3 invariant 3: a job is active iff its child pid
// is nonzero, an inbound requestor port still has senders, or any of its
// services has a live peer or queued messages. The services check is
// supplied by the caller (from the broker) since Job itself does not hold
// service state directly; the requestor check is HasRequestorPort alone,
// with no count of remaining senders.
func (j *Job) Active(anyServiceLive bool) bool {
	if j.Pid != 0 {
		return true
	}
	if j.HasRequestorPort {
		return true
	}
	return anyServiceLive
}
