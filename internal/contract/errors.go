// Package contract holds the interfaces and wire-stable types that
// describe taskd's external collaborators: the IPC transport that carries
// broker notifications, the job-file source that hands taskd already-parsed
// job trees, and per-connection inetd spawning. None of these are
// implemented in full here — only the contracts taskd's core depends on.
// There is no log-sink contract; logging goes through go-hclog directly.
package contract

import "fmt"

// BrokerError is a stable, wire-compatible numeric error code returned to
// broker callers. Values must never be renumbered.
type BrokerError int

const (
	ErrSuccess BrokerError = iota
	ErrNotPrivileged
	ErrServiceActive
	ErrUnknownService
	ErrBadCount
	ErrNoMemory
)

func (e BrokerError) Error() string {
	switch e {
	case ErrSuccess:
		return "success"
	case ErrNotPrivileged:
		return "not privileged"
	case ErrServiceActive:
		return "service name in use"
	case ErrUnknownService:
		return "unknown service"
	case ErrBadCount:
		return "request exceeds maximum batch size"
	case ErrNoMemory:
		return "no memory"
	default:
		return fmt.Sprintf("broker error %d", int(e))
	}
}

// InvalidInputError wraps a malformed submission: empty, reserved or
// numeric label, or any other payload defect rejected synchronously to the
// submitter. A duplicate label is reported separately, as
// internal/supervisor's LabelInUseError.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string { return "invalid input: " + e.Reason }

// TransientSystemFailure wraps a failed syscall (fork, open, port
// allocation) that the event loop logs and retries at the next event
// rather than propagating to a caller.
type TransientSystemFailure struct {
	Op  string
	Err error
}

func (e *TransientSystemFailure) Error() string { return "transient failure in " + e.Op + ": " + e.Err.Error() }
func (e *TransientSystemFailure) Unwrap() error { return e.Err }

// ChildLifecycleFailure wraps an exec failure or a fast-crash-loop
// threshold breach. Both result in job removal.
type ChildLifecycleFailure struct {
	Label  string
	Reason string
}

func (e *ChildLifecycleFailure) Error() string {
	return "job " + e.Label + " removed: " + e.Reason
}

// PeerFailure wraps a dead-name notification: a peer process crashed and
// every service/subset context rooted in it must be pruned.
type PeerFailure struct {
	Label string
}

func (e *PeerFailure) Error() string { return "peer failure for " + e.Label }

// InternalInvariant wraps a post-condition check that should never fail.
// It is logged and the supervisor continues; it must never abort taskd.
type InternalInvariant struct {
	Check string
}

func (e *InternalInvariant) Error() string { return "invariant violated: " + e.Check }
