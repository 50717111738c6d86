// Package broker implements the service broker / bootstrap hierarchy
// (spec.md §4.4): a tree of naming contexts, each owned by a job, exporting
// named ports to peers, with dead-name / no-senders notifications driving
// reference-count collection.
package broker

import "github.com/coredaemon/taskd/internal/contract"

// Service is the MachService data entity (spec.md §3).
type Service struct {
	Name    string
	OwnerID string // owning job id
	Port    contract.PortID

	IsActive               bool
	ResetOnClose           bool
	HideUntilCheckIn       bool
	IsReceiveRightHeldByUs bool
	IsExceptionServer      bool
	IsKUNCServer           bool
}

// ServiceInfo is the snapshot shape returned by Info (spec.md §4.4).
type ServiceInfo struct {
	Name     string
	IsActive bool
}
