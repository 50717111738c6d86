package broker

import (
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
	uuid "github.com/hashicorp/go-uuid"

	"github.com/coredaemon/taskd/internal/contract"
)

// RootContextID names the context at the root of the tree.
const RootContextID = "root"

// Broker owns every Context in the tree and the monotonic port allocator
// standing in for the real capability-messaging primitive's port
// allocation (assumed to exist per spec.md's non-goals; taskd only needs
// stable, comparable identities for it).
type Broker struct {
	log hclog.Logger

	mu       sync.RWMutex
	contexts map[string]*Context
	nextPort uint64
}

func New(log hclog.Logger) *Broker {
	b := &Broker{
		log:      log.Named("broker"),
		contexts: make(map[string]*Context),
	}
	b.contexts[RootContextID] = newContext(RootContextID, "", "")
	return b
}

func (b *Broker) allocPort() contract.PortID {
	return contract.PortID(atomic.AddUint64(&b.nextPort, 1))
}

func (b *Broker) context(id string) (*Context, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.contexts[id]
	return c, ok
}

// CreateService reserves an inactive name in context, owned by ownerJobID.
// Spec.md §4.4: "reserves an inactive name and returns a receive-right
// equivalent; subsequent checkin transfers ownership semantics."
func (b *Broker) CreateService(contextID, ownerJobID, name string, hideUntilCheckIn bool) (contract.PortID, error) {
	c, ok := b.context(contextID)
	if !ok {
		return 0, contract.ErrUnknownService
	}
	if _, exists := c.localGet(name); exists {
		return 0, contract.ErrServiceActive
	}
	svc := &Service{
		Name:             name,
		OwnerID:          ownerJobID,
		Port:             b.allocPort(),
		IsActive:         false,
		HideUntilCheckIn: hideUntilCheckIn,
	}
	c.localPut(svc)
	return svc.Port, nil
}

// CheckIn succeeds iff callerJobID is the service's owning job; it
// transitions the service to active (spec.md §3 invariant 7: no longer
// hidden from look_up).
func (b *Broker) CheckIn(contextID, callerJobID, name string) (contract.PortID, error) {
	c, ok := b.context(contextID)
	if !ok {
		return 0, contract.ErrUnknownService
	}
	svc, exists := c.localGet(name)
	if !exists {
		return 0, contract.ErrUnknownService
	}
	if svc.OwnerID != callerJobID {
		return 0, contract.ErrNotPrivileged
	}
	updated := *svc
	updated.IsActive = true
	updated.HideUntilCheckIn = false
	updated.IsReceiveRightHeldByUs = true
	c.localPut(&updated)
	return updated.Port, nil
}

// Register is the legacy registration path: registering a zero port
// deletes the name, otherwise installs an externally-owned send right.
// Duplicate active names fail (spec.md §4.4).
func (b *Broker) Register(contextID, ownerJobID, name string, port contract.PortID) error {
	c, ok := b.context(contextID)
	if !ok {
		return contract.ErrUnknownService
	}
	if port == 0 {
		c.localDelete(name)
		return nil
	}
	if existing, exists := c.localGet(name); exists && existing.IsActive {
		return contract.ErrServiceActive
	}
	c.localPut(&Service{Name: name, OwnerID: ownerJobID, Port: port, IsActive: true})
	return nil
}

// LookUp resolves name locally; on miss, walks to the parent context.
// Hidden services are invisible until checkin (spec.md §4.4/§3 invariant 7).
func (b *Broker) LookUp(contextID, name string) (contract.PortID, bool) {
	for id := contextID; id != ""; {
		c, ok := b.context(id)
		if !ok {
			return 0, false
		}
		if svc, exists := c.localGet(name); exists && !svc.HideUntilCheckIn {
			return svc.Port, true
		}
		id = c.ParentID
	}
	return 0, false
}

// LookUpArray is the atomic-looking batch form: the result vector has the
// same length as names; misses become a zero port, and allKnown is false
// if any are missing. Requests over MaxLookup are rejected.
func (b *Broker) LookUpArray(contextID string, names []string, maxLookup int) ([]contract.PortID, bool, error) {
	if len(names) > maxLookup {
		return nil, false, contract.ErrBadCount
	}
	ports := make([]contract.PortID, len(names))
	allKnown := true
	for i, name := range names {
		port, ok := b.LookUp(contextID, name)
		ports[i] = port
		if !ok {
			allKnown = false
		}
	}
	return ports, allKnown, nil
}

// Subset creates a sub-context of parentContextID owned by the job
// anonymousJobID. It takes no requestor port: no dead-name watch is armed
// for the context, here or by its caller in internal/supervisor, and the
// context goes away only through RemoveContext.
func (b *Broker) Subset(parentContextID, anonymousJobID string) (*Context, error) {
	if _, ok := b.context(parentContextID); !ok {
		return nil, contract.ErrUnknownService
	}
	id, err := uuid.GenerateUUID()
	if err != nil {
		return nil, err
	}
	c := newContext(id, anonymousJobID, parentContextID)
	b.mu.Lock()
	b.contexts[id] = c
	b.mu.Unlock()
	return c, nil
}

// ServicePort returns the port bound to name in contextID regardless of its
// hide-until-checkin state, for callers (e.g. re-arming a reset-on-close
// MachService) that already know the name exists locally.
func (b *Broker) ServicePort(contextID, name string) (contract.PortID, bool) {
	c, ok := b.context(contextID)
	if !ok {
		return 0, false
	}
	svc, exists := c.localGet(name)
	if !exists {
		return 0, false
	}
	return svc.Port, true
}

// Info returns a stable-ordered snapshot of contextID's locally owned
// services.
func (b *Broker) Info(contextID string) ([]ServiceInfo, error) {
	c, ok := b.context(contextID)
	if !ok {
		return nil, contract.ErrUnknownService
	}
	svcs := c.snapshot()
	out := make([]ServiceInfo, len(svcs))
	for i, s := range svcs {
		out[i] = ServiceInfo{Name: s.Name, IsActive: s.IsActive}
	}
	return out, nil
}

// RemoveContext tears down contextID and every descendant context rooted
// in it (peer crash / explicit job removal), returning the names of every
// service that was dropped — used to satisfy S6 (subset collapse on peer
// death).
func (b *Broker) RemoveContext(contextID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var dropped []string
	var walk func(id string)
	walk = func(id string) {
		c, ok := b.contexts[id]
		if !ok {
			return
		}
		for _, svc := range c.snapshot() {
			dropped = append(dropped, svc.Name)
		}
		delete(b.contexts, id)
		for otherID, other := range b.contexts {
			if other.ParentID == id {
				walk(otherID)
			}
		}
	}
	walk(contextID)
	return dropped
}

// AnyServiceLive reports whether contextID owns any active service or any
// service with queued messages — spec.md §3 invariant 3 / §4.3.2.
func (b *Broker) AnyServiceLive(contextID string, hasQueuedMessages func(contract.PortID) bool) bool {
	c, ok := b.context(contextID)
	if !ok {
		return false
	}
	for _, svc := range c.snapshot() {
		if svc.IsActive {
			return true
		}
		if hasQueuedMessages != nil && hasQueuedMessages(svc.Port) {
			return true
		}
	}
	return false
}
