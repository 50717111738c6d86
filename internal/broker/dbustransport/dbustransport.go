// Package dbustransport adapts the contract.Notifier interface onto a
// real D-Bus system bus connection, for the deployment mode where taskd
// brokers names across hosts/processes that rendezvous via D-Bus rather
// than purely in-process. Subscribing to NameOwnerChanged signals is the
// real-world analogue of dead-name (owner goes from non-empty to empty)
// and no-senders (the name is left without an owner) notification. The
// package does not call RequestName/ReleaseName itself; claiming and
// releasing bus names is up to the caller.
package dbustransport

import (
	"context"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/hashicorp/go-hclog"

	"github.com/coredaemon/taskd/internal/contract"
)

// Transport implements contract.Notifier on top of a *dbus.Conn. Port
// identities are D-Bus well-known bus names mapped to contract.PortID
// through the Transport's own registry (see PortForName), since a PortID
// must stay an opaque, comparable value across the broker.
type Transport struct {
	log  hclog.Logger
	conn *dbus.Conn

	mu    sync.Mutex
	names map[contract.PortID]string
	ports map[string]contract.PortID
	next  contract.PortID
}

// New wraps an established D-Bus connection. Callers typically get one
// from dbus.SystemBus() or dbus.SessionBus(); taskd never opens one itself
// at package-init time the way the teacher's systemd.go did, to keep this
// package testable without a live bus.
func New(log hclog.Logger, conn *dbus.Conn) *Transport {
	return &Transport{
		log:   log.Named("dbus-transport"),
		conn:  conn,
		names: make(map[contract.PortID]string),
		ports: make(map[string]contract.PortID),
	}
}

// PortForName returns the stable PortID standing in for busName, minting
// one on first use.
func (t *Transport) PortForName(busName string) contract.PortID {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.ports[busName]; ok {
		return p
	}
	t.next++
	t.names[t.next] = busName
	t.ports[busName] = t.next
	return t.next
}

func (t *Transport) nameFor(port contract.PortID) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	name, ok := t.names[port]
	return name, ok
}

// WatchDeadName subscribes to NameOwnerChanged for port's bus name and
// closes the returned channel the first time the name's owner transitions
// to empty (the peer crashed and released it).
func (t *Transport) WatchDeadName(port contract.PortID) (<-chan struct{}, context.CancelFunc) {
	return t.watchOwnerChange(port, func(oldOwner, newOwner string) bool {
		return oldOwner != "" && newOwner == ""
	})
}

// WatchNoSenders subscribes to NameOwnerChanged and closes the channel the
// first time a signal reports the name with an empty new owner, whoever
// owned it before — taskd's analogue of "no remaining holders of send
// rights."
func (t *Transport) WatchNoSenders(port contract.PortID) (<-chan struct{}, context.CancelFunc) {
	return t.watchOwnerChange(port, func(oldOwner, newOwner string) bool {
		return newOwner == ""
	})
}

func (t *Transport) watchOwnerChange(port contract.PortID, fires func(old, new string) bool) (<-chan struct{}, context.CancelFunc) {
	ch := make(chan struct{})
	name, ok := t.nameFor(port)
	if !ok || t.conn == nil {
		// No bus/name bound: never fires, but still cancellable.
		return ch, func() {}
	}

	rule := "type='signal',interface='org.freedesktop.DBus',member='NameOwnerChanged',arg0='" + name + "'"
	t.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule)

	sigCh := make(chan *dbus.Signal, 4)
	t.conn.Signal(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for {
			select {
			case <-ctx.Done():
				t.conn.RemoveSignal(sigCh)
				return
			case sig, ok := <-sigCh:
				if !ok {
					close(ch)
					return
				}
				if sig.Name != "org.freedesktop.DBus.NameOwnerChanged" || len(sig.Body) != 3 {
					continue
				}
				sigName, _ := sig.Body[0].(string)
				oldOwner, _ := sig.Body[1].(string)
				newOwner, _ := sig.Body[2].(string)
				if sigName != name {
					continue
				}
				if fires(oldOwner, newOwner) {
					t.conn.RemoveSignal(sigCh)
					close(ch)
					return
				}
			}
		}
	}()
	return ch, cancel
}

var _ contract.Notifier = (*Transport)(nil)
