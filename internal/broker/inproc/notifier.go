// Package inproc is the default Notifier/MessageWaiter implementation: an
// in-process, reference-counted table, suitable when every job and taskd
// itself live on one host with no need for a real message bus. It is also
// what internal/supervisor's tests run against.
package inproc

import (
	"context"
	"sync"

	"github.com/coredaemon/taskd/internal/contract"
)

type watch struct {
	ch     chan struct{}
	closed bool
}

// Table is a Notifier, MessageWaiter, and QueueInspector. The zero value is
// not usable; use NewTable.
type Table struct {
	mu        sync.Mutex
	deadName  map[contract.PortID][]*watch
	noSenders map[contract.PortID][]*watch
	messages  map[contract.PortID][]*watch
	queued    map[contract.PortID]int
}

func NewTable() *Table {
	return &Table{
		deadName:  make(map[contract.PortID][]*watch),
		noSenders: make(map[contract.PortID][]*watch),
		messages:  make(map[contract.PortID][]*watch),
		queued:    make(map[contract.PortID]int),
	}
}

func (t *Table) WatchDeadName(port contract.PortID) (<-chan struct{}, context.CancelFunc) {
	return t.watch(&t.deadName, port)
}

func (t *Table) WatchNoSenders(port contract.PortID) (<-chan struct{}, context.CancelFunc) {
	return t.watch(&t.noSenders, port)
}

func (t *Table) WatchMessage(port contract.PortID) (<-chan struct{}, context.CancelFunc) {
	t.mu.Lock()
	delete(t.queued, port)
	t.mu.Unlock()
	return t.watch(&t.messages, port)
}

// HasQueuedMessages implements contract.QueueInspector: true once FireMessage
// has signalled port and nothing has re-armed a watch on it since (the
// watcher is assumed to drain the queue before calling WatchMessage again).
func (t *Table) HasQueuedMessages(port contract.PortID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queued[port] > 0
}

func (t *Table) watch(table *map[contract.PortID][]*watch, port contract.PortID) (<-chan struct{}, context.CancelFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := &watch{ch: make(chan struct{})}
	(*table)[port] = append((*table)[port], w)
	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		ws := (*table)[port]
		for i, cand := range ws {
			if cand == w {
				(*table)[port] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
	}
	return w.ch, cancel
}

// FireDeadName closes every live dead-name watch on port, simulating a
// peer crash.
func (t *Table) FireDeadName(port contract.PortID) { t.fire(&t.deadName, port) }

// FireNoSenders closes every live no-senders watch on port.
func (t *Table) FireNoSenders(port contract.PortID) { t.fire(&t.noSenders, port) }

// FireMessage closes every live message watch on port, simulating a
// message arrival (the watcher re-arms by calling WatchMessage again), and
// marks port as holding a queued message until that re-arm happens.
func (t *Table) FireMessage(port contract.PortID) {
	t.mu.Lock()
	t.queued[port]++
	t.mu.Unlock()
	t.fire(&t.messages, port)
}

func (t *Table) fire(table *map[contract.PortID][]*watch, port contract.PortID) {
	t.mu.Lock()
	ws := (*table)[port]
	delete(*table, port)
	t.mu.Unlock()
	for _, w := range ws {
		if !w.closed {
			w.closed = true
			close(w.ch)
		}
	}
}
