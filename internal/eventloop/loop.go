// Package eventloop implements taskd's single-threaded dispatcher: one
// unified event queue over process-exit, descriptor-readable, vnode-change,
// timer, and named-port-message-ready sources. Exactly one callback runs
// per ready event, and a callback may cancel its own registration without
// the loop re-entering or losing track of in-flight events.
package eventloop

import (
	"container/heap"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Filter identifies the class of event a Registration is interested in.
type Filter int

const (
	ExitFilter Filter = iota
	ReadFilter
	VnodeFilter
	TimerFilter
	PortFilter
)

func (f Filter) String() string {
	switch f {
	case ExitFilter:
		return "exit"
	case ReadFilter:
		return "read"
	case VnodeFilter:
		return "vnode"
	case TimerFilter:
		return "timer"
	case PortFilter:
		return "port"
	default:
		return "unknown"
	}
}

// Event is what a registration's Callback receives when it fires.
type Event struct {
	ID     uint64
	Filter Filter
	Opaque any
	// Fired carries whatever the poster passed to Post (the supervisor's
	// exit report, an fsnotify.Event for a watched path, nil for readable
	// descriptors and ports); it is nil for a timer.
	Fired any
}

// Callback is invoked with the Event that fired. It runs to completion
// before the loop considers another event — no re-entrancy.
type Callback func(Event)

// registration is the loop's bookkeeping record for one armed interest.
type registration struct {
	id         uint64
	filter     Filter
	params     any
	callback   Callback
	opaque     any
	generation uint64 // bumped on cancel; late fires are ignored because the id leaves regs
	cancelled  bool

	// timer-only fields
	fireAt   time.Time
	interval time.Duration // zero for one-shot
	heapIdx  int
}

// Loop is the dispatcher. Callbacks run only on the goroutine that calls
// Run. Register/Cancel/Post may be called from other goroutines (the
// supervisor's per-job exit waiter and the activation sources' watcher
// goroutines post from their own goroutines); the registration table is
// guarded by a mutex and posted events reach Run through the events
// channel, so job state is still only ever touched by the loop thread.
type Loop struct {
	log hclog.Logger

	mu       sync.Mutex
	nextID   uint64
	regs     map[uint64]*registration
	timers   timerHeap
	commands chan func()
	events   chan Event
	stop     chan struct{}
	done     chan struct{}
}

// New constructs a Loop. Call Run to start dispatching; it blocks until
// Stop is called.
func New(log hclog.Logger) *Loop {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Loop{
		log:      log.Named("eventloop"),
		regs:     make(map[uint64]*registration),
		commands: make(chan func(), 64),
		events:   make(chan Event, 64),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Register arms a new interest record and returns its id, usable with
// Cancel. filter/params describe what triggers it; for TimerFilter, params
// must be a time.Time (one-shot) or a time.Duration (interval, first fire
// one interval from now).
func (l *Loop) Register(filter Filter, params any, cb Callback, opaque any) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	r := &registration{id: l.nextID, filter: filter, params: params, callback: cb, opaque: opaque}
	l.regs[r.id] = r

	if filter == TimerFilter {
		switch v := params.(type) {
		case time.Time:
			r.fireAt = v
		case time.Duration:
			r.interval = v
			r.fireAt = time.Now().Add(v)
		}
		heap.Push(&l.timers, r)
		// Wake a Run blocked on an older (or no) timer so it recomputes its
		// wait with this one included.
		select {
		case l.commands <- func() {}:
		default:
		}
	}

	return r.id
}

// Cancel unregisters id. Safe to call from within the registration's own
// callback (self-deletion) or after the registration already fired.
func (l *Loop) Cancel(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancelLocked(id)
}

func (l *Loop) cancelLocked(id uint64) {
	r, ok := l.regs[id]
	if !ok {
		return
	}
	r.cancelled = true
	r.generation++
	delete(l.regs, id)
}

// Post enqueues an externally observed event (e.g. a process exit reaped by
// a helper goroutine) for dispatch on the loop thread. The registration's
// id must still be live; stale posts against a cancelled registration are
// dropped silently.
func (l *Loop) Post(id uint64, fired any) {
	l.mu.Lock()
	r, ok := l.regs[id]
	l.mu.Unlock()
	if !ok || r.cancelled {
		return
	}
	select {
	case l.events <- Event{ID: id, Filter: r.filter, Opaque: r.opaque, Fired: fired}:
	case <-l.stop:
	}
}

// Run blocks, dispatching ready events one at a time, until Stop is called.
func (l *Loop) Run() {
	defer close(l.done)
	for {
		wait := l.nextTimerWait()
		var timerC <-chan time.Time
		var t *time.Timer
		if wait >= 0 {
			t = time.NewTimer(wait)
			timerC = t.C
		}

		select {
		case <-l.stop:
			if t != nil {
				t.Stop()
			}
			return
		case cmd := <-l.commands:
			if t != nil {
				t.Stop()
			}
			cmd()
		case ev := <-l.events:
			if t != nil {
				t.Stop()
			}
			l.dispatch(ev)
		case <-timerC:
			l.fireDueTimers()
		}
	}
}

// Enqueue schedules fn to run on the loop thread at the next opportunity.
// Safe to call from any goroutine; this is how code outside the loop
// (activation sources' JobHandle.Start implementations) gets work onto the
// single thread that owns job state.
func (l *Loop) Enqueue(fn func()) {
	select {
	case l.commands <- fn:
	case <-l.stop:
	}
}

// Stop halts Run and waits for it to return.
func (l *Loop) Stop() {
	close(l.stop)
	<-l.done
}

func (l *Loop) dispatch(ev Event) {
	l.mu.Lock()
	r, ok := l.regs[ev.ID]
	l.mu.Unlock()
	if !ok || r.cancelled {
		return
	}
	r.callback(ev)
}

// nextTimerWait returns how long until the earliest armed timer, or -1 if
// none are armed.
func (l *Loop) nextTimerWait() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.timers) == 0 {
		return -1
	}
	d := time.Until(l.timers[0].fireAt)
	if d < 0 {
		d = 0
	}
	return d
}

func (l *Loop) fireDueTimers() {
	now := time.Now()
	for {
		l.mu.Lock()
		if len(l.timers) == 0 || l.timers[0].fireAt.After(now) {
			l.mu.Unlock()
			return
		}
		r := heap.Pop(&l.timers).(*registration)
		if r.interval > 0 && !r.cancelled {
			r.fireAt = now.Add(r.interval)
			heap.Push(&l.timers, r)
		} else {
			delete(l.regs, r.id)
		}
		cancelled := r.cancelled
		cb := r.callback
		ev := Event{ID: r.id, Filter: TimerFilter, Opaque: r.opaque}
		l.mu.Unlock()

		if !cancelled {
			cb(ev)
		}
	}
}

// timerHeap orders registrations by fireAt; container/heap backed, in the
// same shape as a periodic-job dispatch heap.
type timerHeap []*registration

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].fireAt.Before(h[j].fireAt) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].heapIdx = i; h[j].heapIdx = j }
func (h *timerHeap) Push(x any) {
	r := x.(*registration)
	r.heapIdx = len(*h)
	*h = append(*h, r)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return r
}
