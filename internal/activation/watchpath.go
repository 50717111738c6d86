package activation

import (
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"

	"github.com/coredaemon/taskd/internal/eventloop"
)

// WatchPath is the activation source for a watched file or queue directory
// (spec.md §3/§4.2). Regular paths restart the job on any notification;
// queue directories restart only when the directory becomes non-empty.
//
// fsnotify runs its own OS-thread-backed reader goroutine and delivers
// events over a channel; that goroutine only ever forwards raw events into
// the event loop via Loop.Post, never touches job state itself, preserving
// the loop-thread-owns-everything invariant (spec.md §5).
type WatchPath struct {
	baseSource
	Path       string
	IsQueueDir bool

	loop          *eventloop.Loop
	watcher       *fsnotify.Watcher
	regID         uint64
	pendingReopen bool
	done          chan struct{}
}

func NewWatchPath(log hclog.Logger, loop *eventloop.Loop, path string, isQueueDir bool) *WatchPath {
	return &WatchPath{
		baseSource: baseSource{log: log.Named("watch-path").With("path", path)},
		Path:       path,
		IsQueueDir: isQueueDir,
		loop:       loop,
	}
}

func (w *WatchPath) Kind() Kind { return KindWatchPath }

// Arm opens path in a mode that does not prevent unlink and registers it
// for the union of vnode flags described by spec.md §4.2. A queue
// directory is scanned on arm; if already non-empty the job starts
// immediately.
func (w *WatchPath) Arm(job JobHandle) error {
	if w.watcher == nil || w.pendingReopen {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			w.log.Error("reopen failed, leaving source unarmed", "error", err)
			return err
		}
		if err := watcher.Add(w.Path); err != nil {
			w.log.Error("watch add failed, leaving source unarmed", "error", err)
			watcher.Close()
			return err
		}
		w.watcher = watcher
		w.pendingReopen = false
		w.done = make(chan struct{})

		w.regID = w.loop.Register(eventloop.VnodeFilter, w.Path, func(ev eventloop.Event) {
			w.onEvent(job, ev.Fired.(fsnotify.Event))
		}, job)

		go w.pump()
	}

	if w.IsQueueDir {
		if nonEmpty, _ := w.dirNonEmpty(); nonEmpty {
			job.Start()
		}
	}
	return nil
}

func (w *WatchPath) Disarm(job JobHandle) error {
	if w.watcher != nil {
		w.watcher.Close()
		<-w.done
		w.watcher = nil
	}
	w.loop.Cancel(w.regID)
	return nil
}

// pump is the only goroutine that reads fsnotify's channels; it never
// touches job or source state, only forwards to the loop.
func (w *WatchPath) pump() {
	defer close(w.done)
	watcher := w.watcher
	regID := w.regID
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.loop.Post(regID, ev)
		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// onEvent runs on the loop thread.
func (w *WatchPath) onEvent(job JobHandle, ev fsnotify.Event) {
	if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		// delete|rename|revoke: mark pending reopen; next arm reopens.
		w.pendingReopen = true
		if w.watcher != nil {
			w.watcher.Close()
		}
		return
	}
	if w.IsQueueDir {
		if nonEmpty, err := w.dirNonEmpty(); err == nil && nonEmpty {
			job.Start()
		}
		return
	}
	job.Start()
}

func (w *WatchPath) dirNonEmpty() (bool, error) {
	entries, err := os.ReadDir(w.Path)
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}
