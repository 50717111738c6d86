package activation

import (
	"github.com/hashicorp/go-hclog"

	"github.com/coredaemon/taskd/internal/contract"
	"github.com/coredaemon/taskd/internal/eventloop"
)

// MachServiceSource is the activation source for a named port (spec.md
// §3/§4.2). It obtains a receive right for the name through the broker
// (ReceiveRightFunc) and tracks IsActive. Message arrival starts the job;
// loss of the right (port-destroyed / dead-name) marks the service
// inactive and invokes OnInactive so dispatch can be re-evaluated.
type MachServiceSource struct {
	baseSource
	Name         string
	ResetOnClose bool
	IsActive     bool

	loop             *eventloop.Loop
	notifier         contract.Notifier
	messages         contract.MessageWaiter
	receiveRightFunc func() (contract.PortID, error)
	onInactive       func()

	port       contract.PortID
	msgRegID   uint64
	deadRegID  uint64
	cancelMsg  func()
	cancelDead func()
}

// NewMachServiceSource constructs a MachServiceSource. receiveRightFunc
// obtains (and, for reset-on-close services, re-creates) the receive
// right; onInactive is invoked on the loop thread when the right is lost.
func NewMachServiceSource(
	log hclog.Logger,
	loop *eventloop.Loop,
	notifier contract.Notifier,
	messages contract.MessageWaiter,
	name string,
	resetOnClose bool,
	receiveRightFunc func() (contract.PortID, error),
	onInactive func(),
) *MachServiceSource {
	return &MachServiceSource{
		baseSource:       baseSource{log: log.Named("mach-service").With("name", name)},
		Name:             name,
		ResetOnClose:     resetOnClose,
		loop:             loop,
		notifier:         notifier,
		messages:         messages,
		receiveRightFunc: receiveRightFunc,
		onInactive:       onInactive,
	}
}

func (m *MachServiceSource) Kind() Kind { return KindMachService }

func (m *MachServiceSource) Arm(job JobHandle) error {
	port, err := m.receiveRightFunc()
	if err != nil {
		m.log.Error("failed to obtain receive right", "error", err)
		return err
	}
	m.port = port
	m.IsActive = true

	msgCh, cancelMsg := m.messages.WatchMessage(port)
	m.cancelMsg = cancelMsg
	m.msgRegID = m.loop.Register(eventloop.PortFilter, port, func(eventloop.Event) {
		job.Start()
	}, job)
	go forwardClose(msgCh, func() { m.loop.Post(m.msgRegID, nil) })

	deadCh, cancelDead := m.notifier.WatchDeadName(port)
	m.cancelDead = cancelDead
	m.deadRegID = m.loop.Register(eventloop.PortFilter, port, func(eventloop.Event) {
		m.IsActive = false
		if m.onInactive != nil {
			m.onInactive()
		}
		if m.ResetOnClose {
			m.Arm(job)
		}
	}, job)
	go forwardClose(deadCh, func() { m.loop.Post(m.deadRegID, nil) })

	return nil
}

func (m *MachServiceSource) Disarm(job JobHandle) error {
	if m.cancelMsg != nil {
		m.cancelMsg()
	}
	if m.cancelDead != nil {
		m.cancelDead()
	}
	m.loop.Cancel(m.msgRegID)
	m.loop.Cancel(m.deadRegID)
	return nil
}

// forwardClose posts once when ch is closed (the Notifier/MessageWaiter
// contract's signal shape) or returns early if cancelled out from under it.
func forwardClose(ch <-chan struct{}, post func()) {
	_, ok := <-ch
	if !ok {
		post()
	}
}
