package activation

import (
	"io"
	"net"

	"github.com/hashicorp/go-hclog"

	"github.com/coredaemon/taskd/internal/contract"
)

// DefaultInetdSpawner implements the narrow, unambiguous slice of
// inetdCompatibility spec.md leaves as an external-collaborator contract
// (Open Question, SPEC_FULL §6.2): duplicating an accepted connection onto
// the child's stdio. Per-connection argv transformation remains genuinely
// external and is not attempted here.
type DefaultInetdSpawner struct {
	log   hclog.Logger
	spawn func(stdio io.ReadWriteCloser) error
}

func NewDefaultInetdSpawner(log hclog.Logger, spawn func(stdio io.ReadWriteCloser) error) *DefaultInetdSpawner {
	return &DefaultInetdSpawner{log: log.Named("inetd"), spawn: spawn}
}

func (d *DefaultInetdSpawner) SpawnConnection(conn io.ReadWriteCloser) error {
	return d.spawn(conn)
}

var _ contract.InetdSpawner = (*DefaultInetdSpawner)(nil)

// AcceptLoop accepts connections on ln until it is closed, handing each one
// to spawner on its own goroutine: the Wait:false (concurrent) inetd style.
// SocketGroup does not call it.
func AcceptLoop(log hclog.Logger, ln net.Listener, spawner contract.InetdSpawner) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Debug("inetd accept loop exiting", "error", err)
			return
		}
		go func() {
			if err := spawner.SpawnConnection(conn); err != nil {
				log.Error("inetd spawn failed", "error", err)
			}
		}()
	}
}
