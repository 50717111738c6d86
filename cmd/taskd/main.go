// Command taskd is the supervisor entrypoint: it constructs the event loop,
// the broker, and the job arena, imports any job files passed on the
// command line, and runs until SIGTERM/SIGINT. When re-exec'd as its own
// child trampoline (argv[1] == execpipeline.ChildInitArg) it instead runs
// childinit.Run and never reaches the normal startup path.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"

	"github.com/coredaemon/taskd/internal/broker"
	"github.com/coredaemon/taskd/internal/broker/inproc"
	"github.com/coredaemon/taskd/internal/eventloop"
	"github.com/coredaemon/taskd/internal/execpipeline"
	"github.com/coredaemon/taskd/internal/execpipeline/childinit"
	"github.com/coredaemon/taskd/internal/supervisor"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == execpipeline.ChildInitArg {
		childinit.Run()
		return
	}

	log := hclog.New(&hclog.LoggerOptions{
		Name:  "taskd",
		Level: hclog.LevelFromString(envOr("TASKD_LOG_LEVEL", "info")),
	})

	self, err := os.Executable()
	if err != nil {
		log.Error("failed to resolve own executable path", "error", err)
		os.Exit(1)
	}

	loop := eventloop.New(log)
	table := inproc.NewTable()
	brk := broker.New(log)
	world := supervisor.NewWorld()
	spawner := execpipeline.NewSpawner(log, self, os.Environ())

	sup, err := supervisor.New(log, loop, brk, world, spawner, table, table)
	if err != nil {
		log.Error("failed to construct supervisor", "error", err)
		os.Exit(1)
	}
	spawner.SetPeerEnv(sup.PeerEnvironment)

	go loop.Run()

	for _, path := range os.Args[1:] {
		tree, err := loadJobFile(path)
		if err != nil {
			log.Error("failed to load job file", "path", path, "error", err)
			continue
		}
		job, warnings, err := sup.Import(tree, broker.RootContextID)
		for _, w := range warnings {
			log.Warn(w.String(), "path", path)
		}
		if err != nil {
			log.Error("failed to import job", "path", path, "error", err)
			continue
		}
		log.Info("imported job", "label", job.Label)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh

	log.Info("shutting down")
	loop.Stop()
}

// loadJobFile reads a JSON-encoded job submission tree. The on-disk parser
// for the richer property-list formats a real deployment would accept is a
// non-goal; taskd only consumes the already-parsed map[string]any shape.
func loadJobFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return tree, nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
