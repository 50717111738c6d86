package supervisor

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/coredaemon/taskd/internal/broker"
	"github.com/coredaemon/taskd/internal/broker/inproc"
	"github.com/coredaemon/taskd/internal/eventloop"
	"github.com/coredaemon/taskd/internal/execpipeline"
	"github.com/coredaemon/taskd/internal/jobspec"
)

// fakeSpawner starts argv[0] directly via os/exec, bypassing the re-exec
// trampoline entirely — enough to exercise dispatch/reap against a real
// process exit without depending on this test binary being taskd itself.
type fakeSpawner struct {
	spawned chan string
}

func (f *fakeSpawner) Spawn(spec *jobspec.Spec) (*execpipeline.Result, error) {
	argv := spec.ProgramArguments
	if len(argv) == 0 {
		argv = []string{spec.Program}
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	errRead, errWrite, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	errWrite.Close() // simulate "exec already succeeded": read end sees EOF immediately
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	if f.spawned != nil {
		f.spawned <- spec.Label
	}
	return &execpipeline.Result{
		Process:         cmd.Process,
		Wait:            cmd.Wait,
		ExecErrPipeRead: errRead,
	}, nil
}

func newTestSupervisor(t *testing.T, spawner Spawner) (*Supervisor, *eventloop.Loop) {
	t.Helper()
	log := hclog.NewNullLogger()
	loop := eventloop.New(log)
	brk := broker.New(log)
	world := NewWorld()
	table := inproc.NewTable()

	sup, err := New(log, loop, brk, world, spawner, table, table)
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	go loop.Run()
	t.Cleanup(loop.Stop)
	return sup, loop
}

func waitForState(t *testing.T, sup *Supervisor, label string, want State, timeout time.Duration) *Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		job, err := sup.Lookup(label)
		if err != nil {
			t.Fatalf("lookup: %v", err)
		}
		if job == nil {
			if want == StateDead {
				return nil
			}
		} else if job.State == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach state %s in time", label, want)
	return nil
}

func TestRunAtLoadOneShotIsRemovedAfterExit(t *testing.T) {
	sup, _ := newTestSupervisor(t, &fakeSpawner{})
	tree := map[string]any{
		"Label":            "com.example.oneshot",
		"Program":          "/bin/true",
		"ProgramArguments": []any{"/bin/true"},
		"RunAtLoad":        true,
	}
	if _, _, err := sup.Import(tree, broker.RootContextID); err != nil {
		t.Fatalf("import: %v", err)
	}

	waitForState(t, sup, "com.example.oneshot", StateDead, time.Second)
	job, _ := sup.Lookup("com.example.oneshot")
	if job != nil {
		t.Fatalf("expected one-shot job to be reaped from the arena, found %+v", job)
	}
}

func TestKeepAliveThrottlesFastExitAndStaysInArena(t *testing.T) {
	spawned := make(chan string, 8)
	sup, _ := newTestSupervisor(t, &fakeSpawner{spawned: spawned})
	tree := map[string]any{
		"Label":            "com.example.keepalive",
		"Program":          "/bin/true",
		"ProgramArguments": []any{"/bin/true"},
		"KeepAlive":        true,
	}
	if _, _, err := sup.Import(tree, broker.RootContextID); err != nil {
		t.Fatalf("import: %v", err)
	}

	select {
	case <-spawned:
	case <-time.After(time.Second):
		t.Fatal("expected the job to be started immediately on import")
	}

	// /bin/true exits well within MinRunSeconds, so the restart is
	// throttled rather than immediate; the job must still be present,
	// waiting out the throttle delay, not reaped as useless.
	job := waitForState(t, sup, "com.example.keepalive", StateThrottled, time.Second)
	if !job.Throttled {
		t.Fatal("expected job.Throttled to be set")
	}
}

func TestOnDemandSourceStartsJobAndReturnsToArmed(t *testing.T) {
	spawned := make(chan string, 8)
	sup, _ := newTestSupervisor(t, &fakeSpawner{spawned: spawned})
	tree := map[string]any{
		"Label":            "com.example.ondemand",
		"Program":          "/bin/true",
		"ProgramArguments": []any{"/bin/true"},
		"OnDemand":         true,
		"WatchPaths":       []any{os.TempDir()},
	}
	job, _, err := sup.Import(tree, broker.RootContextID)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if job.State != StateArmed {
		t.Fatalf("expected newly imported on-demand job to be armed, got %s", job.State)
	}

	job.Start()
	select {
	case <-spawned:
	case <-time.After(time.Second):
		t.Fatal("expected the activation-driven start to spawn the job")
	}
	waitForState(t, sup, "com.example.ondemand", StateArmed, time.Second)
}

func TestRemoveDisarmsAndDeletesInactiveJob(t *testing.T) {
	sup, _ := newTestSupervisor(t, &fakeSpawner{})
	tree := map[string]any{
		"Label":      "com.example.removable",
		"Program":    "/bin/true",
		"OnDemand":   true,
		"WatchPaths": []any{os.TempDir()},
	}
	if _, _, err := sup.Import(tree, broker.RootContextID); err != nil {
		t.Fatalf("import: %v", err)
	}

	if err := sup.Remove("com.example.removable"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	job, _ := sup.Lookup("com.example.removable")
	if job != nil {
		t.Fatalf("expected job removed from arena, found %+v", job)
	}
}

func TestDuplicateLabelRejected(t *testing.T) {
	sup, _ := newTestSupervisor(t, &fakeSpawner{})
	tree := map[string]any{"Label": "com.example.dup", "Program": "/bin/true", "OnDemand": true}
	if _, _, err := sup.Import(tree, broker.RootContextID); err != nil {
		t.Fatalf("first import: %v", err)
	}
	if _, _, err := sup.Import(tree, broker.RootContextID); err == nil {
		t.Fatal("expected duplicate label to be rejected")
	}
}
