//go:build unix

package execpipeline

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sys/unix"

	"github.com/coredaemon/taskd/internal/jobspec"
)

// TrustedFDEnvVar is the environment variable the child's own library can
// read to find its end of the optional IPC socketpair (spec.md §4.3.4).
const TrustedFDEnvVar = "TASKD_TRUSTED_FD"

// Result is what Spawn hands back for the supervisor to track: the running
// process plus the fds it must watch on the event loop. Wait is a closure
// rather than an embedded *exec.Cmd so tests can construct a Result around
// a process started without the re-exec trampoline.
type Result struct {
	Process *os.Process
	Wait    func() (*os.ProcessState, error)

	// ExecErrPipeRead is the parent's end of the exec-error pipe. A
	// readable, non-empty read means the child failed before or during
	// exec and should be treated as an immediate, abnormal exit (spec.md
	// §4.3.4/§4.6). A read that returns EOF with no bytes means exec
	// succeeded (the write end closed on exec via CLOEXEC).
	ExecErrPipeRead *os.File

	// IPCConn is the parent's end of the optional IPC socketpair, non-nil
	// only for jobs with sockets or MachServices (spec.md §4.3.4). Absent
	// this, taskd has no rendezvous channel with the child beyond the
	// standard fds.
	IPCConn *os.File

	// barrierWrite is held until Release is called.
	barrierWrite *os.File
}

// Release unblocks the child past the start barrier. Until this is called
// the child sits blocked on its read end, letting the parent finish
// installing its exit watcher and exec-error-pipe registration first so no
// exit can be missed.
func (r *Result) Release() error {
	if r.barrierWrite == nil {
		return nil
	}
	_, err := r.barrierWrite.Write([]byte{0})
	r.barrierWrite.Close()
	r.barrierWrite = nil
	return err
}

// Spawner launches jobs via the re-exec-self trampoline.
type Spawner struct {
	log      hclog.Logger
	selfPath string
	worldEnv []string // ambient environment every job inherits before overrides

	// peerEnv, when set, supplies the peer-contributed environment layer
	// (spec.md §3/§4.3.4): every other job's published UserEnvironmentVariables,
	// merged in ahead of this job's own. Set via SetPeerEnv once the
	// supervisor exists; nil until then (construction order in
	// cmd/taskd/main.go requires the Spawner to exist before the
	// Supervisor that would otherwise supply this).
	peerEnv func() map[string]string
}

// NewSpawner constructs a Spawner. selfPath is the taskd binary's own path
// (os.Args[0] resolved via os.Executable by the caller), re-exec'd with
// ChildInitArg to run childinit.Run in the child.
func NewSpawner(log hclog.Logger, selfPath string, worldEnv []string) *Spawner {
	return &Spawner{log: log.Named("execpipeline"), selfPath: selfPath, worldEnv: worldEnv}
}

// SetPeerEnv wires the peer-contributed environment source in once it
// exists. Must be called before the first Spawn that should see peer
// contributions; safe to leave unset in tests that don't need it.
func (s *Spawner) SetPeerEnv(fn func() map[string]string) {
	s.peerEnv = fn
}

// Spawn builds a ChildConfig from spec, forks the trampoline, and returns
// once the child is running and blocked on the start barrier. The caller
// (internal/supervisor) must install its exit watcher (an ExitFilter
// registration plus a goroutine that reads ExecErrPipeRead and then waits
// on the process) and then call Release once that is in place.
func (s *Spawner) Spawn(spec *jobspec.Spec) (*Result, error) {
	cfg, err := s.buildConfig(spec)
	if err != nil {
		return nil, fmt.Errorf("build child config: %w", err)
	}

	barrierRead, barrierWrite, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("start barrier pipe: %w", err)
	}
	errRead, errWrite, err := os.Pipe()
	if err != nil {
		barrierRead.Close()
		barrierWrite.Close()
		return nil, fmt.Errorf("exec error pipe: %w", err)
	}

	// Inside the child, ExtraFiles land at fd 3, 4, ... in order.
	cfg.BarrierFD = 3
	cfg.ErrPipeFD = 4

	// A second, optional pair rendezvouses taskd with the child's own
	// library when the job owns sockets or MachServices (spec.md §4.3.4);
	// a plain program with neither gets no extra fd.
	var ipcParent, ipcChild *os.File
	if len(spec.Sockets) > 0 || len(spec.MachServices) > 0 {
		fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
		if err != nil {
			barrierRead.Close()
			barrierWrite.Close()
			errRead.Close()
			errWrite.Close()
			return nil, fmt.Errorf("ipc socketpair: %w", err)
		}
		ipcParent = os.NewFile(uintptr(fds[0]), "taskd-ipc-parent")
		ipcChild = os.NewFile(uintptr(fds[1]), "taskd-ipc-child")
		cfg.IPCFD = 5
		cfg.Env = append(cfg.Env, fmt.Sprintf("%s=%d", TrustedFDEnvVar, cfg.IPCFD))
	}

	payload, err := cfg.Marshal()
	if err != nil {
		barrierRead.Close()
		barrierWrite.Close()
		errRead.Close()
		errWrite.Close()
		if ipcParent != nil {
			ipcParent.Close()
			ipcChild.Close()
		}
		return nil, fmt.Errorf("marshal child config: %w", err)
	}

	cmd := exec.Command(s.selfPath, ChildInitArg)
	cmd.Env = append(os.Environ(), ChildInitEnvVar+"="+payload)
	cmd.ExtraFiles = []*os.File{barrierRead, errWrite}
	if ipcChild != nil {
		cmd.ExtraFiles = append(cmd.ExtraFiles, ipcChild)
	}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		barrierRead.Close()
		barrierWrite.Close()
		errRead.Close()
		errWrite.Close()
		if ipcParent != nil {
			ipcParent.Close()
			ipcChild.Close()
		}
		return nil, fmt.Errorf("start trampoline: %w", err)
	}

	// The child holds its own copies of barrierRead/errWrite/ipcChild
	// post-fork; the parent's copies of the child's read/write ends are
	// only needed to pass through exec, so close them here.
	barrierRead.Close()
	errWrite.Close()
	if ipcChild != nil {
		ipcChild.Close()
	}

	return &Result{
		Process:         cmd.Process,
		Wait:            cmd.Wait,
		ExecErrPipeRead: errRead,
		IPCConn:         ipcParent,
		barrierWrite:    barrierWrite,
	}, nil
}

func (s *Spawner) buildConfig(spec *jobspec.Spec) (*ChildConfig, error) {
	argv := spec.ProgramArguments
	program := spec.Program
	if program == "" {
		if len(argv) == 0 {
			return nil, fmt.Errorf("no program or arguments to exec")
		}
		program = argv[0]
	}
	if len(argv) == 0 {
		argv = []string{program}
	}
	resolved, err := exec.LookPath(program)
	if err == nil {
		program = resolved
	}

	cfg := &ChildConfig{
		Program:          program,
		Argv:             argv,
		WorkingDirectory: spec.WorkingDirectory,
		RootDirectory:    spec.RootDirectory,
		InitGroups:       spec.Flags.InitGroups,
		Umask:            spec.Umask,
		Nice:             spec.Nice,
		SessionCreate:    spec.Flags.SessionCreate,
		LowPriorityIO:    spec.Flags.LowPriorityIO,
		StallBeforeExec:  spec.Flags.WaitForDebugger || spec.Flags.StallBeforeExec,
		StdinPath:        spec.StandardInPath,
		StdoutPath:       spec.StandardOutPath,
		StderrPath:       spec.StandardErrorPath,
		Env:              mergeEnv(s.worldEnv, s.peerEnvSnapshot(), spec.EnvironmentVariables, spec.UserEnvironmentVariables),
	}

	if spec.UserName != "" {
		u, err := user.Lookup(spec.UserName)
		if err != nil {
			return nil, fmt.Errorf("lookup user %q: %w", spec.UserName, err)
		}
		uid, err := strconv.Atoi(u.Uid)
		if err != nil {
			return nil, err
		}
		cfg.UID = uid
		cfg.HasUID = true
		if spec.GroupName == "" {
			if gid, err := strconv.Atoi(u.Gid); err == nil {
				cfg.GID = gid
				cfg.HasGID = true
			}
		}
	}
	if spec.GroupName != "" {
		g, err := user.LookupGroup(spec.GroupName)
		if err != nil {
			return nil, fmt.Errorf("lookup group %q: %w", spec.GroupName, err)
		}
		gid, err := strconv.Atoi(g.Gid)
		if err != nil {
			return nil, err
		}
		cfg.GID = gid
		cfg.HasGID = true
	}

	for _, l := range spec.SoftLimits {
		res, ok := rlimitResource(l.Name)
		if !ok {
			continue
		}
		cfg.SoftLimits = append(cfg.SoftLimits, RlimitSpec{Resource: res, Soft: l.Soft, Hard: l.Hard})
	}
	for _, l := range spec.HardLimits {
		res, ok := rlimitResource(l.Name)
		if !ok {
			continue
		}
		cfg.HardLimits = append(cfg.HardLimits, RlimitSpec{Resource: res, Soft: l.Soft, Hard: l.Hard})
	}

	return cfg, nil
}

// peerEnvSnapshot returns the current peer-contributed environment, or nil
// before SetPeerEnv has been wired (e.g. in tests that build a Spawner
// directly).
func (s *Spawner) peerEnvSnapshot() map[string]string {
	if s.peerEnv == nil {
		return nil
	}
	return s.peerEnv()
}

// mergeEnv implements spec.md §4.3.4's environment composition order:
// ambient world environment first, then every other job's peer-contributed
// environment, then this job's own EnvironmentVariables, then
// per-invocation UserEnvironmentVariables overriding all three.
func mergeEnv(world []string, peer, job, user map[string]string) []string {
	merged := map[string]string{}
	for _, kv := range world {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				merged[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	for k, v := range peer {
		merged[k] = v
	}
	for k, v := range job {
		merged[k] = v
	}
	for k, v := range user {
		merged[k] = v
	}
	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}
