// Package execpipeline implements taskd's fork/exec pipeline (spec.md
// §4.3.4): the exec-error pipe, the start barrier, the optional IPC
// socketpair, and the prescribed child-side configuration order. Because
// Go cannot run arbitrary code between fork and exec in the parent's own
// goroutine (the runtime forbids anything but a narrow set of syscalls
// post-fork-pre-exec), taskd re-execs itself as a tiny trampoline: the
// child process runs internal/execpipeline/childinit.Run before handing
// off to the real program via syscall.Exec, the same re-exec-self pattern
// container runtimes use for namespace/cgroup setup before the workload
// starts.
package execpipeline

import "encoding/json"

// ChildInitEnvVar carries the JSON-encoded ChildConfig to the re-exec'd
// trampoline process.
const ChildInitEnvVar = "TASKD_CHILD_INIT_CONFIG"

// ChildInitArg is argv[1] taskd's own binary recognizes as "run the child
// trampoline, not the normal supervisor main."
const ChildInitArg = "__taskd_child_init__"

// ChildConfig is everything childinit needs to apply the prescribed
// configuration order and then exec the real program.
type ChildConfig struct {
	Program          string
	Argv             []string
	WorkingDirectory string
	RootDirectory    string
	UID              int
	HasUID           bool
	GID              int
	HasGID           bool
	InitGroups       bool
	Umask            int
	Nice             int
	SessionCreate    bool
	LowPriorityIO    bool
	StallBeforeExec  bool

	SoftLimits []RlimitSpec
	HardLimits []RlimitSpec

	StdinPath  string
	StdoutPath string
	StderrPath string

	// Env is the fully merged environment the child execs with: world,
	// peer-contributed, the job's EnvironmentVariables, then its
	// UserEnvironmentVariables, each layer overriding the last (mergeEnv).
	Env []string

	// BarrierFD and ErrPipeFD are the trampoline's own fds for the start
	// barrier and exec-error pipe, passed via ExtraFiles indices encoded
	// here as fd numbers inside the child (3, 4, ... after re-exec).
	BarrierFD int
	ErrPipeFD int
	IPCFD     int // 0 if unused
}

func (c *ChildConfig) Marshal() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func UnmarshalChildConfig(s string) (*ChildConfig, error) {
	var c ChildConfig
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// RlimitSpec names a resource limit to apply in the child, soft/hard -1
// meaning "leave unset."
type RlimitSpec struct {
	Resource int
	Soft     int64
	Hard     int64
}
