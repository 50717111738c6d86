//go:build unix

// Package childinit is the re-exec trampoline internal/execpipeline hands
// off to: it runs as the forked child, applies the prescribed
// configuration order (spec.md §4.3.4), blocks on the start barrier, and
// execs the real program. It never runs in the parent process.
package childinit

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/coredaemon/taskd/internal/execpipeline"
)

// Run is invoked from cmd/taskd/main.go when os.Args[1] ==
// execpipeline.ChildInitArg. It never returns on success (syscall.Exec
// replaces the process image); on failure it writes the error to the
// exec-error pipe and exits non-zero, per spec.md §4.3.4/§4.6.
func Run() {
	cfg, err := execpipeline.UnmarshalChildConfig(os.Getenv(execpipeline.ChildInitEnvVar))
	if err != nil {
		fmt.Fprintln(os.Stderr, "taskd childinit: bad config:", err)
		os.Exit(127)
	}

	if err := apply(cfg); err != nil {
		reportExecFailure(cfg.ErrPipeFD, err)
		os.Exit(127)
	}

	if err := waitBarrier(cfg); err != nil {
		reportExecFailure(cfg.ErrPipeFD, err)
		os.Exit(127)
	}

	// The exec-error pipe closes on a successful exec, so the parent reads
	// EOF; it stays open for reportExecFailure if exec fails.
	if cfg.ErrPipeFD != 0 {
		syscall.CloseOnExec(cfg.ErrPipeFD)
	}
	err = syscall.Exec(cfg.Program, cfg.Argv, cfg.Env)
	// syscall.Exec only returns on failure.
	reportExecFailure(cfg.ErrPipeFD, err)
	os.Exit(127)
}

// apply performs every step up to (but not including) the barrier wait and
// exec, in the exact order spec.md §4.3.4 prescribes.
func apply(cfg *execpipeline.ChildConfig) error {
	if cfg.Nice != 0 {
		if err := unix.Setpriority(unix.PRIO_PROCESS, 0, cfg.Nice); err != nil {
			return fmt.Errorf("setpriority: %w", err)
		}
	}

	for _, lim := range cfg.SoftLimits {
		if err := applyRlimit(lim); err != nil {
			return err
		}
	}
	for _, lim := range cfg.HardLimits {
		if err := applyRlimit(lim); err != nil {
			return err
		}
	}

	if cfg.SessionCreate {
		if _, err := unix.Setsid(); err != nil && err != unix.EPERM {
			return fmt.Errorf("session create: %w", err)
		}
	}

	if cfg.LowPriorityIO {
		tagLowPriorityIO()
	}

	if cfg.RootDirectory != "" {
		if err := unix.Chroot(cfg.RootDirectory); err != nil {
			return fmt.Errorf("chroot: %w", err)
		}
		if err := unix.Chdir("/"); err != nil {
			return fmt.Errorf("chdir after chroot: %w", err)
		}
	}

	if cfg.HasGID {
		if err := unix.Setgid(cfg.GID); err != nil {
			return fmt.Errorf("setgid: %w", err)
		}
	}

	if cfg.InitGroups && cfg.HasUID {
		if err := initGroups(cfg.UID, cfg.GID); err != nil {
			return fmt.Errorf("initgroups: %w", err)
		}
	}

	if cfg.HasUID {
		if err := unix.Setuid(cfg.UID); err != nil {
			return fmt.Errorf("setuid: %w", err)
		}
	}

	if cfg.WorkingDirectory != "" {
		if err := unix.Chdir(cfg.WorkingDirectory); err != nil {
			return fmt.Errorf("chdir: %w", err)
		}
	}

	unix.Umask(cfg.Umask)

	if err := redirectStdio(cfg); err != nil {
		return err
	}

	// cfg.IPCFD, when set, is left open across the eventual syscall.Exec:
	// redirectStdio only dup2s over fds 0/1/2, and the socketpair fd was
	// created without CLOEXEC, so it survives into the real program
	// unmodified for TASKD_TRUSTED_FD to find.

	if cfg.SessionCreate {
		// setsid already called above per the prescribed order; a second
		// call here would fail with EPERM since we are already a session
		// leader, so this step is a no-op when SessionCreate is set. The
		// standalone "setsid" step in spec.md §4.3.4 only matters when
		// SessionCreate was not already requested.
	} else {
		unix.Setsid()
	}

	return nil
}

func applyRlimit(lim execpipeline.RlimitSpec) error {
	if lim.Soft < 0 && lim.Hard < 0 {
		return nil
	}
	var rl unix.Rlimit
	if err := unix.Getrlimit(lim.Resource, &rl); err != nil {
		return fmt.Errorf("getrlimit(%d): %w", lim.Resource, err)
	}
	if lim.Soft >= 0 {
		rl.Cur = uint64(lim.Soft)
	}
	if lim.Hard >= 0 {
		rl.Max = uint64(lim.Hard)
	}
	if err := unix.Setrlimit(lim.Resource, &rl); err != nil {
		return fmt.Errorf("setrlimit(%d): %w", lim.Resource, err)
	}
	return nil
}

func initGroups(uid, gid int) error {
	u, err := user.LookupId(strconv.Itoa(uid))
	if err != nil {
		return err
	}
	groupIDs, err := u.GroupIds()
	if err != nil {
		return err
	}
	gids := make([]int, 0, len(groupIDs))
	for _, g := range groupIDs {
		n, err := strconv.Atoi(g)
		if err != nil {
			continue
		}
		gids = append(gids, n)
	}
	return unix.Setgroups(gids)
}

func redirectStdio(cfg *execpipeline.ChildConfig) error {
	redirect := func(path string, fd int, flags int) error {
		if path == "" {
			return nil
		}
		f, err := os.OpenFile(path, flags, 0o644)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		return unix.Dup2(int(f.Fd()), fd)
	}
	if err := redirect(cfg.StdinPath, 0, os.O_RDONLY); err != nil {
		return err
	}
	if err := redirect(cfg.StdoutPath, 1, os.O_WRONLY|os.O_CREATE|os.O_APPEND); err != nil {
		return err
	}
	if err := redirect(cfg.StderrPath, 2, os.O_WRONLY|os.O_CREATE|os.O_APPEND); err != nil {
		return err
	}
	return nil
}

// waitBarrier blocks until the parent releases the start barrier. The
// parent (internal/supervisor's startJob) releases it as soon as its exit
// watcher is registered, whether or not StallBeforeExec is set; there is no
// separate uncork call, so StallBeforeExec does not delay the exec.
func waitBarrier(cfg *execpipeline.ChildConfig) error {
	if cfg.BarrierFD == 0 {
		return nil
	}
	var buf [1]byte
	f := os.NewFile(uintptr(cfg.BarrierFD), "start-barrier")
	defer f.Close()
	_, err := f.Read(buf[:])
	return err
}

// reportExecFailure writes the error to the exec-error pipe so the parent
// can treat a readable, non-zero read as "exec failed, remove the job"
// (spec.md §4.3.4/§4.6).
func reportExecFailure(fd int, err error) {
	if fd == 0 || err == nil {
		return
	}
	f := os.NewFile(uintptr(fd), "exec-error-pipe")
	defer f.Close()
	fmt.Fprintln(f, err.Error())
}
