//go:build linux

package childinit

import "golang.org/x/sys/unix"

// ioprioWhoProcess and ioprioClassBE mirror linux/ioprio.h; x/sys/unix does
// not expose ioprio_set, so the raw syscall numbers are used directly, the
// same approach runc takes for cgroup/namespace syscalls lacking wrappers.
const (
	ioprioWhoProcess = 1
	ioprioClassBE    = 2
	ioprioClassShift = 13
)

// tagLowPriorityIO sets the best-effort I/O class at the lowest priority
// level within it, the Linux analogue of Darwin's IOPOL_THROTTLE.
func tagLowPriorityIO() {
	prio := (ioprioClassBE << ioprioClassShift) | 7
	unix.Syscall(unix.SYS_IOPRIO_SET, uintptr(ioprioWhoProcess), 0, uintptr(prio))
}
