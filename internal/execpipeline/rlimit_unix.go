//go:build unix

package execpipeline

import "golang.org/x/sys/unix"

// rlimitResource maps jobspec's resource-limit names (spec.md §6's
// SoftResourceLimits/HardResourceLimits keys) onto unix.RLIMIT_* constants.
func rlimitResource(name string) (int, bool) {
	switch name {
	case "CPU":
		return unix.RLIMIT_CPU, true
	case "FileSize":
		return unix.RLIMIT_FSIZE, true
	case "Data":
		return unix.RLIMIT_DATA, true
	case "StackSize", "Stack":
		return unix.RLIMIT_STACK, true
	case "Core":
		return unix.RLIMIT_CORE, true
	case "ResidentSetSize":
		return unix.RLIMIT_RSS, true
	case "NumberOfFiles", "NumFiles":
		return unix.RLIMIT_NOFILE, true
	case "AddressSpace":
		return unix.RLIMIT_AS, true
	case "NumberOfProcesses":
		return unix.RLIMIT_NPROC, true
	case "MemoryLock":
		return unix.RLIMIT_MEMLOCK, true
	case "MsgQueue":
		return unix.RLIMIT_MSGQUEUE, true
	default:
		return 0, false
	}
}
