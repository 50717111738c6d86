//go:build unix && !linux

package childinit

// tagLowPriorityIO is a no-op on non-Linux unix targets; there is no
// portable equivalent to ioprio_set outside Linux in this stack.
func tagLowPriorityIO() {}
