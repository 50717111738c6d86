//go:build unix

package activation

import (
	"golang.org/x/sys/unix"
)

// pollReadable blocks until fd becomes readable or stop is closed. It is
// the only goroutine-resident syscall in SocketGroup; it never touches job
// state, only wakes the loop via the caller-supplied post func.
func pollReadable(fd int, stop <-chan struct{}, post func()) {
	stopR, stopW, err := unix.Pipe2(unix.O_CLOEXEC)
	if err != nil {
		return
	}
	defer unix.Close(stopR)
	go func() {
		<-stop
		unix.Close(stopW)
	}()

	fds := []unix.PollFd{
		{Fd: int32(fd), Events: unix.POLLIN},
		{Fd: int32(stopR), Events: unix.POLLIN},
	}
	for {
		n, err := unix.Poll(fds, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		if n <= 0 {
			continue
		}
		if fds[1].Revents != 0 {
			return
		}
		if fds[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			post()
		}
	}
}
