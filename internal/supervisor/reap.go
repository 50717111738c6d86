//go:build unix

package supervisor

import (
	"io"
	"os"
	"syscall"
	"time"

	"github.com/coredaemon/taskd/internal/eventloop"
	"github.com/coredaemon/taskd/internal/execpipeline"
)

// exitReport is what waitAndPost hands back to the loop thread: either an
// exec failure observed on the error pipe, or a normal process exit.
type exitReport struct {
	execErr string
	state   *os.ProcessState
	waitErr error
}

// waitAndPost is the sole goroutine per running job: it blocks on the
// exec-error pipe (which reads EOF with no data once the child's exec
// succeeds, since the write end is close-on-exec) and then on Wait, and
// posts a single combined report to the loop thread. It never touches job
// state directly.
func waitAndPost(loop *eventloop.Loop, regID uint64, result *execpipeline.Result) {
	data, _ := io.ReadAll(result.ExecErrPipeRead)
	result.ExecErrPipeRead.Close()
	state, waitErr := result.Wait()
	loop.Post(regID, exitReport{execErr: string(data), state: state, waitErr: waitErr})
}

// onExit is the ExitFilter callback, always invoked on the loop thread.
func (s *Supervisor) onExit(ev eventloop.Event) {
	jobID, _ := ev.Opaque.(string)
	job, err := s.arena.Get(jobID)
	if err != nil || job == nil {
		return
	}
	report, _ := ev.Fired.(exitReport)
	s.handleExit(job, report)
}

// handleExit applies spec.md §4.3.3: one rusage update per exit, the
// exit-status latch, fast-crash throttling, the consecutive-failure
// counter (reset after a sufficiently long run), delivery to any peer
// synchronously waiting on this job's exit status, and finally
// re-dispatch.
func (s *Supervisor) handleExit(job *Job, report exitReport) {
	runDur := s.world.Now().Sub(job.StartedAt)
	job.Pid = 0
	job.LastRunDur = runDur
	job.HasEverExited = true

	switch {
	case report.execErr != "":
		job.LastExitOK = false
		job.LastExitStatus = -1
		s.log.Error("job failed to exec", "job", job.Label, "error", report.execErr)
	case report.state != nil:
		job.LastExitOK = report.state.Success()
		job.LastExitStatus = report.state.ExitCode()
		accumulateRusage(&job.Rusage, report.state)
	default:
		job.LastExitOK = false
		job.LastExitStatus = -1
		if report.waitErr != nil {
			s.log.Warn("wait failed", "job", job.Label, "error", report.waitErr)
		}
	}

	if job.PendingWaitReply != nil {
		select {
		case job.PendingWaitReply <- job.LastExitStatus:
		default:
		}
		close(job.PendingWaitReply)
		job.PendingWaitReply = nil
	}

	// A job whose program could not be exec'd is misconfigured: it is
	// removed rather than retried.
	if report.execErr != "" {
		s.removeJob(job)
		return
	}

	if runDur >= RewardRunSeconds {
		job.ConsecutiveFailedExits = 0
	}
	// Throttling only applies to jobs we keep alive ourselves; an on-demand
	// job exiting quickly after servicing its demand is not a crash loop.
	job.Throttled = runDur < MinRunSeconds && !job.Spec.EffectiveOnDemand()
	// The failed-exit counter tracks crash-looping independent of how long
	// the job ran; legacy registrations are exempt since their "exit" is
	// often just the registering process going away, not a failure.
	if !job.LastExitOK && !job.Legacy {
		job.ConsecutiveFailedExits++
	}

	s.redispatch(job)
}

// accumulateRusage folds one exit's resource usage into the job's running
// total (spec.md §3: "exactly one rusage update per exit").
func accumulateRusage(r *Rusage, state *os.ProcessState) {
	ru, ok := state.SysUsage().(*syscall.Rusage)
	if !ok {
		return
	}
	r.UserTime += time.Duration(ru.Utime.Nano())
	r.SystemTime += time.Duration(ru.Stime.Nano())
	if ru.Maxrss > r.MaxRSS {
		r.MaxRSS = ru.Maxrss
	}
}
