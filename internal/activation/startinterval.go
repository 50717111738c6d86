package activation

import (
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/coredaemon/taskd/internal/eventloop"
)

// StartInterval is a periodic relative timer; on fire, starts the job
// (spec.md §3/§4.2).
type StartInterval struct {
	baseSource
	Period time.Duration

	loop  *eventloop.Loop
	regID uint64
}

func NewStartInterval(log hclog.Logger, loop *eventloop.Loop, period time.Duration) *StartInterval {
	return &StartInterval{
		baseSource: baseSource{log: log.Named("start-interval")},
		Period:     period,
		loop:       loop,
	}
}

func (s *StartInterval) Kind() Kind { return KindStartInterval }

func (s *StartInterval) Arm(job JobHandle) error {
	s.regID = s.loop.Register(eventloop.TimerFilter, s.Period, func(eventloop.Event) {
		job.Start()
	}, job)
	return nil
}

func (s *StartInterval) Disarm(job JobHandle) error {
	s.loop.Cancel(s.regID)
	return nil
}
