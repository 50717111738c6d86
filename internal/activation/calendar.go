package activation

import (
	"fmt"
	"time"

	"github.com/hashicorp/cronexpr"
	"github.com/hashicorp/go-hclog"

	"github.com/coredaemon/taskd/internal/eventloop"
	"github.com/coredaemon/taskd/internal/jobspec"
)

// CalendarInterval is the activation source computed from a partial
// {minute, hour, mday, weekday, month} descriptor, -1 meaning "any value"
// (spec.md §3/§4.2). Re-armed after each fire.
type CalendarInterval struct {
	baseSource
	Field jobspec.CalendarField

	loop  *eventloop.Loop
	regID uint64
	now   func() time.Time
}

func NewCalendarInterval(log hclog.Logger, loop *eventloop.Loop, field jobspec.CalendarField) *CalendarInterval {
	return &CalendarInterval{
		baseSource: baseSource{log: log.Named("calendar-interval")},
		Field:      field,
		loop:       loop,
		now:        time.Now,
	}
}

func (c *CalendarInterval) Kind() Kind { return KindCalendarInterval }

// Arm computes the next fire time and registers a one-shot absolute timer.
func (c *CalendarInterval) Arm(job JobHandle) error {
	next := c.NextFire(c.now())
	c.regID = c.loop.Register(eventloop.TimerFilter, next, func(eventloop.Event) {
		job.Start()
		c.Arm(job) // re-arm for the next occurrence
	}, job)
	return nil
}

func (c *CalendarInterval) Disarm(job JobHandle) error {
	c.loop.Cancel(c.regID)
	return nil
}

// cronField renders a single -1-means-any field to a cron wildcard, else
// its literal value.
func cronField(v int) string {
	if v < 0 {
		return "*"
	}
	return fmt.Sprintf("%d", v)
}

// cronExpression builds the five-field cron string cronexpr understands.
// cronexpr already implements the standard "OR" rule when both
// day-of-month and day-of-week are restricted (spec.md §8 invariant 7), so
// no bespoke OR logic is needed here.
func (c *CalendarInterval) cronExpression() string {
	return fmt.Sprintf("%s %s %s %s %s",
		cronField(c.Field.Minute),
		cronField(c.Field.Hour),
		cronField(c.Field.Mday),
		cronField(c.Field.Month),
		cronField(c.Field.Weekday),
	)
}

// NextFire returns the next fire time strictly after t (spec.md §8
// invariant 6: next_fire(ci, t) > t for all t).
func (c *CalendarInterval) NextFire(t time.Time) time.Time {
	expr, err := cronexpr.Parse(c.cronExpression())
	if err != nil {
		c.log.Error("invalid calendar interval, never firing", "error", err)
		return t.Add(100 * 365 * 24 * time.Hour)
	}
	return expr.Next(t)
}
