package activation

import (
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/coredaemon/taskd/internal/eventloop"
	"github.com/coredaemon/taskd/internal/jobspec"
)

func newTestCalendar(field jobspec.CalendarField) *CalendarInterval {
	return NewCalendarInterval(hclog.NewNullLogger(), eventloop.New(nil), field)
}

// naiveNextFire scans minute-by-minute, the brute-force oracle the DESIGN
// NOTES ask cron emulation to be property-tested against.
func naiveNextFire(field jobspec.CalendarField, t time.Time) time.Time {
	cur := t.Truncate(time.Minute).Add(time.Minute)
	for i := 0; i < 6*366*24*60; i++ {
		if matches(field, cur) {
			return cur
		}
		cur = cur.Add(time.Minute)
	}
	panic("naiveNextFire: no match found within search horizon")
}

func matches(field jobspec.CalendarField, t time.Time) bool {
	if field.Minute >= 0 && t.Minute() != field.Minute {
		return false
	}
	if field.Hour >= 0 && t.Hour() != field.Hour {
		return false
	}
	if field.Month >= 0 && int(t.Month()) != field.Month {
		return false
	}
	mdayOK := field.Mday < 0 || t.Day() == field.Mday
	wdayOK := field.Weekday < 0 || int(t.Weekday()) == field.Weekday
	if field.Mday >= 0 && field.Weekday >= 0 {
		// standard cron OR rule: either restriction satisfies.
		return mdayOK || wdayOK
	}
	return mdayOK && wdayOK
}

func TestCalendarNextFireMonotonic(t *testing.T) {
	c := newTestCalendar(jobspec.CalendarField{Minute: 0, Hour: 3, Mday: -1, Weekday: -1, Month: -1})
	base := time.Date(2026, 3, 5, 2, 59, 30, 0, time.UTC)
	next := c.NextFire(base)
	if !next.After(base) {
		t.Fatalf("expected next fire after base, got %v <= %v", next, base)
	}
	want := time.Date(2026, 3, 5, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}

	again := c.NextFire(next)
	wantNext := time.Date(2026, 3, 6, 3, 0, 0, 0, time.UTC)
	if !again.Equal(wantNext) {
		t.Fatalf("expected next day's fire %v, got %v", wantNext, again)
	}
}

func TestCalendarMatchesNaiveScanner(t *testing.T) {
	cases := []jobspec.CalendarField{
		{Minute: 0, Hour: 3, Mday: -1, Weekday: -1, Month: -1},
		{Minute: 30, Hour: -1, Mday: 1, Weekday: -1, Month: -1},
		{Minute: 0, Hour: 9, Mday: 15, Weekday: 1, Month: -1}, // OR rule case
		{Minute: -1, Hour: -1, Mday: -1, Weekday: 5, Month: -1},
	}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, field := range cases {
		c := newTestCalendar(field)
		got := c.NextFire(base)
		want := naiveNextFire(field, base)
		if !got.Equal(want) {
			t.Errorf("field %+v: cronexpr gave %v, naive scanner gave %v", field, got, want)
		}
	}
}

func TestCalendarOrRuleIsMinimumOfBothSchedules(t *testing.T) {
	// spec.md §8 invariant 7: for both mday and weekday set, next fire is
	// the minimum of the mday-only and weekday-only schedules.
	field := jobspec.CalendarField{Minute: 0, Hour: 0, Mday: 20, Weekday: 3, Month: -1}
	mdayOnly := jobspec.CalendarField{Minute: 0, Hour: 0, Mday: 20, Weekday: -1, Month: -1}
	weekdayOnly := jobspec.CalendarField{Minute: 0, Hour: 0, Mday: -1, Weekday: 3, Month: -1}

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	both := newTestCalendar(field).NextFire(base)
	a := newTestCalendar(mdayOnly).NextFire(base)
	b := newTestCalendar(weekdayOnly).NextFire(base)

	min := a
	if b.Before(min) {
		min = b
	}
	if !both.Equal(min) {
		t.Fatalf("expected OR rule minimum %v, got %v", min, both)
	}
}
