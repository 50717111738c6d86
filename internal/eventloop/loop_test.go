package eventloop

import (
	"testing"
	"time"
)

func TestTimerFiresAndStops(t *testing.T) {
	l := New(nil)
	go l.Run()
	defer l.Stop()

	fired := make(chan struct{}, 1)
	l.Register(TimerFilter, 10*time.Millisecond, func(Event) {
		fired <- struct{}{}
	}, nil)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestCancelPreventsLateFire(t *testing.T) {
	l := New(nil)
	go l.Run()
	defer l.Stop()

	fired := make(chan struct{}, 1)
	id := l.Register(TimerFilter, 50*time.Millisecond, func(Event) {
		fired <- struct{}{}
	}, nil)
	l.Cancel(id)

	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestSelfCancellingCallback(t *testing.T) {
	l := New(nil)
	go l.Run()
	defer l.Stop()

	var id uint64
	calls := make(chan struct{}, 1)
	id = l.Register(ReadFilter, nil, func(Event) {
		l.Cancel(id)
		calls <- struct{}{}
	}, nil)

	l.Post(id, nil)
	<-calls

	// Posting again after the callback cancelled itself must not re-dispatch.
	second := make(chan struct{}, 1)
	_ = second
	l.Post(id, nil)
	select {
	case <-calls:
		t.Fatal("cancelled registration fired twice")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestIntervalTimerReArmsAfterFire(t *testing.T) {
	l := New(nil)
	go l.Run()
	defer l.Stop()

	count := make(chan struct{}, 8)
	l.Register(TimerFilter, 5*time.Millisecond, func(Event) {
		select {
		case count <- struct{}{}:
		default:
		}
	}, nil)

	time.Sleep(40 * time.Millisecond)
	if len(count) < 2 {
		t.Fatalf("expected interval timer to fire multiple times, got %d", len(count))
	}
}
