package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"driftserver/config"
)

type steppedClock struct {
	now  time.Time
	step time.Duration
}

func (c *steppedClock) Now() time.Time {
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func TestCatchUpTimerBurstsWhenBehind(t *testing.T) {
	start := time.Unix(0, 0)
	now := start.Add(35 * time.Millisecond)
	timer := newCatchUpTimer(10*time.Millisecond, start, func() time.Time { return now })

	// Deadlines at 0, 10, 20 and 30ms have all passed and fire immediately.
	var late []bool
	for i := 0; i < 4; i++ {
		l, err := timer.Wait(context.Background())
		if err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
		late = append(late, l)
	}
	want := []bool{true, true, true, false}
	for i := range want {
		if late[i] != want[i] {
			t.Fatalf("wait %d: late=%v want %v", i, late[i], want[i])
		}
	}
	if !timer.next.Equal(start.Add(40 * time.Millisecond)) {
		t.Fatalf("unexpected next deadline %v", timer.next.Sub(start))
	}
}

func TestCatchUpTimerHonoursCancel(t *testing.T) {
	timer := newCatchUpTimer(time.Hour, time.Now().Add(time.Hour), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if _, err := timer.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSchedulerStepNumbersTicksFromZero(t *testing.T) {
	w := newTestWorld(t, config.DefaultLimits(), nil)
	s := NewScheduler(w, zaptest.NewLogger(t))
	if s.Period() != time.Second/60 {
		t.Fatalf("unexpected period %v", s.Period())
	}
	for want := uint64(0); want < 5; want++ {
		if res := s.Step(); res.Tick != want || res.Snapshot.Tick != want {
			t.Fatalf("step %d produced tick %d", want, res.Tick)
		}
	}
	if s.Next() != 5 || w.Metrics().TickCount != 5 {
		t.Fatalf("next=%d count=%d", s.Next(), w.Metrics().TickCount)
	}
}

func TestSchedulerRecordsOverrun(t *testing.T) {
	w := newTestWorld(t, config.DefaultLimits(), nil)
	s := NewScheduler(w, zaptest.NewLogger(t))
	clock := &steppedClock{now: time.Unix(0, 0), step: 50 * time.Millisecond}
	s.now = clock.Now

	s.Step()
	m := w.Metrics()
	if m.Overruns != 1 || m.MaxTickNs != int64(50*time.Millisecond) {
		t.Fatalf("overruns=%d max=%d", m.Overruns, m.MaxTickNs)
	}
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	limits := config.DefaultLimits()
	limits.TickRate = 200
	w := newTestWorld(t, limits, nil)
	s := NewScheduler(w, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for s.Next() < 3 {
		select {
		case <-deadline:
			cancel()
			t.Fatalf("scheduler made no progress")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("scheduler did not stop")
	}
	if latest := w.Latest(); latest == nil || latest.Tick+1 < 3 {
		t.Fatalf("expected published snapshots, got %+v", latest)
	}
}
