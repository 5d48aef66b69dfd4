package server

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// catchUpTimer fires at start + n*period. When the loop falls behind it fires
// immediately until it has caught up, so no tick is ever skipped.
type catchUpTimer struct {
	period time.Duration
	next   time.Time
	now    func() time.Time
}

func newCatchUpTimer(period time.Duration, start time.Time, now func() time.Time) *catchUpTimer {
	if now == nil {
		now = time.Now
	}
	return &catchUpTimer{period: period, next: start, now: now}
}

// Wait blocks until the next deadline. late reports whether the deadline had
// already passed by more than one period when Wait was called.
func (t *catchUpTimer) Wait(ctx context.Context) (late bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	d := t.next.Sub(t.now())
	if d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
	}
	late = -d >= t.period
	t.next = t.next.Add(t.period)
	return late, nil
}

// Scheduler drives the world at the configured tick rate.
type Scheduler struct {
	log      *zap.Logger
	world    *World
	metrics  *Metrics
	period   time.Duration
	tickRate uint64
	now      func() time.Time

	tick atomic.Uint64
}

// NewScheduler returns a scheduler for w. Tick numbers start at 0.
func NewScheduler(w *World, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	rate := w.Limits().TickRate
	if rate <= 0 {
		rate = 60
	}
	return &Scheduler{
		log:      log.Named("tick"),
		world:    w,
		metrics:  w.Metrics(),
		period:   time.Second / time.Duration(rate),
		tickRate: uint64(rate),
		now:      time.Now,
	}
}

// Period is the fixed tick interval.
func (s *Scheduler) Period() time.Duration { return s.period }

// Next returns the number the next tick will carry.
func (s *Scheduler) Next() uint64 { return s.tick.Load() }

// Run ticks until ctx is cancelled and returns ctx's error.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("tick loop started",
		zap.Uint64("rate_hz", s.tickRate),
		zap.Duration("period", s.period))
	timer := newCatchUpTimer(s.period, s.now(), s.now)
	for {
		late, err := timer.Wait(ctx)
		if err != nil {
			s.log.Info("tick loop stopped", zap.Uint64("ticks", s.tick.Load()), zap.Error(err))
			return err
		}
		if late {
			s.metrics.IncCatchUp()
		}
		s.Step()
	}
}

// Step executes one cycle immediately and records its timing.
func (s *Scheduler) Step() TickResult {
	tick := s.tick.Load()
	start := s.now()
	result := s.world.Tick(tick)
	elapsed := s.now().Sub(start)

	s.metrics.AddTick(elapsed.Nanoseconds())
	if elapsed > s.period {
		s.metrics.IncOverrun()
		s.log.Warn("tick overrun",
			zap.Uint64("tick", tick),
			zap.Float64("elapsed_ms", float64(elapsed)/float64(time.Millisecond)),
			zap.Float64("budget_ms", float64(s.period)/float64(time.Millisecond)))
	}
	if tick%s.tickRate == 0 {
		s.log.Debug("tick",
			zap.Uint64("tick", tick),
			zap.Int("players", result.Players),
			zap.Float64("tick_ms", float64(elapsed)/float64(time.Millisecond)))
	}
	s.tick.Add(1)
	return result
}
