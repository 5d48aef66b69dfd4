package server

import (
	"sync/atomic"

	"driftserver/anticheat"
)

// Metrics records the runtime counters of the simulation and its transport.
type Metrics struct {
	TickCount            int64 // ticks executed
	TotalTickNs          int64 // accumulated tick duration
	MaxTickNs            int64 // slowest tick seen
	Overruns             int64 // ticks longer than the fixed period
	CatchUpTicks         int64 // ticks fired late to recover schedule
	InputsAccepted       int64
	RejectedRate         int64
	RejectedVelocity     int64
	RejectedTeleport     int64
	RejectedPlausibility int64
	QueueDropped         int64 // inputs dropped because a player queue was full
	InputsShed           int64 // frames dropped by the connection flood limiter
	Kicks                int64
	BroadcastErrors      int64
	PlayersJoined        int64
	PlayersRemoved       int64
}

func (m *Metrics) IncAccepted() { atomic.AddInt64(&m.InputsAccepted, 1) }
func (m *Metrics) IncQueueDropped() { atomic.AddInt64(&m.QueueDropped, 1) }
func (m *Metrics) IncShed() { atomic.AddInt64(&m.InputsShed, 1) }
func (m *Metrics) IncKicks() { atomic.AddInt64(&m.Kicks, 1) }
func (m *Metrics) IncBroadcastError() { atomic.AddInt64(&m.BroadcastErrors, 1) }
func (m *Metrics) IncOverrun() { atomic.AddInt64(&m.Overruns, 1) }
func (m *Metrics) IncCatchUp() { atomic.AddInt64(&m.CatchUpTicks, 1) }
func (m *Metrics) IncJoined() { atomic.AddInt64(&m.PlayersJoined, 1) }
func (m *Metrics) AddRemoved(n int) { atomic.AddInt64(&m.PlayersRemoved, int64(n)) }

// IncRejected counts a rejection under the check that produced it.
func (m *Metrics) IncRejected(c anticheat.Check) {
	switch c {
	case anticheat.CheckRate:
		atomic.AddInt64(&m.RejectedRate, 1)
	case anticheat.CheckVelocity:
		atomic.AddInt64(&m.RejectedVelocity, 1)
	case anticheat.CheckTeleport:
		atomic.AddInt64(&m.RejectedTeleport, 1)
	case anticheat.CheckPlausibility:
		atomic.AddInt64(&m.RejectedPlausibility, 1)
	}
}

// AddTick records one tick of ns nanoseconds.
func (m *Metrics) AddTick(ns int64) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
	for {
		cur := atomic.LoadInt64(&m.MaxTickNs)
		if ns <= cur || atomic.CompareAndSwapInt64(&m.MaxTickNs, cur, ns) {
			return
		}
	}
}

// Snapshot returns a read-only copy for the HTTP endpoint.
func (m *Metrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":            tick,
		"avg_tick_ms":           avgMs,
		"max_tick_ms":           float64(atomic.LoadInt64(&m.MaxTickNs)) / 1e6,
		"overruns":              atomic.LoadInt64(&m.Overruns),
		"catch_up_ticks":        atomic.LoadInt64(&m.CatchUpTicks),
		"inputs_accepted":       atomic.LoadInt64(&m.InputsAccepted),
		"rejected_rate":         atomic.LoadInt64(&m.RejectedRate),
		"rejected_velocity":     atomic.LoadInt64(&m.RejectedVelocity),
		"rejected_teleport":     atomic.LoadInt64(&m.RejectedTeleport),
		"rejected_plausibility": atomic.LoadInt64(&m.RejectedPlausibility),
		"queue_dropped":         atomic.LoadInt64(&m.QueueDropped),
		"inputs_shed":           atomic.LoadInt64(&m.InputsShed),
		"kicks":                 atomic.LoadInt64(&m.Kicks),
		"broadcast_errors":      atomic.LoadInt64(&m.BroadcastErrors),
		"players_joined":        atomic.LoadInt64(&m.PlayersJoined),
		"players_removed":       atomic.LoadInt64(&m.PlayersRemoved),
	}
}
