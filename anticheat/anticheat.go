// Package anticheat decides whether a client input is plausible before the
// simulation is allowed to act on it.
package anticheat

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"driftserver/config"
	"driftserver/game"
)

const (
	// KickThreshold is the violation count at which a player is disconnected.
	KickThreshold = 10
	// MaxLookDelta bounds the magnitude of a single look delta.
	MaxLookDelta = 100.0

	rateWindow = time.Second
)

// Clock supplies wall-clock time to the input rate window.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Check identifies which rule produced a rejection.
type Check int

const (
	CheckNone Check = iota
	CheckRate
	CheckVelocity
	CheckTeleport
	CheckPlausibility
)

func (c Check) String() string {
	switch c {
	case CheckRate:
		return "rate"
	case CheckVelocity:
		return "velocity"
	case CheckTeleport:
		return "teleport"
	case CheckPlausibility:
		return "plausibility"
	default:
		return "none"
	}
}

// Result is either accepted or rejected with a diagnostic reason.
type Result struct {
	Check  Check
	Reason string
}

// Accepted reports whether the input passed every check.
func (r Result) Accepted() bool { return r.Check == CheckNone }

func accept() Result { return Result{} }

func reject(c Check, format string, args ...any) Result {
	return Result{Check: c, Reason: fmt.Sprintf(format, args...)}
}

// Validator applies the anti-cheat rules using the server limits.
type Validator struct {
	limits config.Limits
	clock  Clock
	log    *zap.Logger
}

// New builds a validator. A nil clock uses SystemClock and a nil logger
// discards output.
func New(limits config.Limits, clock Clock, log *zap.Logger) *Validator {
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Validator{limits: limits, clock: clock, log: log}
}

// Validate runs the rate, velocity, teleport and plausibility checks in that
// order; the first failure wins. The rate check updates the player's input
// window whatever the outcome.
func (v *Validator) Validate(p *game.Player, in game.Input) Result {
	if !v.limits.EnableAntiCheat {
		return accept()
	}
	if r := v.CheckRate(p); !r.Accepted() {
		return r
	}
	if r := v.CheckVelocity(p); !r.Accepted() {
		return r
	}
	if r := v.CheckTeleport(p); !r.Accepted() {
		return r
	}
	return v.CheckPlausibility(p, in)
}

// CheckRate counts inputs in a rolling one second window.
func (v *Validator) CheckRate(p *game.Player) Result {
	now := v.clock.Now()
	if p.WindowStart.IsZero() || now.Sub(p.WindowStart) >= rateWindow {
		p.WindowStart = now
		p.WindowCount = 1
		return accept()
	}
	p.WindowCount++
	if p.WindowCount > v.limits.InputRateLimit {
		v.log.Warn("input rate limit exceeded",
			zap.Stringer("player", p.ID()),
			zap.Int("count", p.WindowCount),
			zap.Int("limit", v.limits.InputRateLimit))
		return reject(CheckRate, "input rate limit exceeded: %d > %d", p.WindowCount, v.limits.InputRateLimit)
	}
	return accept()
}

// CheckVelocity rejects players moving faster than the velocity cap.
func (v *Validator) CheckVelocity(p *game.Player) Result {
	speed := p.Velocity.Len()
	if speed > v.limits.MaxVelocity {
		v.log.Warn("impossible velocity",
			zap.Stringer("player", p.ID()),
			zap.Float32("speed", speed),
			zap.Float32("max", v.limits.MaxVelocity))
		return reject(CheckVelocity, "velocity hack detected: %.2f m/s", speed)
	}
	return accept()
}

// CheckTeleport compares the current position with the last validated one.
// Players without a validated position are exempt.
func (v *Validator) CheckTeleport(p *game.Player) Result {
	if !p.HasValidatedPosition {
		return accept()
	}
	distance := p.Position.Sub(p.LastValidatedPosition).Len()
	perTick := v.limits.MaxVelocity / float32(v.limits.TickRate)
	if distance > v.limits.MaxTeleportDistance || distance > perTick*2 {
		v.log.Warn("teleport detected",
			zap.Stringer("player", p.ID()),
			zap.Float32("distance", distance),
			zap.Float32("max", v.limits.MaxTeleportDistance))
		return reject(CheckTeleport, "teleport detected: %.2f units", distance)
	}
	return accept()
}

// CheckPlausibility rejects inputs no honest client can produce.
func (v *Validator) CheckPlausibility(p *game.Player, in game.Input) Result {
	if in.Jump && !p.Grounded {
		v.log.Warn("air jump", zap.Stringer("player", p.ID()))
		return reject(CheckPlausibility, "cannot jump while airborne")
	}
	if in.Forward && in.Backward {
		return reject(CheckPlausibility, "contradictory input: forward and backward")
	}
	if in.Left && in.Right {
		return reject(CheckPlausibility, "contradictory input: left and right")
	}
	if look := in.LookDelta.Len(); look > MaxLookDelta {
		v.log.Warn("impossible look delta",
			zap.Stringer("player", p.ID()),
			zap.Float32("delta", look))
		return reject(CheckPlausibility, "impossible mouse movement detected")
	}
	return accept()
}

// Commit records an accepted input: the current position becomes the
// teleport baseline and the violation counter resets.
func (v *Validator) Commit(p *game.Player) {
	p.LastValidatedPosition = p.Position
	p.HasValidatedPosition = true
	p.Violations = 0
	p.Standing = NextStanding(p.Standing, EventAccepted)
}

// RecordViolation counts a rejection against p and disconnects it once the
// counter reaches KickThreshold. It reports whether this call kicked p.
func (v *Validator) RecordViolation(p *game.Player, r Result) bool {
	p.Violations++
	p.LastViolation = r.Reason

	v.log.Warn("violation",
		zap.Stringer("player", p.ID()),
		zap.Int("count", p.Violations),
		zap.Stringer("check", r.Check),
		zap.String("reason", r.Reason))

	ev := EventViolated
	if p.Violations >= KickThreshold {
		ev = EventThresholdReached
	}
	before := p.Standing
	p.Standing = NextStanding(before, ev)
	if p.Standing == game.StandingKicked && p.Connected {
		v.log.Warn("player kicked for repeated violations", zap.Stringer("player", p.ID()))
		p.Disconnect()
		return before != game.StandingKicked
	}
	return false
}
