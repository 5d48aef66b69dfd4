// Package game holds the authoritative per-player state owned by the tick loop.
package game

import (
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// Standing is a player's position in the violation escalation ladder.
type Standing int

const (
	StandingNormal Standing = iota
	StandingWarned
	StandingKicked
)

func (s Standing) String() string {
	switch s {
	case StandingNormal:
		return "normal"
	case StandingWarned:
		return "warned"
	case StandingKicked:
		return "kicked"
	default:
		return "unknown"
	}
}

// Player is the server-side authoritative state of one connected participant.
// Kinematic fields are written by the physics engine, bookkeeping fields by
// the anti-cheat validator, both only while the tick loop holds the world lock.
type Player struct {
	id   uuid.UUID
	Name string

	Position        mgl32.Vec3
	Rotation        mgl32.Quat
	Velocity        mgl32.Vec3
	AngularVelocity mgl32.Vec3
	Grounded        bool
	Connected       bool

	// Anti-cheat bookkeeping.
	LastValidatedPosition mgl32.Vec3
	HasValidatedPosition  bool
	WindowStart           time.Time // zero until the first input is seen
	WindowCount           int
	Violations            int
	LastViolation         string
	Standing              Standing

	// Networking bookkeeping.
	LastAckTick uint64
	inputs      *InputQueue
}

// NewPlayer returns a grounded, connected player at the origin with an input
// queue holding at most queueCap pending inputs.
func NewPlayer(id uuid.UUID, name string, queueCap int) *Player {
	return &Player{
		id:        id,
		Name:      name,
		Rotation:  mgl32.QuatIdent(),
		Grounded:  true,
		Connected: true,
		inputs:    NewInputQueue(queueCap),
	}
}

// ID is fixed at construction.
func (p *Player) ID() uuid.UUID { return p.id }

// Inputs returns the player's pending input queue. The queue may be handed to
// a connection goroutine; it is safe for use concurrently with the tick loop.
func (p *Player) Inputs() *InputQueue { return p.inputs }

// Disconnect marks the player for removal at the end of the current tick and
// closes its input queue.
func (p *Player) Disconnect() {
	p.Connected = false
	p.inputs.Close()
}

// AckTick records the highest client tick the server has consumed.
func (p *Player) AckTick(tick uint64) {
	if tick > p.LastAckTick {
		p.LastAckTick = tick
	}
}
