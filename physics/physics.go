// Package physics integrates player kinematics on a fixed timestep. Every
// function here is deterministic: identical state, input and dt produce
// identical results.
package physics

import (
	"github.com/go-gl/mathgl/mgl32"

	"driftserver/game"
)

// Params are the constants of the movement model.
type Params struct {
	Gravity         mgl32.Vec3
	MoveSpeed       float32 // horizontal speed while a direction key is held
	JumpImpulse     float32 // vertical velocity set by a grounded jump
	LookSensitivity float32 // angular velocity per unit of look delta
	GroundFriction  float32 // horizontal damping factor per step when grounded
	AirResistance   float32 // damping factor per step when airborne
	GroundHeight    float32
	MaxVelocity     float32 // safety cap applied after every step
}

// DefaultParams returns the stock movement model capped at maxVelocity.
func DefaultParams(maxVelocity float32) Params {
	return Params{
		Gravity:         mgl32.Vec3{0, -9.81, 0},
		MoveSpeed:       10,
		JumpImpulse:     5,
		LookSensitivity: 0.1,
		GroundFriction:  0.9,
		AirResistance:   0.98,
		GroundHeight:    0,
		MaxVelocity:     maxVelocity,
	}
}

// Engine applies inputs and advances players.
type Engine struct {
	params Params
}

// New returns an engine using params.
func New(params Params) *Engine {
	return &Engine{params: params}
}

// Params returns the engine's movement model.
func (e *Engine) Params() Params { return e.params }

// Motion is the result of mapping one input onto a player.
type Motion struct {
	Velocity        mgl32.Vec3
	AngularVelocity mgl32.Vec3
	Grounded        bool
}

// Intent maps a held-key input onto the velocities it produces for a player
// with the given orientation, velocity and ground contact.
func (e *Engine) Intent(rotation mgl32.Quat, velocity, angular mgl32.Vec3, grounded bool, in game.Input) Motion {
	forward := rotation.Rotate(mgl32.Vec3{0, 0, 1})
	right := rotation.Rotate(mgl32.Vec3{1, 0, 0})

	var move mgl32.Vec3
	if in.Forward {
		move = move.Add(forward)
	}
	if in.Backward {
		move = move.Sub(forward)
	}
	if in.Right {
		move = move.Add(right)
	}
	if in.Left {
		move = move.Sub(right)
	}
	if move.Len() > 0 {
		move = move.Normalize()
	}

	out := Motion{Velocity: velocity, AngularVelocity: angular, Grounded: grounded}
	out.Velocity[0] = move[0] * e.params.MoveSpeed
	out.Velocity[2] = move[2] * e.params.MoveSpeed

	if in.Jump && grounded {
		out.Velocity[1] = e.params.JumpImpulse
		out.Grounded = false
	}

	out.AngularVelocity[1] = in.LookDelta[0] * e.params.LookSensitivity
	out.AngularVelocity[0] = in.LookDelta[1] * e.params.LookSensitivity
	return out
}

// ApplyInput writes the motion produced by in onto p.
func (e *Engine) ApplyInput(p *game.Player, in game.Input) {
	m := e.Intent(p.Rotation, p.Velocity, p.AngularVelocity, p.Grounded, in)
	p.Velocity = m.Velocity
	p.AngularVelocity = m.AngularVelocity
	p.Grounded = m.Grounded
}

// Step advances every connected player in reg by dt seconds.
func (e *Engine) Step(reg *game.Registry, dt float32) {
	reg.Each(func(p *game.Player) {
		e.StepPlayer(p, dt)
	})
}

// StepPlayer advances a single player. The order is fixed: gravity, position,
// orientation, friction, ground clamp, velocity clamp.
func (e *Engine) StepPlayer(p *game.Player, dt float32) {
	if !p.Connected {
		return
	}

	if !p.Grounded {
		p.Velocity = p.Velocity.Add(e.params.Gravity.Mul(dt))
	}

	p.Position = p.Position.Add(p.Velocity.Mul(dt))

	delta := mgl32.AnglesToQuat(
		p.AngularVelocity[0]*dt,
		p.AngularVelocity[1]*dt,
		p.AngularVelocity[2]*dt,
		mgl32.XYZ,
	)
	p.Rotation = p.Rotation.Mul(delta)

	if p.Grounded {
		p.Velocity[0] *= e.params.GroundFriction
		p.Velocity[2] *= e.params.GroundFriction
	} else {
		p.Velocity = p.Velocity.Mul(e.params.AirResistance)
	}

	if p.Position[1] <= e.params.GroundHeight {
		p.Position[1] = e.params.GroundHeight
		p.Velocity[1] = 0
		p.Grounded = true
	} else {
		p.Grounded = false
	}

	if speed := p.Velocity.Len(); speed > e.params.MaxVelocity {
		p.Velocity = p.Velocity.Normalize().Mul(e.params.MaxVelocity)
	}
}
