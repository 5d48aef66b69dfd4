package server

import (
	"github.com/go-gl/mathgl/mgl32"

	"driftserver/game"
)

// InputMessage is the JSON text frame a client sends for each control frame.
// Example: {"type":"input","forward":true,"look":[1.5,-0.25],"tick":812}
type InputMessage struct {
	Type     string     `json:"type"`
	Forward  bool       `json:"forward,omitempty"`
	Backward bool       `json:"backward,omitempty"`
	Left     bool       `json:"left,omitempty"`
	Right    bool       `json:"right,omitempty"`
	Jump     bool       `json:"jump,omitempty"`
	Look     [2]float32 `json:"look"`
	Tick     uint64     `json:"tick"`
}

// Input converts the frame into a simulation input.
func (m InputMessage) Input() game.Input {
	return game.Input{
		Forward:   m.Forward,
		Backward:  m.Backward,
		Left:      m.Left,
		Right:     m.Right,
		Jump:      m.Jump,
		LookDelta: mgl32.Vec2(m.Look),
		Tick:      m.Tick,
	}
}

// welcomeMessage is sent once after registration.
type welcomeMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Tick uint64 `json:"tick"`
	Rate int    `json:"tickRate"`
}
