// Package snapshot projects the registry into the immutable per-tick record
// handed to the transport for broadcast.
package snapshot

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/exp/slices"

	"driftserver/game"
)

// PlayerState is the public state of one connected player.
type PlayerState struct {
	ID       string     `msgpack:"id" json:"id"`
	Position [3]float32 `msgpack:"pos" json:"position"`
	Rotation [4]float32 `msgpack:"rot" json:"rotation"` // x, y, z, w
	Velocity [3]float32 `msgpack:"vel" json:"velocity"`
	Grounded bool       `msgpack:"grounded" json:"grounded"`
}

// Snapshot is the settled state of the world at the end of a tick.
// It must not be modified once built.
type Snapshot struct {
	Tick      uint64        `msgpack:"tick" json:"tick"`
	Timestamp uint64        `msgpack:"ts" json:"timestamp"` // ms since the Unix epoch
	Players   []PlayerState `msgpack:"players" json:"players"`
}

// Build captures every connected player in reg at tick. Players are ordered
// by id so equal states encode identically.
func Build(reg *game.Registry, tick uint64, now time.Time) *Snapshot {
	players := make([]PlayerState, 0, reg.Len())
	reg.Each(func(p *game.Player) {
		if !p.Connected {
			return
		}
		players = append(players, PlayerState{
			ID:       p.ID().String(),
			Position: p.Position,
			Rotation: [4]float32{p.Rotation.V[0], p.Rotation.V[1], p.Rotation.V[2], p.Rotation.W},
			Velocity: p.Velocity,
			Grounded: p.Grounded,
		})
	})
	slices.SortFunc(players, func(a, b PlayerState) bool { return a.ID < b.ID })

	return &Snapshot{
		Tick:      tick,
		Timestamp: uint64(now.UnixMilli()),
		Players:   players,
	}
}

// Find returns the state of the player with the given id.
func (s *Snapshot) Find(id string) (PlayerState, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return PlayerState{}, false
}

// Encode serialises s with msgpack.
func Encode(s *Snapshot) ([]byte, error) {
	b, err := msgpack.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode tick %d: %w", s.Tick, err)
	}
	return b, nil
}

// Decode parses a msgpack snapshot produced by Encode.
func Decode(b []byte) (*Snapshot, error) {
	var s Snapshot
	if err := msgpack.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}
	return &s, nil
}
