package game

import (
	"errors"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"
)

// ErrDuplicatePlayer signals a second session for an already registered id.
var ErrDuplicatePlayer = errors.New("game: player already registered")

// Registry maps player ids to players. It does no locking of its own; the
// owner grants exclusive access during a tick and shared access between ticks.
type Registry struct {
	players map[uuid.UUID]*Player
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{players: make(map[uuid.UUID]*Player)}
}

// Insert adds p, failing with ErrDuplicatePlayer if its id is taken.
func (r *Registry) Insert(p *Player) error {
	if _, ok := r.players[p.ID()]; ok {
		return ErrDuplicatePlayer
	}
	r.players[p.ID()] = p
	return nil
}

// Remove deletes the player with the given id, reporting whether it existed.
func (r *Registry) Remove(id uuid.UUID) bool {
	if _, ok := r.players[id]; !ok {
		return false
	}
	delete(r.players, id)
	return true
}

// Lookup returns the player for id. The returned pointer aliases registry
// state; callers without exclusive access must treat it as read-only.
func (r *Registry) Lookup(id uuid.UUID) (*Player, bool) {
	p, ok := r.players[id]
	return p, ok
}

// Get returns a copy of the player's state.
func (r *Registry) Get(id uuid.UUID) (Player, bool) {
	p, ok := r.players[id]
	if !ok {
		return Player{}, false
	}
	return *p, true
}

// Each calls fn for every player in unspecified order.
func (r *Registry) Each(fn func(p *Player)) {
	for _, p := range r.players {
		fn(p)
	}
}

// Len reports the number of registered players.
func (r *Registry) Len() int { return len(r.players) }

// IDs returns all registered ids sorted by their string form.
func (r *Registry) IDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(r.players))
	for id := range r.players {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) bool { return a.String() < b.String() })
	return ids
}

// RemoveDisconnected purges every player whose connected flag is false and
// returns their ids.
func (r *Registry) RemoveDisconnected() []uuid.UUID {
	var removed []uuid.UUID
	for id, p := range r.players {
		if !p.Connected {
			delete(r.players, id)
			removed = append(removed, id)
		}
	}
	return removed
}
