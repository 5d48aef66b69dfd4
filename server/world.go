package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"driftserver/anticheat"
	"driftserver/config"
	"driftserver/game"
	"driftserver/physics"
	"driftserver/snapshot"
)

// ErrServerFull is returned by Register once MaxPlayers are connected.
var ErrServerFull = errors.New("server: max players reached")

// Broadcaster is the transport side of the tick: it receives every snapshot
// and is told when a player has been purged.
type Broadcaster interface {
	Broadcast(s *snapshot.Snapshot) error
	Evict(id uuid.UUID)
}

// Rules is the game-rule hook invoked once per tick after physics.
type Rules func(tick uint64)

// WorldOptions configure a World. Only Limits is required.
type WorldOptions struct {
	Limits      config.Limits
	Logger      *zap.Logger
	Clock       anticheat.Clock
	Metrics     *Metrics
	Broadcaster Broadcaster
	Rules       Rules
	Physics     *physics.Engine
}

// World owns the registry. The tick goroutine holds the write lock for a
// whole cycle; everyone else reads under the read lock between ticks.
type World struct {
	log         *zap.Logger
	limits      config.Limits
	clock       anticheat.Clock
	metrics     *Metrics
	physics     *physics.Engine
	validator   *anticheat.Validator
	broadcaster Broadcaster
	rules       Rules

	mu       sync.RWMutex
	registry *game.Registry
	latest   *snapshot.Snapshot

	leaveChan chan uuid.UUID

	subMu   sync.Mutex
	subs    map[int]chan *snapshot.Snapshot
	nextSub int
}

// TickResult summarises one cycle.
type TickResult struct {
	Tick     uint64
	Players  int
	Removed  []uuid.UUID
	Snapshot *snapshot.Snapshot
}

// PlayerInfo is the bookkeeping view of a player exposed to operators.
type PlayerInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Connected     bool   `json:"connected"`
	Standing      string `json:"standing"`
	Violations    int    `json:"violations"`
	LastViolation string `json:"lastViolation,omitempty"`
	LastAckTick   uint64 `json:"lastAckTick"`
	PendingInputs int    `json:"pendingInputs"`
	DroppedInputs uint64 `json:"droppedInputs"`
}

// NewWorld creates an empty world.
func NewWorld(opts WorldOptions) *World {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = anticheat.SystemClock{}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = &Metrics{}
	}
	engine := opts.Physics
	if engine == nil {
		engine = physics.New(physics.DefaultParams(opts.Limits.MaxVelocity))
	}
	leaveBuf := opts.Limits.MaxPlayers
	if leaveBuf <= 0 {
		leaveBuf = 64
	}
	return &World{
		log:         log.Named("world"),
		limits:      opts.Limits,
		clock:       clock,
		metrics:     metrics,
		physics:     engine,
		validator:   anticheat.New(opts.Limits, clock, log.Named("anticheat")),
		broadcaster: opts.Broadcaster,
		rules:       opts.Rules,
		registry:    game.NewRegistry(),
		leaveChan:   make(chan uuid.UUID, leaveBuf),
		subs:        make(map[int]chan *snapshot.Snapshot),
	}
}

// Limits returns the limits the world was built with.
func (w *World) Limits() config.Limits { return w.limits }

// Metrics returns the world's counters.
func (w *World) Metrics() *Metrics { return w.metrics }

// NewPlayer constructs a player sized to the configured queue cap.
func (w *World) NewPlayer(id uuid.UUID, name string) *game.Player {
	return game.NewPlayer(id, name, w.limits.MaxPendingInputs)
}

// Register adds a newly constructed player. It blocks while a tick runs.
func (w *World) Register(p *game.Player) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.limits.MaxPlayers > 0 && w.registry.Len() >= w.limits.MaxPlayers {
		return ErrServerFull
	}
	if err := w.registry.Insert(p); err != nil {
		return fmt.Errorf("register %s: %w", p.ID(), err)
	}
	w.metrics.IncJoined()
	w.log.Info("player registered", zap.Stringer("player", p.ID()), zap.String("name", p.Name))
	return nil
}

// Disconnect asks the tick loop to drop a player. The player leaves the
// registry at the end of the next tick.
func (w *World) Disconnect(id uuid.UUID) {
	select {
	case w.leaveChan <- id:
	default:
		// Queue saturated: mark the player directly.
		w.mu.Lock()
		if p, ok := w.registry.Lookup(id); ok {
			p.Disconnect()
		}
		w.mu.Unlock()
	}
}

// Submit queues an input for the player owning q. A full queue drops the
// input and is reported at power-of-two drop counts.
func (w *World) Submit(id uuid.UUID, q *game.InputQueue, in game.Input) error {
	err := q.Push(in)
	if errors.Is(err, game.ErrQueueFull) {
		w.metrics.IncQueueDropped()
		if n := q.Dropped(); n&(n-1) == 0 {
			w.log.Warn("[backpressure] dropping input",
				zap.Stringer("player", id),
				zap.Uint64("count", n),
				zap.Int("limit", w.limits.MaxPendingInputs))
		}
	}
	return err
}

// Latest returns the most recently published snapshot, or nil before the
// first tick.
func (w *World) Latest() *snapshot.Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.latest
}

// Players reports operator bookkeeping for every registered player, ordered
// by id.
func (w *World) Players() []PlayerInfo {
	w.mu.RLock()
	defer w.mu.RUnlock()
	ids := w.registry.IDs()
	out := make([]PlayerInfo, 0, len(ids))
	for _, id := range ids {
		p, _ := w.registry.Lookup(id)
		out = append(out, PlayerInfo{
			ID:            id.String(),
			Name:          p.Name,
			Connected:     p.Connected,
			Standing:      p.Standing.String(),
			Violations:    p.Violations,
			LastViolation: p.LastViolation,
			LastAckTick:   p.LastAckTick,
			PendingInputs: p.Inputs().Len(),
			DroppedInputs: p.Inputs().Dropped(),
		})
	}
	return out
}

// PlayerCount reports the number of registered players.
func (w *World) PlayerCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.registry.Len()
}

// Subscribe returns a channel receiving each published snapshot. Delivery is
// best effort: a full channel misses snapshots. cancel closes the channel.
func (w *World) Subscribe(buffer int) (<-chan *snapshot.Snapshot, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan *snapshot.Snapshot, buffer)
	w.subMu.Lock()
	id := w.nextSub
	w.nextSub++
	w.subs[id] = ch
	w.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.subMu.Lock()
			delete(w.subs, id)
			w.subMu.Unlock()
			close(ch)
		})
	}
}

// Tick runs one full cycle under the write lock: leave requests, inputs,
// physics, rules, snapshot, broadcast and cleanup.
func (w *World) Tick(tick uint64) TickResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.applyLeaves()
	w.processInputs()
	w.physics.Step(w.registry, w.limits.TickSeconds())

	if w.rules != nil {
		w.rules(tick)
	}

	snap := snapshot.Build(w.registry, tick, w.clock.Now())
	w.latest = snap
	w.notify(snap)
	w.broadcast(snap)

	removed := w.registry.RemoveDisconnected()
	if len(removed) > 0 {
		w.metrics.AddRemoved(len(removed))
		for _, id := range removed {
			w.log.Info("player removed", zap.Stringer("player", id), zap.Uint64("tick", tick))
			if w.broadcaster != nil {
				w.broadcaster.Evict(id)
			}
		}
	}

	return TickResult{
		Tick:     tick,
		Players:  w.registry.Len(),
		Removed:  removed,
		Snapshot: snap,
	}
}

func (w *World) applyLeaves() {
	for {
		select {
		case id := <-w.leaveChan:
			if p, ok := w.registry.Lookup(id); ok {
				p.Disconnect()
			}
		default:
			return
		}
	}
}

// processInputs drains every player's queue in FIFO order. A rejection never
// stops the drain, even when it kicks the player.
func (w *World) processInputs() {
	w.registry.Each(func(p *game.Player) {
		for _, in := range p.Inputs().Drain() {
			r := w.validator.Validate(p, in)
			if r.Accepted() {
				w.physics.ApplyInput(p, in)
				w.validator.Commit(p)
				p.AckTick(in.Tick)
				w.metrics.IncAccepted()
				continue
			}
			w.metrics.IncRejected(r.Check)
			if w.validator.RecordViolation(p, r) {
				w.metrics.IncKicks()
			}
		}
	})
}

func (w *World) notify(s *snapshot.Snapshot) {
	w.subMu.Lock()
	defer w.subMu.Unlock()
	for _, ch := range w.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// broadcast hands s to the transport. Failures and panics are logged; the
// tick always continues.
func (w *World) broadcast(s *snapshot.Snapshot) {
	if w.broadcaster == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			w.metrics.IncBroadcastError()
			w.log.Error("broadcast panic", zap.Uint64("tick", s.Tick), zap.Any("panic", r))
		}
	}()
	if err := w.broadcaster.Broadcast(s); err != nil {
		w.metrics.IncBroadcastError()
		w.log.Error("broadcast failed", zap.Uint64("tick", s.Tick), zap.Error(err))
	}
}
