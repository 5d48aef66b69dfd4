package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"driftserver/game"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4 << 10
	sendQueueSize  = 64
)

type outbound struct {
	kind int
	data []byte
}

// ClientConn is the write side of one websocket client.
type ClientConn struct {
	ws *websocket.Conn

	mu     sync.Mutex
	send   chan outbound
	closed bool
}

// NewClientConn wraps ws. ws may be nil for connections that are never pumped.
func NewClientConn(ws *websocket.Conn) *ClientConn {
	return &ClientConn{
		ws:   ws,
		send: make(chan outbound, sendQueueSize),
	}
}

func (c *ClientConn) enqueue(m outbound) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- m:
		return true
	default:
		// Full: drop so the tick never waits on a slow client.
		return false
	}
}

// EnqueueBinary queues a binary frame, reporting false if it was dropped.
func (c *ClientConn) EnqueueBinary(b []byte) bool {
	return c.enqueue(outbound{kind: websocket.BinaryMessage, data: b})
}

// EnqueueJSON queues v as a text frame.
func (c *ClientConn) EnqueueJSON(v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return c.enqueue(outbound{kind: websocket.TextMessage, data: b})
}

// Close ends the write pump and the underlying connection. Safe to call twice.
func (c *ClientConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	if c.ws != nil {
		_ = c.ws.Close()
	}
}

// writePump drains the send queue to the socket and keeps it alive with pings.
func (c *ClientConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(msg.kind, msg.data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Gateway accepts websocket clients and connects them to the world.
type Gateway struct {
	log      *zap.Logger
	world    *World
	hub      *Hub
	upgrader websocket.Upgrader
	next     func() uint64
}

// NewGateway builds the websocket entry point. next reports the upcoming
// tick number for welcome messages and may be nil.
func NewGateway(world *World, hub *Hub, next func() uint64, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	if next == nil {
		next = func() uint64 { return 0 }
	}
	return &Gateway{
		log:   log.Named("ws"),
		world: world,
		hub:   hub,
		next:  next,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients are served from other origins during development.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleWS upgrades GET /ws?name=alice and registers a new player.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		http.Error(w, "missing name query", http.StatusBadRequest)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	id := uuid.New()
	p := g.world.NewPlayer(id, name)
	client := NewClientConn(ws)
	g.hub.Add(id, client)

	if err := g.world.Register(p); err != nil {
		reason := "registration failed"
		if errors.Is(err, ErrServerFull) {
			reason = "server full"
		}
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, reason),
			time.Now().Add(writeWait))
		g.hub.Evict(id)
		g.log.Warn("rejecting connection", zap.String("name", name), zap.Error(err))
		return
	}

	client.EnqueueJSON(welcomeMessage{
		Type: "welcome",
		ID:   id.String(),
		Tick: g.next(),
		Rate: g.world.Limits().TickRate,
	})

	go client.writePump()
	go g.readPump(ws, id, p.Inputs())
}

// readPump decodes input frames into the player's queue. Frames arriving
// faster than twice the input rate limit are shed before they are queued.
func (g *Gateway) readPump(ws *websocket.Conn, id uuid.UUID, q *game.InputQueue) {
	defer func() {
		g.world.Disconnect(id)
		_ = ws.Close()
	}()

	limit := g.world.Limits().InputRateLimit
	limiter := rate.NewLimiter(rate.Limit(2*limit), limit)

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	log := g.log.With(zap.Stringer("player", id))
	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Info("connection lost", zap.Error(err))
			}
			return
		}
		if !limiter.Allow() {
			g.world.Metrics().IncShed()
			continue
		}
		var msg InputMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Debug("malformed frame", zap.Error(err))
			continue
		}
		if !strings.EqualFold(msg.Type, "input") {
			continue
		}
		if err := g.world.Submit(id, q, msg.Input()); errors.Is(err, game.ErrQueueClosed) {
			return
		}
	}
}
