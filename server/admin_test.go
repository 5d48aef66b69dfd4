package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"driftserver/config"
	"driftserver/snapshot"
)

type harness struct {
	world     *World
	hub       *Hub
	scheduler *Scheduler
	srv       *httptest.Server
}

// newHarness wires the full stack with nop loggers; connection goroutines
// may outlive the test.
func newHarness(t *testing.T, limits config.Limits) *harness {
	t.Helper()
	hub := NewHub(nil)
	world := NewWorld(WorldOptions{Limits: limits, Broadcaster: hub})
	scheduler := NewScheduler(world, nil)
	gateway := NewGateway(world, hub, scheduler.Next, nil)
	srv := httptest.NewServer(NewRouter(gateway, nil))
	t.Cleanup(srv.Close)
	return &harness{world: world, hub: hub, scheduler: scheduler, srv: srv}
}

func (h *harness) dial(t *testing.T, name string) (*websocket.Conn, welcomeMessage) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws?name=" + name
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, payload, err := ws.ReadMessage()
	if err != nil || kind != websocket.TextMessage {
		t.Fatalf("welcome: kind=%d err=%v", kind, err)
	}
	var hello welcomeMessage
	if err := json.Unmarshal(payload, &hello); err != nil || hello.Type != "welcome" {
		t.Fatalf("bad welcome %q: %v", payload, err)
	}
	return ws, hello
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestOperatorEndpoints(t *testing.T) {
	h := newHarness(t, config.DefaultLimits())

	if code := getJSON(t, h.srv.URL+"/healthz", nil); code != http.StatusOK {
		t.Fatalf("healthz status %d", code)
	}
	if code := getJSON(t, h.srv.URL+"/snapshot", nil); code != http.StatusNoContent {
		t.Fatalf("expected 204 before first tick, got %d", code)
	}

	var limits config.Limits
	getJSON(t, h.srv.URL+"/limits", &limits)
	if limits != config.DefaultLimits() {
		t.Fatalf("unexpected limits %+v", limits)
	}

	h.scheduler.Step()
	h.scheduler.Step()

	var snap snapshot.Snapshot
	if code := getJSON(t, h.srv.URL+"/snapshot", &snap); code != http.StatusOK || snap.Tick != 1 {
		t.Fatalf("snapshot status=%d tick=%d", code, snap.Tick)
	}

	var metrics struct {
		Tick    uint64             `json:"tick"`
		Players int                `json:"players"`
		Metrics map[string]float64 `json:"metrics"`
	}
	getJSON(t, h.srv.URL+"/metrics", &metrics)
	if metrics.Tick != 2 || metrics.Players != 0 || metrics.Metrics["tick_count"] != 2 {
		t.Fatalf("unexpected metrics payload %+v", metrics)
	}

	if code := getJSON(t, h.srv.URL+"/ws", nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 without name, got %d", code)
	}
}

func TestWebsocketSessionReceivesSnapshots(t *testing.T) {
	h := newHarness(t, config.DefaultLimits())
	ws, hello := h.dial(t, "alice")
	if hello.Rate != 60 || hello.Tick != 0 {
		t.Fatalf("unexpected welcome %+v", hello)
	}

	var players struct {
		Count       int          `json:"count"`
		Connections int          `json:"connections"`
		Players     []PlayerInfo `json:"players"`
	}
	getJSON(t, h.srv.URL+"/players", &players)
	if players.Count != 1 || players.Connections != 1 || players.Players[0].ID != hello.ID {
		t.Fatalf("unexpected players payload %+v", players)
	}

	frame := `{"type":"input","forward":true,"look":[0,0],"tick":1}`
	if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write input: %v", err)
	}

	// Each step yields exactly one binary frame for this client.
	for i := 0; i < 200; i++ {
		h.scheduler.Step()
		_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		kind, payload, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read snapshot: %v", err)
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		snap, err := snapshot.Decode(payload)
		if err != nil {
			t.Fatalf("decode snapshot: %v", err)
		}
		state, ok := snap.Find(hello.ID)
		if !ok {
			t.Fatalf("own player missing from tick %d", snap.Tick)
		}
		if state.Position[2] > 0 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("input never moved the player")
}

func TestKickedClientIsDisconnected(t *testing.T) {
	h := newHarness(t, config.DefaultLimits())
	ws, hello := h.dial(t, "mallory")
	id := uuid.MustParse(hello.ID)

	bad := []byte(`{"type":"input","left":true,"right":true}`)
	for i := 0; i < 10; i++ {
		if err := ws.WriteMessage(websocket.TextMessage, bad); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		info := h.world.Players()
		if len(info) == 1 && info[0].PendingInputs == 10 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("inputs never queued: %+v", info)
		}
		time.Sleep(time.Millisecond)
	}

	res := h.scheduler.Step()
	if len(res.Removed) != 1 || res.Removed[0] != id {
		t.Fatalf("expected kick to purge player, got %v", res.Removed)
	}
	if h.hub.Len() != 0 {
		t.Fatalf("connection still attached")
	}

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			var ne interface{ Timeout() bool }
			if errors.As(err, &ne) && ne.Timeout() {
				t.Fatalf("connection was not closed")
			}
			return
		}
	}
}

func TestServerFullRejectsConnection(t *testing.T) {
	limits := config.DefaultLimits()
	limits.MaxPlayers = 1
	h := newHarness(t, limits)
	h.dial(t, "first")

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws?name=second"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
		t.Fatalf("expected try-again-later close, got %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for h.hub.Len() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("rejected connection still attached: conns=%d", h.hub.Len())
		}
		time.Sleep(time.Millisecond)
	}
	if h.world.PlayerCount() != 1 {
		t.Fatalf("rejected client registered: players=%d", h.world.PlayerCount())
	}
}

func TestHubBroadcastSkipsSlowClients(t *testing.T) {
	hub := NewHub(nil)
	fast, slow := NewClientConn(nil), NewClientConn(nil)
	fastID, slowID := uuid.New(), uuid.New()
	hub.Add(fastID, fast)
	hub.Add(slowID, slow)
	for i := 0; i < sendQueueSize; i++ {
		slow.EnqueueBinary(nil)
	}

	err := hub.Broadcast(&snapshot.Snapshot{Tick: 7})
	if !errors.Is(err, ErrSlowClients) {
		t.Fatalf("expected ErrSlowClients, got %v", err)
	}
	msg := <-fast.send
	got, err := snapshot.Decode(msg.data)
	if err != nil || got.Tick != 7 || msg.kind != websocket.BinaryMessage {
		t.Fatalf("unexpected frame kind=%d tick=%v err=%v", msg.kind, got, err)
	}

	hub.Evict(slowID)
	hub.Evict(slowID)
	if hub.Len() != 1 || slow.EnqueueBinary(nil) {
		t.Fatalf("evicted client still accepts frames")
	}

	replacement := NewClientConn(nil)
	hub.Add(fastID, replacement)
	if fast.EnqueueJSON(map[string]int{"a": 1}) {
		t.Fatalf("replaced connection was not closed")
	}
	if err := hub.Broadcast(&snapshot.Snapshot{Tick: 8}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
}
