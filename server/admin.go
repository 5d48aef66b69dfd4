package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"go.uber.org/zap"
)

// NewRouter mounts the websocket endpoint and the read-only operator API:
//
//	GET /ws?name=alice  websocket session
//	GET /snapshot       latest snapshot as JSON
//	GET /players        per-player bookkeeping
//	GET /limits         server limits
//	GET /metrics        runtime counters
//	GET /healthz        liveness
func NewRouter(g *Gateway, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(log.Named("http")))

	r.Get("/ws", g.HandleWS)
	r.Get("/snapshot", g.handleSnapshot)
	r.Get("/players", g.handlePlayers)
	r.Get("/limits", g.handleLimits)
	r.Get("/metrics", g.handleMetrics)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleSnapshot returns 204 until the first tick has completed.
func (g *Gateway) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	s := g.world.Latest()
	if s == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (g *Gateway) handlePlayers(w http.ResponseWriter, r *http.Request) {
	players := g.world.Players()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":       len(players),
		"connections": g.hub.Len(),
		"players":     players,
	})
}

func (g *Gateway) handleLimits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.world.Limits())
}

func (g *Gateway) handleMetrics(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"tick":    g.next(),
		"players": g.world.PlayerCount(),
		"metrics": g.world.Metrics().Snapshot(),
	}
	writeJSON(w, http.StatusOK, payload)
}

func accessLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote", r.RemoteAddr),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", time.Since(start)))
		})
	}
}
