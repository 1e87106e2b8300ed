package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"trendwatch/internal/model"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 1000
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Handler returns the gateway routes.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn("ws upgrade error", "error", err)
			return
		}
		h.HandleWSRequest(conn, r.URL.Query().Get("last_ts"))
	})

	// Latest summary of every series.
	mux.HandleFunc("GET /api/latest", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.Latest())
	})

	// Full latest evaluation (rows and Heikin-Ashi candles) of one series.
	mux.HandleFunc("GET /api/series", func(w http.ResponseWriter, r *http.Request) {
		key := model.SeriesKey{
			Symbol:   r.URL.Query().Get("symbol"),
			Interval: r.URL.Query().Get("interval"),
		}
		if key.Symbol == "" || key.Interval == "" {
			writeError(w, http.StatusBadRequest, "symbol and interval are required")
			return
		}
		ev, ok := h.Series(key)
		if !ok {
			writeError(w, http.StatusNotFound, "no evaluation for "+key.String())
			return
		}
		writeJSON(w, http.StatusOK, ev)
	})

	mux.HandleFunc("GET /api/alerts", func(w http.ResponseWriter, r *http.Request) {
		limit := defaultAlertLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			if l, err := strconv.Atoi(s); err == nil && l > 0 && l <= maxAlertLimit {
				limit = l
			}
		}
		writeJSON(w, http.StatusOK, h.history.Recent(limit))
	})

	mux.HandleFunc("GET /api/memory", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.memory.Snapshot())
	})

	// Clears trend memory; the next cycle starts fresh and raises no reversals.
	mux.HandleFunc("POST /api/memory/reset", func(w http.ResponseWriter, r *http.Request) {
		cleared := h.memory.Len()
		h.memory.Reset()
		h.log.Info("trend memory reset", "cleared", cleared)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "cleared": cleared})
	})

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "ok",
			"ws_clients": h.ClientCount(),
			"series":     len(h.Latest()),
			"ts":         time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	return withCORS(mux)
}

// Server runs the gateway HTTP listener.
type Server struct {
	srv *http.Server
	hub *Hub
}

// NewServer creates a gateway server on addr.
func NewServer(addr string, hub *Hub) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           hub.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		hub: hub,
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.hub.log.Info("gateway listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.hub.log.Error("gateway server error", "error", err)
		}
	}()
}

// Stop gracefully shuts the listener down.
func (s *Server) Stop(ctx context.Context) {
	if err := s.srv.Shutdown(ctx); err != nil {
		s.hub.log.Warn("gateway shutdown", "error", err)
	}
}
