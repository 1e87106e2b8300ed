// Package gateway serves evaluations and alerts to dashboards over WebSocket
// and a small REST API.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"trendwatch/internal/alert"
	"trendwatch/internal/engine"
	"trendwatch/internal/metrics"
	"trendwatch/internal/model"
)

// Hub manages WebSocket clients and keeps the latest evaluation per series.
type Hub struct {
	history *alert.History
	memory  *alert.Memory
	metrics *metrics.Metrics
	log     *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[model.SeriesKey]latestEntry
	seq     int64
}

type latestEntry struct {
	Eval engine.Evaluation
	Data json.RawMessage // summary JSON
	TS   time.Time
}

// NewHub creates a hub. history and memory back the REST endpoints; m may be
// nil.
func NewHub(history *alert.History, memory *alert.Memory, m *metrics.Metrics, log *slog.Logger) *Hub {
	return &Hub{
		history: history,
		memory:  memory,
		metrics: m,
		log:     log.With("component", "gateway"),
		clients: make(map[*Client]bool),
		latest:  make(map[model.SeriesKey]latestEntry),
	}
}

// Run consumes evaluations until in is closed or ctx is cancelled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context, in <-chan engine.Evaluation) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			h.Publish(ev)
		}
	}
}

// Publish records ev as the latest evaluation for its series and broadcasts
// it together with its notifications.
func (h *Hub) Publish(ev engine.Evaluation) {
	data, err := json.Marshal(ev.Summary())
	if err != nil {
		h.log.Warn("marshal summary", "symbol", ev.Symbol, "error", err)
		return
	}
	now := time.Now().UTC()
	key := ev.Key()

	h.mu.Lock()
	h.latest[key] = latestEntry{Eval: ev, Data: data, TS: now}
	h.mu.Unlock()

	h.broadcast(key, envelopeEvaluation, data, now)
	for _, n := range ev.Notifications {
		nd, err := json.Marshal(n)
		if err != nil {
			h.log.Warn("marshal notification", "id", n.ID, "error", err)
			continue
		}
		h.broadcast(key, envelopeAlert, nd, now)
	}
}

// HandleWSRequest registers an upgraded connection. Entries evaluated at or
// before lastTS are not replayed.
func (h *Hub) HandleWSRequest(conn *websocket.Conn, lastTS string) {
	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
		subs: make(map[model.SeriesKey]bool),
	}

	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.setClientGauge(count)

	h.log.Info("ws client connected", "clients", count)

	client.sendInitialState(lastTS)
	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub. Safe to call more than once.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()
	h.setClientGauge(count)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	h.setClientGauge(0)
}

func (h *Hub) setClientGauge(n int) {
	if h.metrics != nil {
		h.metrics.WSClients.Set(float64(n))
	}
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Latest returns the newest summary of every series, ordered by symbol then
// interval.
func (h *Hub) Latest() []engine.Summary {
	h.mu.RLock()
	out := make([]engine.Summary, 0, len(h.latest))
	for _, e := range h.latest {
		out = append(out, e.Eval.Summary())
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Interval < out[j].Interval
	})
	return out
}

// Series returns the full latest evaluation for key, rows included.
func (h *Hub) Series(key model.SeriesKey) (engine.Evaluation, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.latest[key]
	return e.Eval, ok
}
