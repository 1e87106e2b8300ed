package alert

import "sync"

// History is a fixed-size ring of recent notifications, safe for concurrent use.
type History struct {
	mu   sync.RWMutex
	buf  []Notification
	cap  int
	pos  int // next write position
	full bool
}

// NewHistory creates a history with the given capacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 200
	}
	return &History{
		buf: make([]Notification, capacity),
		cap: capacity,
	}
}

// Push appends notifications, overwriting the oldest when full.
func (h *History) Push(ns ...Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, n := range ns {
		h.buf[h.pos] = n
		h.pos = (h.pos + 1) % h.cap
		if h.pos == 0 && !h.full {
			h.full = true
		}
	}
}

// Recent returns up to limit notifications, newest first. limit <= 0 returns all.
func (h *History) Recent(limit int) []Notification {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := h.len()
	if limit <= 0 || limit > count {
		limit = count
	}
	out := make([]Notification, 0, limit)
	for i := count - 1; i >= count-limit; i-- {
		out = append(out, h.buf[h.index(i)])
	}
	return out
}

// Len returns the number of notifications held.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.len()
}

// Clear empties the history.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf = make([]Notification, h.cap)
	h.pos = 0
	h.full = false
}

func (h *History) len() int {
	if h.full {
		return h.cap
	}
	return h.pos
}

// index converts a logical index (0 = oldest) to a physical buffer index.
func (h *History) index(logical int) int {
	if h.full {
		return (h.pos + logical) % h.cap
	}
	return logical
}
