package alert

import (
	"sync"

	"trendwatch/internal/indicator"
	"trendwatch/internal/model"
)

type memoryEntry struct {
	mu    sync.Mutex
	trend indicator.Trend
	seen  bool
}

// Memory holds the last observed trend per series key. A key with no entry is
// Unknown; once evaluated it always holds a concrete trend (possibly
// TrendUndefined) until Forget, Retain or Reset drops it.
//
// Each key has its own lock so overlapping cycles on one key serialize while
// different keys never contend.
type Memory struct {
	mu      sync.Mutex
	entries map[model.SeriesKey]*memoryEntry
}

// NewMemory returns an empty memory.
func NewMemory() *Memory {
	return &Memory{entries: make(map[model.SeriesKey]*memoryEntry)}
}

func (m *Memory) entry(key model.SeriesKey) *memoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		e = &memoryEntry{}
		m.entries[key] = e
	}
	return e
}

// Update performs a read-modify-write of key under its lock. fn receives the
// prior trend and whether one was recorded; its return value is stored.
func (m *Memory) Update(key model.SeriesKey, fn func(prev indicator.Trend, known bool) indicator.Trend) {
	e := m.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.trend = fn(e.trend, e.seen)
	e.seen = true
}

// Get returns the recorded trend for key.
func (m *Memory) Get(key model.SeriesKey) (indicator.Trend, bool) {
	m.mu.Lock()
	e, ok := m.entries[key]
	m.mu.Unlock()
	if !ok {
		return indicator.TrendUndefined, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.trend, e.seen
}

// Snapshot copies every known entry, keyed by "symbol@interval".
func (m *Memory) Snapshot() map[string]indicator.Trend {
	m.mu.Lock()
	entries := make(map[model.SeriesKey]*memoryEntry, len(m.entries))
	for k, e := range m.entries {
		entries[k] = e
	}
	m.mu.Unlock()

	out := make(map[string]indicator.Trend, len(entries))
	for k, e := range entries {
		e.mu.Lock()
		if e.seen {
			out[k.String()] = e.trend
		}
		e.mu.Unlock()
	}
	return out
}

// Len returns the number of tracked keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Forget drops key, returning it to Unknown.
func (m *Memory) Forget(key model.SeriesKey) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// Retain drops every key not in keep and returns how many were removed.
func (m *Memory) Retain(keep []model.SeriesKey) int {
	set := make(map[model.SeriesKey]struct{}, len(keep))
	for _, k := range keep {
		set[k] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k := range m.entries {
		if _, ok := set[k]; !ok {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

// Reset forgets every key.
func (m *Memory) Reset() {
	m.mu.Lock()
	m.entries = make(map[model.SeriesKey]*memoryEntry)
	m.mu.Unlock()
}
