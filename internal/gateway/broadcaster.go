package gateway

import (
	"encoding/json"
	"strconv"
	"time"

	"trendwatch/internal/model"
)

const (
	envelopeEvaluation = "evaluation"
	envelopeAlert      = "alert"
)

// buildEnvelope writes {"type":...,"key":...,"data":...,"ts":...,"seq":N}
// around an already-encoded payload, so data is never marshalled twice.
func buildEnvelope(kind string, key model.SeriesKey, data []byte, ts time.Time, seq int64, initial bool) []byte {
	k, _ := json.Marshal(key.String())
	buf := make([]byte, 0, len(kind)+len(k)+len(data)+128)
	buf = append(buf, `{"type":"`...)
	buf = append(buf, kind...)
	buf = append(buf, `","key":`...)
	buf = append(buf, k...)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = ts.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	if initial {
		buf = append(buf, `,"initial":true`...)
	}
	buf = append(buf, '}')
	return buf
}

// broadcast sends one envelope to every client subscribed to key. Slow
// clients whose send buffer is full miss the message.
func (h *Hub) broadcast(key model.SeriesKey, kind string, data []byte, ts time.Time) {
	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.mu.Unlock()

	buf := buildEnvelope(kind, key, data, ts, seq, false)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.wants(key) {
			continue
		}
		select {
		case client.send <- buf:
		default:
		}
	}
}
