package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendwatch/internal/alert"
	"trendwatch/internal/engine"
	"trendwatch/internal/indicator"
	"trendwatch/internal/metrics"
	"trendwatch/internal/model"
)

var barTime = time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

type envelope struct {
	Type    string          `json:"type"`
	Key     string          `json:"key"`
	Data    json.RawMessage `json:"data"`
	TS      string          `json:"ts"`
	Seq     int64           `json:"seq"`
	Initial bool            `json:"initial"`
}

func evaluation(symbol, interval string, trend indicator.Trend, notes ...alert.Notification) engine.Evaluation {
	return engine.Evaluation{
		Symbol:      symbol,
		Name:        symbol,
		Interval:    interval,
		Status:      engine.StatusOK,
		EvaluatedAt: barTime,
		Bars:        1,
		Rows: []indicator.Row{{
			Bar:      model.Bar{Time: barTime, Open: 10, High: 11, Low: 9, Close: 10.5},
			SMAFast:  indicator.Defined(10.4),
			SMASlow:  indicator.Defined(10.2),
			Trend:    trend,
			Strength: indicator.Defined(1.96),
		}},
		Notifications: notes,
	}
}

func newTestHub(t *testing.T) (*Hub, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	return NewHub(alert.NewHistory(10), alert.NewMemory(), m, slog.New(slog.NewTextHandler(io.Discard, nil))), m
}

func TestBuildEnvelope(t *testing.T) {
	key := model.SeriesKey{Symbol: "GC=F", Interval: "1h"}
	buf := buildEnvelope(envelopeAlert, key, []byte(`{"kind":"pullback"}`), barTime, 42, true)

	var env envelope
	require.NoError(t, json.Unmarshal(buf, &env), string(buf))
	assert.Equal(t, "alert", env.Type)
	assert.Equal(t, "GC=F@1h", env.Key)
	assert.Equal(t, int64(42), env.Seq)
	assert.True(t, env.Initial)
	assert.JSONEq(t, `{"kind":"pullback"}`, string(env.Data))
	assert.Equal(t, barTime.Format(time.RFC3339Nano), env.TS)
}

func TestHub_LatestAndSeries(t *testing.T) {
	h, _ := newTestHub(t)
	h.Publish(evaluation("SI=F", "1h", indicator.TrendFalling))
	h.Publish(evaluation("GC=F", "1d", indicator.TrendRising))
	h.Publish(evaluation("GC=F", "1h", indicator.TrendRising))
	h.Publish(evaluation("GC=F", "1h", indicator.TrendFalling))

	latest := h.Latest()
	require.Len(t, latest, 3)
	assert.Equal(t, "GC=F", latest[0].Symbol)
	assert.Equal(t, "1d", latest[0].Interval)
	assert.Equal(t, "1h", latest[1].Interval)
	assert.Equal(t, indicator.TrendFalling, latest[1].Trend)
	assert.Equal(t, "SI=F", latest[2].Symbol)

	ev, ok := h.Series(model.SeriesKey{Symbol: "GC=F", Interval: "1h"})
	require.True(t, ok)
	assert.Len(t, ev.Rows, 1)
	_, ok = h.Series(model.SeriesKey{Symbol: "CL=F", Interval: "1h"})
	assert.False(t, ok)
}

func TestHandler_REST(t *testing.T) {
	h, _ := newTestHub(t)
	h.Publish(evaluation("GC=F", "1h", indicator.TrendRising))
	h.history.Push(
		alert.Notification{ID: "a", Kind: alert.KindPullback, Symbol: "GC=F", Interval: "1h"},
		alert.Notification{ID: "b", Kind: alert.KindTrendReversal, Symbol: "GC=F", Interval: "1h"},
	)
	h.memory.Update(model.SeriesKey{Symbol: "GC=F", Interval: "1h"}, func(indicator.Trend, bool) indicator.Trend {
		return indicator.TrendRising
	})

	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	get := func(path string) (*http.Response, []byte) {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp, body
	}

	resp, body := get("/api/latest")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	var latest []engine.Summary
	require.NoError(t, json.Unmarshal(body, &latest))
	require.Len(t, latest, 1)
	assert.Equal(t, 10.5, latest[0].Price)

	resp, _ = get("/api/series?symbol=GC%3DF")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = get("/api/series?symbol=CL%3DF&interval=1h")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, body = get("/api/series?symbol=GC%3DF&interval=1h")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"sma_fast":10.4`)

	_, body = get("/api/alerts?limit=1")
	var alerts []alert.Notification
	require.NoError(t, json.Unmarshal(body, &alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, "b", alerts[0].ID)

	_, body = get("/api/memory")
	assert.JSONEq(t, `{"GC=F@1h":"rising"}`, string(body))

	resp, err := http.Post(srv.URL+"/api/memory/reset", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, h.memory.Len())

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/memory/reset", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

// readEnvelopes reads frames until want envelopes arrived. Frames may carry
// several newline-separated envelopes.
func readEnvelopes(t *testing.T, conn *websocket.Conn, want int) []envelope {
	t.Helper()
	var out []envelope
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for len(out) < want {
		_, frame, err := conn.ReadMessage()
		require.NoError(t, err)
		for _, line := range bytes.Split(frame, []byte{'\n'}) {
			var env envelope
			require.NoError(t, json.Unmarshal(line, &env), string(line))
			out = append(out, env)
		}
	}
	return out
}

func TestHub_WebSocketStream(t *testing.T) {
	h, m := newTestHub(t)
	h.Publish(evaluation("GC=F", "1h", indicator.TrendRising))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in := make(chan engine.Evaluation)
	go h.Run(ctx, in)

	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	initial := readEnvelopes(t, conn, 1)
	assert.Equal(t, "evaluation", initial[0].Type)
	assert.Equal(t, "GC=F@1h", initial[0].Key)
	assert.True(t, initial[0].Initial)

	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WSClients))

	note := alert.Notification{ID: "n1", Kind: alert.KindTrendReversal, Symbol: "GC=F", Interval: "1h",
		PreviousTrend: indicator.TrendRising, Trend: indicator.TrendFalling}
	in <- evaluation("GC=F", "1h", indicator.TrendFalling, note)

	got := readEnvelopes(t, conn, 2)
	assert.Equal(t, "evaluation", got[0].Type)
	assert.False(t, got[0].Initial)
	assert.Equal(t, "alert", got[1].Type)
	assert.Contains(t, string(got[1].Data), `"trend_reversal"`)
	assert.Greater(t, got[1].Seq, got[0].Seq)
}

func TestHub_SubscribeFiltersAndPing(t *testing.T) {
	h, _ := newTestHub(t)
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "SUBSCRIBE", "symbol": "SI=F", "interval": "1h"}))
	require.NoError(t, conn.WriteJSON(map[string]int64{"ping": 7}))

	var pong struct {
		Type string `json:"type"`
		Ping int64  `json:"ping"`
	}
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, "pong", pong.Type)
	assert.Equal(t, int64(7), pong.Ping)

	// the subscription is registered before the pong is queued
	h.Publish(evaluation("GC=F", "1h", indicator.TrendRising))
	h.Publish(evaluation("SI=F", "1h", indicator.TrendFalling))

	got := readEnvelopes(t, conn, 1)
	require.Len(t, got, 1)
	assert.Equal(t, "SI=F@1h", got[0].Key)
}

func TestHub_RunClosesClientsOnShutdown(t *testing.T) {
	h, m := newTestHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx, make(chan engine.Evaluation))
		close(done)
	}()

	srv := httptest.NewServer(h.Handler())
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, 0, h.ClientCount())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.WSClients))

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}
