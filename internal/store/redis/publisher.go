// Package redis publishes evaluations to Redis Pub/Sub and keeps the latest
// summary per series under a TTL key.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"trendwatch/internal/engine"
	"trendwatch/internal/metrics"
	"trendwatch/internal/model"
)

const (
	defaultPrefix    = "trendwatch"
	defaultLatestTTL = 30 * time.Minute
)

// Config configures the Redis publisher.
type Config struct {
	Addr      string // e.g. "localhost:6379"
	Password  string
	DB        int
	Prefix    string        // key/channel prefix, default "trendwatch"
	LatestTTL time.Duration // default 30m
}

// Publisher writes evaluation summaries and alerts to Redis through a
// circuit breaker. While the breaker is open the newest summary per series
// is held back and written once Redis recovers.
type Publisher struct {
	client  *goredis.Client
	cb      *CircuitBreaker
	cfg     Config
	metrics *metrics.Metrics
	log     *slog.Logger

	// writeMu orders live writes against the recovery flush so a held
	// summary never lands after a newer one for the same key.
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[model.SeriesKey][]byte
}

// New connects to Redis and pings it.
func New(ctx context.Context, cfg Config, m *metrics.Metrics, log *slog.Logger) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	p := NewWithClient(client, cfg, m, log)
	p.log.Info("connected", "addr", cfg.Addr)
	return p, nil
}

// NewWithClient wraps an existing client. m may be nil.
func NewWithClient(client *goredis.Client, cfg Config, m *metrics.Metrics, log *slog.Logger) *Publisher {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.LatestTTL <= 0 {
		cfg.LatestTTL = defaultLatestTTL
	}

	p := &Publisher{
		client:  client,
		cb:      NewCircuitBreaker(5, 10*time.Second),
		cfg:     cfg,
		metrics: m,
		log:     log.With("component", "redis"),
		pending: make(map[model.SeriesKey][]byte),
	}
	p.cb.OnStateChange = func(from, to State) {
		p.log.Warn("circuit breaker", "from", from.String(), "to", to.String())
		if p.metrics != nil {
			p.metrics.RedisCircuitBreakerState.Set(float64(to))
			if to == StateOpen {
				p.metrics.RedisCircuitBreakerTrips.Inc()
			}
		}
		if to == StateClosed {
			go p.flush(context.Background())
		}
	}
	return p
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Close closes the client.
func (p *Publisher) Close() error { return p.client.Close() }

// EvalChannel is the Pub/Sub channel carrying summaries for key.
func (p *Publisher) EvalChannel(key model.SeriesKey) string {
	return p.cfg.Prefix + ":eval:" + key.Interval + ":" + key.Symbol
}

// LatestKey holds the newest summary for key.
func (p *Publisher) LatestKey(key model.SeriesKey) string {
	return p.cfg.Prefix + ":latest:" + key.Interval + ":" + key.Symbol
}

// AlertsChannel carries every notification as JSON.
func (p *Publisher) AlertsChannel() string {
	return p.cfg.Prefix + ":alerts"
}

// Publish writes the evaluation summary and its notifications in a single
// pipeline. It returns ErrCircuitOpen while Redis is considered down.
func (p *Publisher) Publish(ctx context.Context, ev engine.Evaluation) error {
	summary, err := json.Marshal(ev.Summary())
	if err != nil {
		return fmt.Errorf("redis: marshal summary: %w", err)
	}
	alerts := make([][]byte, 0, len(ev.Notifications))
	for _, n := range ev.Notifications {
		data, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("redis: marshal notification: %w", err)
		}
		alerts = append(alerts, data)
	}

	key := ev.Key()
	err = p.cb.Execute(func() error {
		p.writeMu.Lock()
		defer p.writeMu.Unlock()
		if err := p.write(ctx, key, summary, alerts); err != nil {
			return err
		}
		p.mu.Lock()
		delete(p.pending, key)
		p.mu.Unlock()
		return nil
	})
	if errors.Is(err, ErrCircuitOpen) {
		p.hold(key, summary)
		if p.metrics != nil {
			p.metrics.RedisDroppedPublishes.Inc()
		}
	}
	return err
}

func (p *Publisher) write(ctx context.Context, key model.SeriesKey, summary []byte, alerts [][]byte) error {
	start := time.Now()
	pipe := p.client.Pipeline()
	pipe.Publish(ctx, p.EvalChannel(key), summary)
	pipe.Set(ctx, p.LatestKey(key), summary, p.cfg.LatestTTL)
	for _, a := range alerts {
		pipe.Publish(ctx, p.AlertsChannel(), a)
	}
	_, err := pipe.Exec(ctx)
	if p.metrics != nil {
		p.metrics.RedisPublishDur.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("redis publish %s: %w", key, err)
	}
	return nil
}

// hold keeps only the newest summary per key; older ones are superseded.
func (p *Publisher) hold(key model.SeriesKey, summary []byte) {
	p.mu.Lock()
	p.pending[key] = summary
	p.mu.Unlock()
}

// Pending returns the number of held-back summaries.
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// flush writes held-back summaries to their latest keys. Keys written live
// since they were held are no longer pending and are skipped.
func (p *Publisher) flush(ctx context.Context) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return
	}
	toFlush := p.pending
	p.pending = make(map[model.SeriesKey][]byte)
	p.mu.Unlock()

	pipe := p.client.Pipeline()
	for key, summary := range toFlush {
		pipe.Set(ctx, p.LatestKey(key), summary, p.cfg.LatestTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		p.log.Warn("flush of held summaries failed", "count", len(toFlush), "error", err)
		p.mu.Lock()
		for key, summary := range toFlush {
			if _, newer := p.pending[key]; !newer {
				p.pending[key] = summary
			}
		}
		p.mu.Unlock()
		return
	}
	p.log.Info("flushed held summaries", "count", len(toFlush))
}

// Latest reads the newest summary stored for key.
func (p *Publisher) Latest(ctx context.Context, key model.SeriesKey) (engine.Summary, bool, error) {
	data, err := p.client.Get(ctx, p.LatestKey(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return engine.Summary{}, false, nil
	}
	if err != nil {
		return engine.Summary{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var s engine.Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return engine.Summary{}, false, fmt.Errorf("redis decode %s: %w", key, err)
	}
	return s, true, nil
}

// Run publishes every evaluation read from in until it is closed or ctx is
// cancelled. Failures are logged and never block the stream.
func (p *Publisher) Run(ctx context.Context, in <-chan engine.Evaluation) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			if err := p.Publish(ctx, ev); err != nil && !errors.Is(err, ErrCircuitOpen) {
				p.log.Warn("publish failed", "symbol", ev.Symbol, "interval", ev.Interval, "error", err)
			}
		}
	}
}
