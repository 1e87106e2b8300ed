// cmd/trendwatch evaluates the watch list on a fixed cadence and fans every
// evaluation out to the notifiers, Redis and the dashboard gateway.
//
// Usage:
//
//	BAR_SOURCE=yahoo WATCHLIST_PATH=config/watchlist.toml go run ./cmd/trendwatch
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"trendwatch/config"
	"trendwatch/internal/alert"
	"trendwatch/internal/bus"
	"trendwatch/internal/engine"
	"trendwatch/internal/gateway"
	"trendwatch/internal/logger"
	"trendwatch/internal/metrics"
	"trendwatch/internal/model"
	"trendwatch/internal/notification"
	"trendwatch/internal/source"
	parquetsource "trendwatch/internal/source/parquet"
	"trendwatch/internal/source/yahoo"
	redisstore "trendwatch/internal/store/redis"
	sqlitestore "trendwatch/internal/store/sqlite"
)

func main() {
	cfg := config.Load()
	log := logger.New(os.Stdout, "trendwatch", cfg.LogFormat, logger.ParseLevel(cfg.LogLevel))
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	watchlist, err := config.LoadWatchlist(cfg.WatchlistPath)
	if err != nil {
		log.Error("watchlist", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, cfg, watchlist, log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, watchlist model.Watchlist, log *slog.Logger) error {
	// ---- Metrics + health ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus(cfg.BarSource, 3*cfg.CycleInterval)

	if cfg.MetricsAddr != "" {
		metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, reg, log)
		metricsSrv.Start()
		defer stop(metricsSrv.Stop)
	}

	// ---- Bar source ----
	var sqlDB *sql.DB
	src, closeSrc, err := openSource(cfg, prom, log, &sqlDB)
	if err != nil {
		return err
	}
	defer closeSrc()
	health.SetSQLiteEnabled(sqlDB != nil)

	// ---- Redis (optional) ----
	var publisher *redisstore.Publisher
	if cfg.RedisAddr != "" {
		health.SetRedisEnabled(true)
		publisher, err = redisstore.New(ctx, redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, prom, log)
		if err != nil {
			log.Warn("redis init failed, continuing without redis", "error", err)
		} else {
			defer publisher.Close()
		}
	}

	var rdb *goredis.Client
	if publisher != nil {
		rdb = publisher.Client()
	}
	health.StartLivenessChecker(ctx, rdb, sqlDB, 10*time.Second)

	// ---- Engine ----
	machine := alert.NewMachine(alert.NewMemory())
	history := alert.NewHistory(cfg.AlertHistory)
	eng := engine.New(engine.Config{
		Indicator:      cfg.Indicator,
		PullbackAlerts: cfg.PullbackAlerts,
		Concurrency:    cfg.Concurrency,
		SourceName:     cfg.BarSource,
	}, src, machine, prom, log)
	eng.SetHealth(health)

	// ---- Notifiers ----
	channels := []notification.Channel{{Name: "log", Notifier: notification.NewLogNotifier(log)}}
	if cfg.TelegramBotToken != "" {
		channels = append(channels, notification.Channel{
			Name:     "telegram",
			Notifier: notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID, log),
		})
	}
	if cfg.WebhookURL != "" {
		channels = append(channels, notification.Channel{
			Name:     "webhook",
			Notifier: notification.NewWebhookNotifier(cfg.WebhookURL, log),
		})
	}
	notifier := notification.NewMulti(prom, log, channels...)

	// ---- Fan-out: engine -> {relay, redis, gateway} ----
	pairs := len(watchlist.Pairs())
	evalCh := make(chan engine.Evaluation, 2*pairs)
	fanout := bus.New[engine.Evaluation](4 * pairs)

	var names []string
	subscribe := func(name string) <-chan engine.Evaluation {
		names = append(names, name)
		return fanout.Subscribe()
	}
	fanout.OnDrop = func(i int) {
		prom.FanoutDropsTotal.WithLabelValues(names[i]).Inc()
	}

	var wg sync.WaitGroup
	spawn := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	relayIn := subscribe("relay")
	spawn(func() { notification.Relay(ctx, notifier, relayIn, history, log) })

	if publisher != nil {
		redisIn := subscribe("redis")
		spawn(func() { publisher.Run(ctx, redisIn) })
	}

	if cfg.GatewayAddr != "" {
		hub := gateway.NewHub(history, machine.Memory(), prom, log)
		hubIn := subscribe("gateway")
		spawn(func() { hub.Run(ctx, hubIn) })
		gw := gateway.NewServer(cfg.GatewayAddr, hub)
		gw.Start()
		defer stop(gw.Stop)
	}

	spawn(func() { fanout.Run(ctx, evalCh) })
	spawn(func() { sampleSaturation(ctx, fanout, names, prom) })

	log.Info("trendwatch started",
		"source", cfg.BarSource,
		"instruments", len(watchlist.Instruments),
		"timeframes", len(watchlist.Timeframes),
		"every", cfg.CycleInterval,
		"notifiers", notifier.Len(),
		"redis", publisher != nil,
		"gateway", cfg.GatewayAddr,
	)

	eng.Run(ctx, watchlist, cfg.CycleInterval, evalCh)
	wg.Wait()
	log.Info("trendwatch stopped")
	return nil
}

// openSource builds the configured bar source. sqlDB is set when the source
// (or the archive) is backed by SQLite.
func openSource(cfg *config.Config, prom *metrics.Metrics, log *slog.Logger, sqlDB **sql.DB) (model.BarSource, func(), error) {
	noop := func() {}
	switch cfg.BarSource {
	case config.SourceYahoo:
		client := yahoo.NewClient(cfg.YahooBaseURL, yahoo.Options{})
		if !cfg.ArchiveBars {
			return client, noop, nil
		}
		store, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath, Metrics: prom}, log)
		if err != nil {
			return nil, noop, fmt.Errorf("archive store: %w", err)
		}
		*sqlDB = store.DB()
		return source.NewArchive(client, store, log), func() { store.Close() }, nil

	case config.SourceSQLite:
		store, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath, Metrics: prom}, log)
		if err != nil {
			return nil, noop, fmt.Errorf("sqlite source: %w", err)
		}
		*sqlDB = store.DB()
		return store, func() { store.Close() }, nil

	case config.SourceParquet:
		return parquetsource.New(cfg.ParquetDir), noop, nil
	}
	return nil, noop, fmt.Errorf("unknown bar source %q", cfg.BarSource)
}

// sampleSaturation reports fan-out channel fill levels every 5s.
func sampleSaturation(ctx context.Context, fanout *bus.FanOut[engine.Evaluation], names []string, prom *metrics.Metrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i, s := range fanout.ChannelStats() {
				if s.Cap > 0 && i < len(names) {
					prom.ChannelSaturationPct.WithLabelValues("fanout_" + names[i]).Set(float64(s.Len) / float64(s.Cap) * 100)
				}
			}
		}
	}
}

func stop(fn func(context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	fn(ctx)
}
