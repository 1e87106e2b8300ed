// cmd/sigcheck evaluates a single series once and prints the evaluation as
// JSON. It can also copy the loaded bars into SQLite or a Parquet directory.
//
// Usage:
//
//	go run ./cmd/sigcheck --symbol=GC=F --interval=1h --lookback=5d
//	go run ./cmd/sigcheck --source=parquet --parquet-dir=data/parquet --symbol=BTC-USD --interval=1d --import-db=data/bars.db
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"trendwatch/config"
	"trendwatch/internal/alert"
	"trendwatch/internal/engine"
	"trendwatch/internal/indicator"
	"trendwatch/internal/logger"
	"trendwatch/internal/metrics"
	"trendwatch/internal/model"
	parquetsource "trendwatch/internal/source/parquet"
	"trendwatch/internal/source/yahoo"
	sqlitestore "trendwatch/internal/store/sqlite"
)

func main() {
	def := indicator.DefaultParams()

	symbol := flag.String("symbol", "GC=F", "Instrument symbol")
	interval := flag.String("interval", "1h", "Bar interval (e.g. 1h, 1d)")
	lookback := flag.String("lookback", "5d", "Lookback window (e.g. 5d, 1mo, max)")
	src := flag.String("source", config.SourceYahoo, "Bar source: yahoo, sqlite or parquet")
	yahooURL := flag.String("yahoo-url", yahoo.DefaultBaseURL, "Chart API base URL")
	dbPath := flag.String("db", "data/bars.db", "SQLite database (sqlite source)")
	parquetDir := flag.String("parquet-dir", "data/parquet", "Parquet directory (parquet source)")
	importDB := flag.String("import-db", "", "Copy the loaded bars into this SQLite database")
	exportParquet := flag.String("export-parquet", "", "Copy the loaded bars into this Parquet directory")
	fast := flag.Int("fast", def.FastWindow, "Fast SMA window")
	slow := flag.Int("slow", def.SlowWindow, "Slow SMA window")
	volWindow := flag.Int("volume-window", def.VolumeWindow, "Volume average window")
	threshold := flag.Float64("threshold", def.StrengthThreshold, "Strong-signal strength threshold (percent)")
	full := flag.Bool("full", false, "Print every row and Heikin-Ashi candle instead of the summary")
	watchlistPath := flag.String("watchlist", "", "Watch list TOML used to resolve display names (default: built-in list)")
	logLevel := flag.String("log-level", "warn", "Log level")
	flag.Parse()

	log := logger.New(os.Stderr, "sigcheck", "text", logger.ParseLevel(*logLevel))

	params := indicator.Params{
		FastWindow:        *fast,
		SlowWindow:        *slow,
		VolumeWindow:      *volWindow,
		StrengthThreshold: *threshold,
	}
	if err := params.Validate(); err != nil {
		fatal(log, "invalid parameters", err)
	}

	inst := model.Instrument{Name: *symbol, Symbol: *symbol}
	if wl, err := config.LoadWatchlist(*watchlistPath); err != nil {
		log.Warn("watchlist not loaded, using the symbol as name", "error", err)
	} else if known, ok := wl.Find(*symbol); ok {
		inst = known
	}
	tf := model.Timeframe{Interval: *interval, Lookback: *lookback}
	if _, err := model.ParseLookback(tf.Lookback); err != nil {
		fatal(log, "invalid lookback", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	source, closeSrc, err := openSource(*src, *yahooURL, *dbPath, *parquetDir, log)
	if err != nil {
		fatal(log, "open source", err)
	}
	defer closeSrc()

	series, err := source.Fetch(ctx, inst, tf)
	if err != nil {
		fatal(log, "fetch", err)
	}
	log.Info("loaded bars", "symbol", inst.Symbol, "interval", tf.Interval, "bars", len(series))

	if *importDB != "" {
		store, err := sqlitestore.New(sqlitestore.Config{DBPath: *importDB}, log)
		if err != nil {
			fatal(log, "open import db", err)
		}
		fresh := series
		last, archived, err := store.LastTimestamp(ctx, inst.Symbol, tf.Interval)
		if err == nil && archived {
			fresh = series.Since(last)
		}
		if err == nil {
			err = store.UpsertBars(ctx, inst.Symbol, tf.Interval, fresh)
		}
		store.Close()
		if err != nil {
			fatal(log, "import", err)
		}
		fmt.Fprintf(os.Stderr, "imported %d bars into %s (%d already archived)\n",
			len(fresh), *importDB, len(series)-len(fresh))
	}
	if *exportParquet != "" {
		pq := parquetsource.New(*exportParquet)
		if err := pq.UpsertBars(ctx, inst.Symbol, tf.Interval, series); err != nil {
			fatal(log, "export", err)
		}
		fmt.Fprintf(os.Stderr, "exported %d bars to %s\n", len(series), pq.Path(inst.Symbol, tf.Interval))
	}

	eng := engine.New(engine.Config{
		Indicator:      params,
		PullbackAlerts: true,
		Concurrency:    1,
		SourceName:     *src,
	}, source, alert.NewMachine(nil), metrics.NewMetrics(prometheus.NewRegistry()), log)
	ev := eng.Evaluate(time.Now().UTC(), inst, tf, series)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	var out any = ev.Summary()
	if *full {
		out = ev
	}
	if err := enc.Encode(out); err != nil {
		fatal(log, "encode", err)
	}
	if ev.Status != engine.StatusOK {
		os.Exit(2)
	}
}

func openSource(name, yahooURL, dbPath, parquetDir string, log *slog.Logger) (model.BarSource, func(), error) {
	noop := func() {}
	switch name {
	case config.SourceYahoo:
		return yahoo.NewClient(yahooURL, yahoo.Options{}), noop, nil
	case config.SourceSQLite:
		store, err := sqlitestore.New(sqlitestore.Config{DBPath: dbPath}, log)
		if err != nil {
			return nil, noop, err
		}
		return store, func() { store.Close() }, nil
	case config.SourceParquet:
		return parquetsource.New(parquetDir), noop, nil
	}
	return nil, noop, fmt.Errorf("unknown source %q", name)
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "error", err)
	os.Exit(1)
}
