// Package sqlite stores bar series in a local SQLite database and serves them
// back as a bar source.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"trendwatch/internal/metrics"
	"trendwatch/internal/model"
)

// Config configures the SQLite store.
type Config struct {
	DBPath  string           // path to SQLite database file, e.g. "data/bars.db"
	Metrics *metrics.Metrics // optional
}

// Store reads and writes the bars table.
type Store struct {
	db      *sql.DB
	metrics *metrics.Metrics
	log     *slog.Logger
}

// New opens the database in WAL mode and creates the schema.
func New(cfg Config, log *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log = log.With("component", "sqlite")
	log.Info("opened database", "path", cfg.DBPath)
	return &Store{db: db, metrics: cfg.Metrics, log: log}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol   TEXT    NOT NULL,
			interval TEXT    NOT NULL,
			ts       INTEGER NOT NULL,
			open     REAL    NOT NULL,
			high     REAL    NOT NULL,
			low      REAL    NOT NULL,
			close    REAL    NOT NULL,
			volume   REAL    NOT NULL DEFAULT 0,
			PRIMARY KEY (symbol, interval, ts)
		);
	`)
	return err
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// UpsertBars inserts or replaces bars in a single transaction.
func (s *Store) UpsertBars(ctx context.Context, symbol, interval string, bars model.BarSeries) error {
	if len(bars) == 0 {
		return nil
	}
	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (symbol, interval, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, symbol, interval, b.Time.Unix(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert %s@%s: %w", symbol, interval, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}
	if s.metrics != nil {
		s.metrics.SQLiteCommitDur.Observe(time.Since(start).Seconds())
	}
	s.log.Debug("committed bars", "symbol", symbol, "interval", interval, "count", len(bars), "took", time.Since(start))
	return nil
}

// Fetch returns the bars of inst on tf, ascending, limited to the lookback
// window measured back from the newest stored bar. An unknown series yields
// an empty result.
func (s *Store) Fetch(ctx context.Context, inst model.Instrument, tf model.Timeframe) (model.BarSeries, error) {
	lookback, err := model.ParseLookback(tf.Lookback)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM bars
		WHERE symbol = ? AND interval = ?
		  AND ts >= (
			SELECT COALESCE(MAX(ts), 0) - ? FROM bars WHERE symbol = ? AND interval = ?
		  )
		ORDER BY ts ASC
	`, inst.Symbol, tf.Interval, lookbackSeconds(lookback), inst.Symbol, tf.Interval)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var out model.BarSeries
	for rows.Next() {
		var b model.Bar
		var tsUnix int64
		if err := rows.Scan(&tsUnix, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		b.Time = time.Unix(tsUnix, 0).UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}

// lookbackSeconds maps an unbounded (zero) lookback to "everything".
func lookbackSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 1 << 62
	}
	return int64(d / time.Second)
}

// LastTimestamp returns the newest stored bar time for a series.
func (s *Store) LastTimestamp(ctx context.Context, symbol, interval string) (time.Time, bool, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM bars WHERE symbol = ? AND interval = ?`,
		symbol, interval,
	).Scan(&ts)
	if err != nil {
		return time.Time{}, false, err
	}
	if !ts.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(ts.Int64, 0).UTC(), true, nil
}
