package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mtrade/internal/domain"
	"mtrade/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Store implements ports.DataSource over a local SQLite database of klines.
// Each Store is pinned to a single symbol; the table itself can hold many.
type Store struct {
	db     *sql.DB
	logger ports.Logger
	symbol string
}

// Config holds configuration for the SQLite bar store.
type Config struct {
	DBPath string
	Symbol string
	Logger ports.Logger
}

// NewStore creates a new SQLite bar store instance.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite bar store")
	}
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("symbol is required for SQLite bar store")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/market.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite bar store initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite bar store initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite bar store initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally, but the Go driver benefits
	// from limiting connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	store := &Store{db: db, logger: cfg.Logger, symbol: cfg.Symbol}

	if err := store.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite bar store initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite bar store ready", map[string]interface{}{"path": dbPath, "symbol": cfg.Symbol})

	return store, nil
}

// initializeSchema creates tables if they don't exist.
func (s *Store) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS klines (
		symbol     TEXT    NOT NULL,
		open_time  INTEGER NOT NULL,
		close_time INTEGER NOT NULL,
		open       REAL    NOT NULL,
		high       REAL    NOT NULL,
		low        REAL    NOT NULL,
		close      REAL    NOT NULL,
		volume     REAL    NOT NULL,
		trades     INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (symbol, open_time)
	);
	CREATE INDEX IF NOT EXISTS idx_klines_symbol_close_time ON klines (symbol, close_time);
	`
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		s.logger.Info(context.Background(), "Closing SQLite bar store")
		return s.db.Close()
	}
	return nil
}

// InsertBars writes a batch of bars, replacing rows that share an open time.
// Re-ingesting an overlapping range is therefore idempotent.
func (s *Store) InsertBars(ctx context.Context, bars []domain.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin insert transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
	INSERT OR REPLACE INTO klines (symbol, open_time, close_time, open, high, low, close, volume, trades)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer stmt.Close()

	for _, bar := range bars {
		_, err := stmt.ExecContext(ctx,
			s.symbol, bar.OpenTime.UnixMilli(), bar.CloseTime.UnixMilli(),
			bar.Open, bar.High, bar.Low, bar.Close, bar.Volume, bar.Trades)
		if err != nil {
			return 0, fmt.Errorf("failed to insert bar at %s: %w", bar.OpenTime.Format(time.RFC3339), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit insert transaction: %w", err)
	}
	s.logger.Debug(ctx, "Bars inserted", map[string]interface{}{"symbol": s.symbol, "count": len(bars)})
	return len(bars), nil
}

// FetchRange returns all stored bars with open time in [start, end), ordered ascending.
func (s *Store) FetchRange(ctx context.Context, start, end time.Time) ([]domain.Bar, error) {
	if !start.Before(end) {
		return nil, fmt.Errorf("fetch range for %s: %w", s.symbol, ports.ErrInvalidRange)
	}

	const query = `
	SELECT open_time, close_time, open, high, low, close, volume, trades
	FROM klines
	WHERE symbol = ? AND open_time >= ? AND open_time < ?
	ORDER BY open_time ASC`

	rows, err := s.db.QueryContext(ctx, query, s.symbol, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query bars for symbol %s: %w", s.symbol, err)
	}
	defer rows.Close()

	bars, err := scanBars(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan bars for symbol %s: %w", s.symbol, err)
	}
	if len(bars) == 0 {
		return nil, &ports.DataGapError{Start: start, End: end}
	}
	return bars, nil
}

// LatestWindow returns the most recent n bars in ascending order.
func (s *Store) LatestWindow(ctx context.Context, n int) ([]domain.Bar, error) {
	if n <= 0 {
		return nil, fmt.Errorf("latest window for %s: window size must be positive: %w", s.symbol, ports.ErrInvalidRequest)
	}

	const query = `
	SELECT open_time, close_time, open, high, low, close, volume, trades
	FROM klines
	WHERE symbol = ?
	ORDER BY open_time DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, s.symbol, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest bars for symbol %s: %w", s.symbol, err)
	}
	defer rows.Close()

	bars, err := scanBars(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan latest bars for symbol %s: %w", s.symbol, err)
	}

	// Rows come back newest first; callers expect chronological order.
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

// DetectGaps scans stored open times in [start, end) and reports every span
// where consecutive bars are more than one interval apart.
func (s *Store) DetectGaps(ctx context.Context, start, end time.Time, interval time.Duration) ([]ports.DataGapError, error) {
	if !start.Before(end) {
		return nil, fmt.Errorf("detect gaps for %s: %w", s.symbol, ports.ErrInvalidRange)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("detect gaps for %s: interval must be positive: %w", s.symbol, ports.ErrInvalidRequest)
	}

	const query = `
	SELECT open_time FROM klines
	WHERE symbol = ? AND open_time >= ? AND open_time < ?
	ORDER BY open_time ASC`

	rows, err := s.db.QueryContext(ctx, query, s.symbol, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query open times for symbol %s: %w", s.symbol, err)
	}
	defer rows.Close()

	var gaps []ports.DataGapError
	var prev int64
	first := true
	for rows.Next() {
		var openTime int64
		if err := rows.Scan(&openTime); err != nil {
			return nil, fmt.Errorf("failed to scan open time for symbol %s: %w", s.symbol, err)
		}
		if !first && openTime-prev > interval.Milliseconds() {
			gaps = append(gaps, ports.DataGapError{
				Start: time.UnixMilli(prev + interval.Milliseconds()).UTC(),
				End:   time.UnixMilli(openTime).UTC(),
			})
		}
		prev = openTime
		first = false
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating open times for symbol %s: %w", s.symbol, err)
	}
	if first {
		// Nothing stored in the range at all.
		gaps = append(gaps, ports.DataGapError{Start: start, End: end})
	}
	return gaps, nil
}

// scanBars drains a result set into a slice of bars.
func scanBars(rows *sql.Rows) ([]domain.Bar, error) {
	bars := make([]domain.Bar, 0)
	for rows.Next() {
		var bar domain.Bar
		var openTime, closeTime int64
		err := rows.Scan(&openTime, &closeTime, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume, &bar.Trades)
		if err != nil {
			return nil, err
		}
		bar.OpenTime = time.UnixMilli(openTime).UTC()
		bar.CloseTime = time.UnixMilli(closeTime).UTC()
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bars, nil
}
