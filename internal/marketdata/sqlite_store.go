package marketdata

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"stratlab/internal/logger"
	"stratlab/internal/market"
)

var _ CandleStore = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS candles (
	open_time  INTEGER PRIMARY KEY,
	close_time INTEGER NOT NULL,
	open       REAL    NOT NULL,
	high       REAL    NOT NULL,
	low        REAL    NOT NULL,
	close      REAL    NOT NULL,
	volume     REAL    NOT NULL,
	trades     INTEGER NOT NULL DEFAULT 0,
	synced_at  INTEGER NOT NULL
)`

// SQLiteStore 每个 symbol@timeframe 一个 sqlite 文件：<root>/<SYMBOL>/<tf>.db。
type SQLiteStore struct {
	root string

	mu    sync.Mutex
	files map[string]*sqliteFile
}

type sqliteFile struct {
	db   *sql.DB
	path string
	sym  string
	tf   string
}

func NewSQLiteStore(root string) (*SQLiteStore, error) {
	if root == "" {
		return nil, fmt.Errorf("candle root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &SQLiteStore{root: root, files: make(map[string]*sqliteFile)}, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for key, f := range s.files {
		if err := f.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.files, key)
	}
	return firstErr
}

// open 返回缓存的连接，首次访问时建目录与表。
func (s *SQLiteStore) open(symbol, timeframe string) (*sqliteFile, error) {
	sym, tf, err := normKey(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	key := sym + "@" + tf
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.files[key]; ok {
		return f, nil
	}
	path := filepath.Join(s.root, sym, tf+".db")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init %s: %w", path, err)
	}
	logger.Debugf("[store] sqlite candle file opened %s", path)
	f := &sqliteFile{db: db, path: path, sym: sym, tf: tf}
	s.files[key] = f
	return f, nil
}

func (s *SQLiteStore) InsertCandles(ctx context.Context, symbol, timeframe string, candles []market.Candle) (int, error) {
	f, err := s.open(symbol, timeframe)
	if err != nil || len(candles) == 0 {
		return 0, err
	}
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx, dialectSQLite.upsertSQL())
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	now := time.Now().UnixMilli()
	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, dialectSQLite.upsertArgs(f.sym, f.tf, c, now)...); err != nil {
			return 0, fmt.Errorf("upsert candles %s@%s: %w", f.sym, f.tf, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(candles), nil
}

func (s *SQLiteStore) LoadOpenTimes(ctx context.Context, symbol, timeframe string, start, end int64) ([]int64, error) {
	f, err := s.open(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	query, args := newCandleSQL(dialectSQLite, f.sym, f.tf).between(start, end).query("open_time", false, 0)
	rows, err := f.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RangeCandles(ctx context.Context, symbol, timeframe string, start, end int64) ([]market.Candle, error) {
	f, err := s.open(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	return f.candles(ctx, newCandleSQL(dialectSQLite, f.sym, f.tf).between(start, end), false, 0)
}

func (s *SQLiteStore) QueryCandles(ctx context.Context, symbol, timeframe string, start, end int64, limit int) ([]market.Candle, error) {
	f, err := s.open(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	q := newCandleSQL(dialectSQLite, f.sym, f.tf)
	latest := q.window(start, end)
	list, err := f.candles(ctx, q, latest, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	if latest {
		reverseCandles(list)
	}
	return list, nil
}

func (s *SQLiteStore) Manifest(ctx context.Context, symbol, timeframe string) (Manifest, error) {
	f, err := s.open(symbol, timeframe)
	if err != nil {
		return Manifest{}, err
	}
	m := Manifest{Symbol: f.sym, Timeframe: f.tf, Path: f.path}
	query, args := newCandleSQL(dialectSQLite, f.sym, f.tf).manifest()
	if err := f.db.QueryRowContext(ctx, query, args...).Scan(manifestDest(&m)...); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func (f *sqliteFile) candles(ctx context.Context, q *candleSQL, desc bool, limit int) ([]market.Candle, error) {
	query, args := q.query(candleColumns, desc, limit)
	rows, err := f.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []market.Candle
	for rows.Next() {
		var c market.Candle
		if err := rows.Scan(candleDest(&c)...); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}
