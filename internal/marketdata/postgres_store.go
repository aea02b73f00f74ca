package marketdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stratlab/internal/logger"
	"stratlab/internal/market"
)

var _ CandleStore = (*PostgresStore)(nil)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS candles (
	symbol     TEXT             NOT NULL,
	timeframe  TEXT             NOT NULL,
	open_time  BIGINT           NOT NULL,
	close_time BIGINT           NOT NULL,
	open       DOUBLE PRECISION NOT NULL,
	high       DOUBLE PRECISION NOT NULL,
	low        DOUBLE PRECISION NOT NULL,
	close      DOUBLE PRECISION NOT NULL,
	volume     DOUBLE PRECISION NOT NULL,
	trades     BIGINT           NOT NULL DEFAULT 0,
	synced_at  BIGINT           NOT NULL,
	PRIMARY KEY (symbol, timeframe, open_time)
)`

// PostgresStore 把所有 K 线放在一张 candles 表里。
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	config.MaxConns = 10
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating candles table: %w", err)
	}
	logger.Infof("[store] postgres candle store ready max_conns=%d", config.MaxConns)
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresStore) InsertCandles(ctx context.Context, symbol, timeframe string, candles []market.Candle) (int, error) {
	sym, tf, err := normKey(symbol, timeframe)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, nil
	}
	now := time.Now().UnixMilli()
	upsert := dialectPostgres.upsertSQL()
	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(upsert, dialectPostgres.upsertArgs(sym, tf, c, now)...)
	}
	results := p.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range candles {
		if _, err := results.Exec(); err != nil {
			return 0, fmt.Errorf("upsert candles %s@%s: %w", sym, tf, err)
		}
	}
	return len(candles), nil
}

func (p *PostgresStore) LoadOpenTimes(ctx context.Context, symbol, timeframe string, start, end int64) ([]int64, error) {
	sym, tf, err := normKey(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	query, args := newCandleSQL(dialectPostgres, sym, tf).between(start, end).query("open_time", false, 0)
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (p *PostgresStore) RangeCandles(ctx context.Context, symbol, timeframe string, start, end int64) ([]market.Candle, error) {
	sym, tf, err := normKey(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	return p.candles(ctx, newCandleSQL(dialectPostgres, sym, tf).between(start, end), false, 0)
}

func (p *PostgresStore) QueryCandles(ctx context.Context, symbol, timeframe string, start, end int64, limit int) ([]market.Candle, error) {
	sym, tf, err := normKey(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	q := newCandleSQL(dialectPostgres, sym, tf)
	latest := q.window(start, end)
	out, err := p.candles(ctx, q, latest, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	if latest {
		reverseCandles(out)
	}
	return out, nil
}

func (p *PostgresStore) Manifest(ctx context.Context, symbol, timeframe string) (Manifest, error) {
	sym, tf, err := normKey(symbol, timeframe)
	if err != nil {
		return Manifest{}, err
	}
	m := Manifest{Symbol: sym, Timeframe: tf}
	query, args := newCandleSQL(dialectPostgres, sym, tf).manifest()
	if err := p.pool.QueryRow(ctx, query, args...).Scan(manifestDest(&m)...); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func (p *PostgresStore) candles(ctx context.Context, q *candleSQL, desc bool, limit int) ([]market.Candle, error) {
	query, args := q.query(candleColumns, desc, limit)
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (market.Candle, error) {
		var c market.Candle
		err := row.Scan(candleDest(&c)...)
		return c, err
	})
}
