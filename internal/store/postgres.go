package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver

	"perpagg/pkg/types"
)

// Postgres implements ColdStore on a PostgreSQL database.
type Postgres struct {
	db *sqlx.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS candles (
	venue        TEXT        NOT NULL,
	symbol       TEXT        NOT NULL,
	timeframe    TEXT        NOT NULL,
	bucket_ts    BIGINT      NOT NULL,
	open         NUMERIC     NOT NULL,
	high         NUMERIC     NOT NULL,
	low          NUMERIC     NOT NULL,
	close        NUMERIC     NOT NULL,
	volume       NUMERIC     NOT NULL,
	quote_volume NUMERIC     NOT NULL,
	trade_count  BIGINT      NOT NULL,
	vwap         NUMERIC     NOT NULL,
	PRIMARY KEY (venue, symbol, timeframe, bucket_ts)
);
CREATE INDEX IF NOT EXISTS candles_symbol_tf_ts
	ON candles (symbol, timeframe, bucket_ts);
`

// NewPostgres connects, verifies the connection, and ensures the schema.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Postgres{db: db}, nil
}

type candleRow struct {
	Venue       string `db:"venue"`
	Symbol      string `db:"symbol"`
	Timeframe   string `db:"timeframe"`
	BucketTS    int64  `db:"bucket_ts"`
	Open        string `db:"open"`
	High        string `db:"high"`
	Low         string `db:"low"`
	Close       string `db:"close"`
	Volume      string `db:"volume"`
	QuoteVolume string `db:"quote_volume"`
	TradeCount  int64  `db:"trade_count"`
	VWAP        string `db:"vwap"`
}

func toRow(c types.Candle) candleRow {
	return candleRow{
		Venue:       string(c.Venue),
		Symbol:      c.Symbol,
		Timeframe:   string(c.Timeframe),
		BucketTS:    c.Timestamp,
		Open:        c.Open,
		High:        c.High,
		Low:         c.Low,
		Close:       c.Close,
		Volume:      c.Volume,
		QuoteVolume: c.QuoteVolume,
		TradeCount:  c.TradeCount,
		VWAP:        c.VWAP,
	}
}

func (r candleRow) candle() types.Candle {
	return types.Candle{
		Venue:       types.Venue(r.Venue),
		Symbol:      r.Symbol,
		Timeframe:   types.Timeframe(r.Timeframe),
		Timestamp:   r.BucketTS,
		Open:        r.Open,
		High:        r.High,
		Low:         r.Low,
		Close:       r.Close,
		Volume:      r.Volume,
		QuoteVolume: r.QuoteVolume,
		TradeCount:  r.TradeCount,
		VWAP:        r.VWAP,
	}
}

const insertCandle = `
INSERT INTO candles
	(venue, symbol, timeframe, bucket_ts, open, high, low, close, volume, quote_volume, trade_count, vwap)
VALUES
	(:venue, :symbol, :timeframe, :bucket_ts, :open, :high, :low, :close, :volume, :quote_volume, :trade_count, :vwap)
ON CONFLICT (venue, symbol, timeframe, bucket_ts) DO UPDATE SET
	open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
	close = EXCLUDED.close, volume = EXCLUDED.volume,
	quote_volume = EXCLUDED.quote_volume, trade_count = EXCLUDED.trade_count,
	vwap = EXCLUDED.vwap`

func (p *Postgres) InsertCandles(ctx context.Context, candles []types.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	rows := make([]candleRow, 0, len(candles))
	for _, c := range candles {
		rows = append(rows, toRow(c))
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if _, err := tx.NamedExecContext(ctx, insertCandle, rows); err != nil {
		tx.Rollback()
		return fmt.Errorf("insert candles: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// candlesQuery builds the filtered SELECT with positional args.
func candlesQuery(venue types.Venue, symbol string, tf types.Timeframe, from, to time.Time, limit int) (string, []interface{}) {
	query := `SELECT venue, symbol, timeframe, bucket_ts, open, high, low, close,
		volume, quote_volume, trade_count, vwap
	FROM candles
	WHERE venue = $1 AND symbol = $2 AND timeframe = $3`
	args := []interface{}{string(venue), symbol, string(tf)}

	if !from.IsZero() {
		args = append(args, from.UnixMilli())
		query += fmt.Sprintf(" AND bucket_ts >= $%d", len(args))
	}
	if !to.IsZero() {
		args = append(args, to.UnixMilli())
		query += fmt.Sprintf(" AND bucket_ts <= $%d", len(args))
	}
	query += " ORDER BY bucket_ts ASC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

func (p *Postgres) Candles(ctx context.Context, venue types.Venue, symbol string, tf types.Timeframe, from, to time.Time, limit int) ([]types.Candle, error) {
	query, args := candlesQuery(venue, symbol, tf, from, to, limit)

	var rows []candleRow
	if err := p.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select candles: %w", err)
	}

	out := make([]types.Candle, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.candle())
	}
	return out, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
