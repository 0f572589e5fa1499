package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/models"
	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/repository"
	pkgch "github.com/VigneshwaranJheyaraman/charts-helper/pkg/clickhouse"
)

// ClickHouseCandleStore keeps finalized candles and serves them as history.
type ClickHouseCandleStore struct {
	db       *sql.DB
	database string
	table    string
}

// NewClickHouseCandleStore creates a store on the candles table of database.
func NewClickHouseCandleStore(db *sql.DB, database string) *ClickHouseCandleStore {
	return &ClickHouseCandleStore{
		db:       db,
		database: database,
		table:    fmt.Sprintf("%s.%s", database, pkgch.CandlesTable),
	}
}

// Init creates the database and table when missing.
func (s *ClickHouseCandleStore) Init(ctx context.Context) error {
	for _, stmt := range pkgch.CandleSchema(s.database) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init candles schema: %w", err)
		}
	}
	return nil
}

func (s *ClickHouseCandleStore) SaveCandle(ctx context.Context, ticker string, res models.Resolution, c models.Candle) error {
	if !c.HasDate() {
		return fmt.Errorf("save candle %s: date missing", ticker)
	}
	q := fmt.Sprintf("INSERT INTO %s (ticker, resolution, ts, open, high, low, close, volume) VALUES (?, ?, ?, ?, ?, ?, ?, ?)", s.table)
	_, err := s.db.ExecContext(ctx, q,
		ticker,
		res.Token,
		c.Date.UTC(),
		c.Open,
		c.High,
		c.Low,
		c.Close,
		c.Volume,
	)
	if err != nil {
		return fmt.Errorf("save candle %s: %w", ticker, err)
	}
	return nil
}

// FetchCandles reads stored candles in [From, To], oldest first.
func (s *ClickHouseCandleStore) FetchCandles(ctx context.Context, req repository.FetchRequest) ([]models.Candle, error) {
	q := fmt.Sprintf("SELECT ts, open, high, low, close, volume FROM %s FINAL WHERE ticker = ? AND resolution = ? AND ts >= ? AND ts <= ? ORDER BY ts ASC", s.table)
	rows, err := s.db.QueryContext(ctx, q, req.Symbol.TickerName(), req.Resolution.Token, req.From.UTC(), req.To.UTC())
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	var out []models.Candle
	for rows.Next() {
		var c models.Candle
		var ts sql.NullTime
		if err := rows.Scan(&ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		if !ts.Valid {
			continue
		}
		t := ts.Time
		c.Date = &t
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *ClickHouseCandleStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the pool belongs to pkg/clickhouse.Client.
func (s *ClickHouseCandleStore) Close() error { return nil }

var _ repository.CandleStore = (*ClickHouseCandleStore)(nil)
