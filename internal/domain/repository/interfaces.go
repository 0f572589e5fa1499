package repository

import (
	"context"
	"time"

	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/models"
)

// FetchRequest describes one page of historical candles.
type FetchRequest struct {
	Symbol     models.Symbol
	Resolution models.Resolution
	From       time.Time
	To         time.Time
	Headers    map[string]string
}

// HistoricalTransport loads candles for a window, oldest first.
type HistoricalTransport interface {
	FetchCandles(ctx context.Context, req FetchRequest) ([]models.Candle, error)
}

// MarketStream delivers live ticks.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, tickers ...string) error
	Read(ctx context.Context) (<-chan *models.Tick, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// TickPublisher forwards ticks to a broker.
type TickPublisher interface {
	PublishTick(ctx context.Context, t *models.Tick) error
	Close() error
}

// CandleSink receives candles whose bucket has closed.
type CandleSink interface {
	SaveCandle(ctx context.Context, ticker string, res models.Resolution, c models.Candle) error
	Close() error
}

// CandleStore persists finalized candles and serves them back as history.
type CandleStore interface {
	HistoricalTransport
	CandleSink
	Init(ctx context.Context) error // ensure tables
	Health(ctx context.Context) error
}

type Metrics interface {
	RecordMessageSent(backend, ticker string)
	RecordError(kind string)
	RecordLastPrice(ticker string, price float64)
	RecordLatency(op string, seconds float64)
	RecordTick(ticker, outcome string)
	RecordCandleFinalized(ticker, resolution string)
	RecordQueueDepth(n int)
}

// Tick outcomes for Metrics.RecordTick.
const (
	TickIngested  = "ingested"
	TickQueued    = "queued"
	TickDiscarded = "discarded"
	// TickCoalesced counts throttled ticks folded into a later tick.
	TickCoalesced = "coalesced"
)
