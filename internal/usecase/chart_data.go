package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/models"
	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/repository"
	"github.com/VigneshwaranJheyaraman/charts-helper/internal/feed"
	"github.com/VigneshwaranJheyaraman/charts-helper/internal/market"
	"github.com/VigneshwaranJheyaraman/charts-helper/pkg/eventbus"
	applogger "github.com/VigneshwaranJheyaraman/charts-helper/pkg/logger"
	"github.com/VigneshwaranJheyaraman/charts-helper/pkg/queue"

	"github.com/go-playground/validator/v10"
)

var (
	ErrSymbolRequired = errors.New("symbol is required")
	// ErrSymbolChanged is returned when the symbol changed while history was loading.
	ErrSymbolChanged = errors.New("symbol changed while loading")
	// ErrSymbolRules is returned when no market rules resolve for a symbol.
	ErrSymbolRules = errors.New("no market rules for symbol")
	// ErrSymbolPublish is returned when a subscriber rejected a symbol
	// change and the previous symbol was restored.
	ErrSymbolPublish = errors.New("symbol change rejected")
)

var validate = validator.New()

// QueuedTick is a tick received before the initial history arrived.
type QueuedTick struct {
	Tick       models.Tick
	Ticker     string
	Resolution models.Resolution
}

// ChartData is one page of history and the window it covers.
type ChartData struct {
	Candles []models.Candle `json:"candles"`
	Range   models.Range    `json:"range"`
	// Drained counts queued ticks applied after the initial load.
	Drained int `json:"drained,omitempty"`
}

type finalized struct {
	ticker string
	res    models.Resolution
	candle models.Candle
}

// ChartDataManager serves history pages for the active symbol and folds
// live ticks into its open candle.
type ChartDataManager struct {
	transport repository.HistoricalTransport
	session   *market.Manager
	bus       *eventbus.Bus
	buckets   *feed.Bucketizer
	ranges    *feed.RangeCache
	agg       *feed.Aggregator
	queue     *queue.Queue[QueuedTick]
	sink      repository.CandleSink
	metrics   repository.Metrics
	log       *applogger.Logger
	now       func() time.Time
	finalized chan finalized
	subs      []string

	rangeSize  int
	sinkBuffer int

	mu         sync.Mutex
	symbol     models.Symbol
	resolution models.Resolution
	streaming  bool
	generation uint64
}

type ChartOption func(*ChartDataManager)

// WithSink receives every finalized candle.
func WithSink(s repository.CandleSink) ChartOption {
	return func(m *ChartDataManager) { m.sink = s }
}

func WithMetrics(r repository.Metrics) ChartOption {
	return func(m *ChartDataManager) {
		if r != nil {
			m.metrics = r
		}
	}
}

func WithLogger(l *applogger.Logger) ChartOption {
	return func(m *ChartDataManager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ChartOption {
	return func(m *ChartDataManager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithRangeSize sets how many candles one history page spans.
func WithRangeSize(n int) ChartOption {
	return func(m *ChartDataManager) {
		if n > 0 {
			m.rangeSize = n
		}
	}
}

// WithResolution sets the resolution used by Process before the first load.
func WithResolution(res models.Resolution) ChartOption {
	return func(m *ChartDataManager) { m.resolution = res }
}

// WithSinkBuffer bounds the finalized candle backlog.
func WithSinkBuffer(n int) ChartOption {
	return func(m *ChartDataManager) {
		if n > 0 {
			m.sinkBuffer = n
		}
	}
}

// NewChartDataManager wires the engine for sym. The session manager and the
// chart manager both follow symbol changes published on bus.
func NewChartDataManager(
	sym models.Symbol,
	transport repository.HistoricalTransport,
	session *market.Manager,
	buckets *feed.Bucketizer,
	bus *eventbus.Bus,
	opts ...ChartOption,
) (*ChartDataManager, error) {
	if err := validateSymbol(sym); err != nil {
		return nil, err
	}
	m := &ChartDataManager{
		transport:  transport,
		session:    session,
		bus:        bus,
		buckets:    buckets,
		queue:      queue.New[QueuedTick](),
		metrics:    nopMetrics{},
		log:        applogger.NewNop(),
		now:        time.Now,
		rangeSize:  market.DefaultRangeSize,
		sinkBuffer: 256,
		symbol:     sym,
		resolution: models.MustResolution(models.DefaultResolution),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.ranges = feed.NewRangeCache(session, m.rangeSize, feed.WithNow(m.now))
	m.agg = feed.NewAggregator(buckets, session, feed.WithFinalizeHook(m.onFinalize))
	m.finalized = make(chan finalized, m.sinkBuffer)

	m.subs = append(m.subs,
		session.Attach(bus),
		bus.Subscribe(models.SymbolChangedTopic, m.onSymbolChanged),
	)
	return m, nil
}

func validateSymbol(sym models.Symbol) error {
	if sym.IsZero() {
		return ErrSymbolRequired
	}
	if err := validate.Struct(sym); err != nil {
		return fmt.Errorf("%w: %v", ErrSymbolRequired, err)
	}
	return nil
}

// GetInitialData stops streaming, restarts the range for res from now,
// loads the first page and seeds the open candle with its last candle.
// Ticks queued during the load are applied in arrival order before
// streaming resumes.
func (m *ChartDataManager) GetInitialData(ctx context.Context, res models.Resolution, headers map[string]string) (ChartData, error) {
	m.mu.Lock()
	m.streaming = false
	m.resolution = res
	m.ranges.InitRange(res)
	rng := m.ranges.GetRange(res)
	sym := m.symbol
	gen := m.generation
	m.mu.Unlock()

	candles, err := m.fetch(ctx, sym, res, rng, headers)
	if err != nil {
		return ChartData{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return ChartData{}, ErrSymbolChanged
	}

	if n := len(candles); n > 0 {
		m.agg.Initialize(candles[n-1])
	} else {
		m.agg.InitializeEmpty(m.buckets.BucketStart(m.now(), res))
	}
	m.streaming = true

	drained := m.queue.Drain(func(q QueuedTick) {
		m.ingestLocked(q.Resolution, q.Tick)
	})
	m.metrics.RecordQueueDepth(0)
	if drained > 0 {
		m.log.Info("queued ticks applied",
			applogger.String("ticker", sym.TickerName()),
			applogger.Int("count", drained),
		)
	}

	return ChartData{Candles: candles, Range: rng, Drained: drained}, nil
}

// GetHistoricData loads the page before the last one returned for res.
func (m *ChartDataManager) GetHistoricData(ctx context.Context, res models.Resolution, headers map[string]string) (ChartData, error) {
	m.mu.Lock()
	rng := m.ranges.GetRange(res)
	sym := m.symbol
	gen := m.generation
	m.mu.Unlock()

	candles, err := m.fetch(ctx, sym, res, rng, headers)
	if err != nil {
		return ChartData{}, err
	}

	m.mu.Lock()
	changed := gen != m.generation
	m.mu.Unlock()
	if changed {
		return ChartData{}, ErrSymbolChanged
	}
	return ChartData{Candles: candles, Range: rng}, nil
}

func (m *ChartDataManager) fetch(ctx context.Context, sym models.Symbol, res models.Resolution, rng models.Range, headers map[string]string) ([]models.Candle, error) {
	start := time.Now()
	candles, err := m.transport.FetchCandles(ctx, repository.FetchRequest{
		Symbol:     sym,
		Resolution: res,
		From:       *rng.From,
		To:         *rng.To,
		Headers:    headers,
	})
	m.metrics.RecordLatency("history_fetch", time.Since(start).Seconds())
	if err != nil {
		m.metrics.RecordError("history_fetch")
		m.log.Error("history fetch failed",
			applogger.String("ticker", sym.TickerName()),
			applogger.String("resolution", res.Token),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	return candles, nil
}

// UpdateRealTime applies tick at res. Ticks for another ticker are dropped;
// ticks received before the initial load completes are queued and nil is
// returned.
func (m *ChartDataManager) UpdateRealTime(res models.Resolution, tick models.Tick) *models.Candle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(res, tick)
}

// Process feeds a live tick at the active resolution.
func (m *ChartDataManager) Process(_ context.Context, t *models.Tick) error {
	if t == nil {
		return fmt.Errorf("tick is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateLocked(m.resolution, *t)
	return nil
}

func (m *ChartDataManager) updateLocked(res models.Resolution, tick models.Tick) *models.Candle {
	ticker := m.symbol.TickerName()
	if tick.Ticker != ticker {
		m.metrics.RecordTick(tick.Ticker, repository.TickDiscarded)
		return nil
	}
	if !m.streaming {
		n := m.queue.Enqueue(QueuedTick{Tick: tick, Ticker: ticker, Resolution: res})
		m.metrics.RecordTick(ticker, repository.TickQueued)
		m.metrics.RecordQueueDepth(n)
		return nil
	}
	return m.ingestLocked(res, tick)
}

func (m *ChartDataManager) ingestLocked(res models.Resolution, tick models.Tick) *models.Candle {
	c := m.agg.Ingest(tick, res)
	if c == nil {
		m.metrics.RecordTick(tick.Ticker, repository.TickDiscarded)
		return nil
	}
	m.metrics.RecordTick(tick.Ticker, repository.TickIngested)
	m.metrics.RecordLastPrice(tick.Ticker, tick.Close)
	return c
}

// onFinalize runs inside Ingest, so m.mu is held.
func (m *ChartDataManager) onFinalize(c models.Candle, res models.Resolution) {
	ticker := m.symbol.TickerName()
	m.metrics.RecordCandleFinalized(ticker, res.Token)
	if m.sink == nil {
		return
	}
	select {
	case m.finalized <- finalized{ticker: ticker, res: res, candle: c}:
	default:
		m.metrics.RecordError("sink_backlog_full")
	}
}

// Run writes finalized candles to the sink until ctx is done.
func (m *ChartDataManager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-m.finalized:
			sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := m.sink.SaveCandle(sctx, f.ticker, f.res, f.candle)
			cancel()
			if err != nil {
				m.metrics.RecordError("sink_save")
				m.log.Error("save finalized candle",
					applogger.String("ticker", f.ticker),
					applogger.String("resolution", f.res.Token),
					applogger.Error(err),
				)
			}
		}
	}
}

// ChangeSymbol validates sym, resolves its market rules and publishes it.
// Subscribers reset their state synchronously, so the manager is idle for
// sym when this returns. A symbol without rules leaves every subscriber on
// the previous symbol.
func (m *ChartDataManager) ChangeSymbol(sym models.Symbol) error {
	if err := validateSymbol(sym); err != nil {
		return err
	}
	if err := m.session.Prepare(sym); err != nil {
		return fmt.Errorf("%w: %v", ErrSymbolRules, err)
	}

	prev := m.Symbol()
	if _, err := m.bus.Publish(models.SymbolChangedTopic, sym); err != nil {
		if _, rerr := m.bus.Publish(models.SymbolChangedTopic, prev); rerr != nil {
			m.log.Error("restore symbol",
				applogger.String("ticker", prev.TickerName()),
				applogger.Error(rerr),
			)
		}
		return fmt.Errorf("%w: %w", ErrSymbolPublish, err)
	}
	return nil
}

func (m *ChartDataManager) onSymbolChanged(ev eventbus.Event) error {
	sym, err := eventbus.Decode[models.Symbol](ev.Payload)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.symbol = *sym
	m.generation++
	m.streaming = false
	m.ranges.ClearAll()
	m.agg.Reset()
	dropped := m.queue.Clear()
	m.mu.Unlock()

	m.metrics.RecordQueueDepth(0)
	m.log.Info("symbol changed",
		applogger.String("ticker", sym.TickerName()),
		applogger.Int("dropped_ticks", dropped),
	)
	return nil
}

// Current returns a copy of the open candle.
func (m *ChartDataManager) Current() *models.Candle { return m.agg.Current() }

// Range returns the last window served for res.
func (m *ChartDataManager) Range(res models.Resolution) (models.Range, bool) {
	return m.ranges.Peek(res)
}

func (m *ChartDataManager) Symbol() models.Symbol {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.symbol
}

// Resolution returns the resolution of the last initial load.
func (m *ChartDataManager) Resolution() models.Resolution {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolution
}

func (m *ChartDataManager) IsStreaming() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streaming
}

func (m *ChartDataManager) QueueLen() int { return m.queue.Len() }

// MarketStatus evaluates the session at t for the active symbol.
func (m *ChartDataManager) MarketStatus(t time.Time) market.Status { return m.session.StatusAt(t) }

// SymbolInfo describes the active session layout.
func (m *ChartDataManager) SymbolInfo() market.SymbolInfo { return m.session.SymbolInfo() }

// Close detaches from the bus.
func (m *ChartDataManager) Close() {
	for _, id := range m.subs {
		m.bus.Unsubscribe(id)
	}
	m.subs = nil
}

type nopMetrics struct{}

func (nopMetrics) RecordMessageSent(string, string)     {}
func (nopMetrics) RecordError(string)                   {}
func (nopMetrics) RecordLastPrice(string, float64)      {}
func (nopMetrics) RecordLatency(string, float64)        {}
func (nopMetrics) RecordTick(string, string)            {}
func (nopMetrics) RecordCandleFinalized(string, string) {}
func (nopMetrics) RecordQueueDepth(int)                 {}
