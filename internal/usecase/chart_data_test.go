package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/models"
	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/repository"
	"github.com/VigneshwaranJheyaraman/charts-helper/internal/feed"
	"github.com/VigneshwaranJheyaraman/charts-helper/internal/market"
	"github.com/VigneshwaranJheyaraman/charts-helper/pkg/eventbus"
	applogger "github.com/VigneshwaranJheyaraman/charts-helper/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	nifty = models.Symbol{SymbolName: "NIFTY", Exchange: "NSE", SymbolID: "26000"}
	bank  = models.Symbol{SymbolName: "BANKNIFTY", Exchange: "NSE", SymbolID: "26009"}
	five  = models.MustResolution("5")
)

func at(day, hr, min int) time.Time {
	return time.Date(2024, time.January, day, hr, min, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

type fakeTransport struct {
	mu      sync.Mutex
	calls   []repository.FetchRequest
	candles []models.Candle
	err     error
	during  func()
}

func (f *fakeTransport) FetchCandles(_ context.Context, req repository.FetchRequest) ([]models.Candle, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	during := f.during
	f.mu.Unlock()
	if during != nil {
		during()
	}
	return f.candles, f.err
}

type savedCandle struct {
	ticker string
	res    string
	candle models.Candle
}

type fakeSink struct{ saved chan savedCandle }

func (s *fakeSink) SaveCandle(_ context.Context, ticker string, res models.Resolution, c models.Candle) error {
	s.saved <- savedCandle{ticker: ticker, res: res.Token, candle: c}
	return nil
}

func (s *fakeSink) Close() error { return nil }

type fixture struct {
	m   *ChartDataManager
	tr  *fakeTransport
	bus *eventbus.Bus
	now time.Time
}

func newFixture(t *testing.T, opts ...ChartOption) *fixture {
	t.Helper()
	rules := make(market.StaticRules, 0, 5)
	for d := time.Monday; d <= time.Friday; d++ {
		rules = append(rules, models.WeekdayRule(d, "09:15", "15:30"))
	}
	session, err := market.NewManager(market.NewClock(market.WithLocation(time.UTC)), rules, nifty, applogger.NewNop())
	require.NoError(t, err)
	buckets, err := feed.NewBucketizerFromString("05:30", time.UTC)
	require.NoError(t, err)

	f := &fixture{tr: &fakeTransport{}, bus: eventbus.New(applogger.NewNop()), now: at(18, 10, 7)}
	opts = append([]ChartOption{WithClock(func() time.Time { return f.now }), WithRangeSize(10)}, opts...)
	f.m, err = NewChartDataManager(nifty, f.tr, session, buckets, f.bus, opts...)
	require.NoError(t, err)
	t.Cleanup(f.m.Close)
	return f
}

func tick(ticker string, ts time.Time, price, vol float64) models.Tick {
	return models.Tick{Ticker: ticker, Date: ts, Close: price, Volume: models.Float(vol)}
}

func TestNewChartDataManagerRequiresSymbol(t *testing.T) {
	t.Parallel()

	_, err := NewChartDataManager(models.Symbol{}, &fakeTransport{}, nil, nil, eventbus.New(nil))
	require.ErrorIs(t, err, ErrSymbolRequired)
}

func TestGetInitialDataSeedsOpenCandle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.tr.candles = []models.Candle{
		{Date: ptr(at(18, 10, 0)), Open: 99, High: 100, Low: 98, Close: 99.5, Volume: 400},
		{Date: ptr(at(18, 10, 5)), Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 1000},
	}

	data, err := f.m.GetInitialData(context.Background(), five, map[string]string{"X-Token": "abc"})
	require.NoError(t, err)
	require.Len(t, data.Candles, 2)
	require.True(t, data.Range.IsSet())
	assert.True(t, f.now.Equal(*data.Range.To))
	assert.True(t, f.m.IsStreaming())

	require.Len(t, f.tr.calls, 1)
	req := f.tr.calls[0]
	assert.Equal(t, nifty.TickerName(), req.Symbol.TickerName())
	assert.Equal(t, "abc", req.Headers["X-Token"])
	assert.True(t, req.To.Equal(f.now))

	c := f.m.UpdateRealTime(five, tick(nifty.TickerName(), at(18, 10, 6), 102, 1500))
	require.NotNil(t, c)
	assert.True(t, at(18, 10, 5).Equal(*c.Date))
	assert.Equal(t, 100.0, c.Open)
	assert.Equal(t, 102.0, c.High)
	assert.Equal(t, 99.0, c.Low)
	assert.Equal(t, 102.0, c.Close)
	assert.Equal(t, 1500.0, c.Volume)
}

func TestTicksQueuedUntilInitialDataArrives(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.tr.candles = []models.Candle{{Date: ptr(at(18, 10, 5)), Open: 100, High: 101, Low: 99, Close: 100, Volume: 1000}}

	assert.Nil(t, f.m.UpdateRealTime(five, tick(nifty.TickerName(), at(18, 10, 6), 103, 1100)))
	assert.Nil(t, f.m.UpdateRealTime(five, tick(nifty.TickerName(), at(18, 10, 7), 98, 1200)))
	assert.Equal(t, 2, f.m.QueueLen())

	data, err := f.m.GetInitialData(context.Background(), five, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, data.Drained)
	assert.Zero(t, f.m.QueueLen())

	c := f.m.Current()
	require.NotNil(t, c)
	assert.Equal(t, 103.0, c.High)
	assert.Equal(t, 98.0, c.Low)
	assert.Equal(t, 98.0, c.Close)
	assert.Equal(t, 1200.0, c.Volume)
}

func TestUpdateRealTimeDropsOtherTickers(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	assert.Nil(t, f.m.UpdateRealTime(five, tick("OTHER", at(18, 10, 6), 1, 1)))
	assert.Zero(t, f.m.QueueLen())
}

func TestGetInitialDataWithoutHistoryOpensEmptyBucket(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.m.GetInitialData(context.Background(), five, nil)
	require.NoError(t, err)

	c := f.m.UpdateRealTime(five, tick(nifty.TickerName(), at(18, 10, 7), 50, 5000))
	require.NotNil(t, c)
	assert.True(t, at(18, 10, 5).Equal(*c.Date))
	assert.Equal(t, 50.0, c.Open)
	assert.Equal(t, 50.0, c.Low)
	assert.Zero(t, c.Volume)

	c = f.m.UpdateRealTime(five, tick(nifty.TickerName(), at(18, 10, 8), 51, 5040))
	require.NotNil(t, c)
	assert.Equal(t, 40.0, c.Volume)
}

func TestGetInitialDataTransportError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	boom := errors.New("boom")
	f.tr.err = boom

	_, err := f.m.GetInitialData(context.Background(), five, nil)
	require.ErrorIs(t, err, boom)
	assert.False(t, f.m.IsStreaming())

	assert.Nil(t, f.m.UpdateRealTime(five, tick(nifty.TickerName(), at(18, 10, 7), 1, 1)))
	assert.Equal(t, 1, f.m.QueueLen())
}

func TestGetHistoricDataPagesBackwards(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	first, err := f.m.GetInitialData(context.Background(), five, nil)
	require.NoError(t, err)

	second, err := f.m.GetHistoricData(context.Background(), five, nil)
	require.NoError(t, err)
	assert.True(t, first.Range.From.Equal(*second.Range.To))
	assert.True(t, second.Range.From.Before(*second.Range.To))

	peek, ok := f.m.Range(five)
	require.True(t, ok)
	assert.True(t, peek.From.Equal(*second.Range.From))
}

func TestChangeSymbolResetsState(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.tr.candles = []models.Candle{{Date: ptr(at(18, 10, 5)), Open: 1, High: 1, Low: 1, Close: 1}}
	_, err := f.m.GetInitialData(context.Background(), five, nil)
	require.NoError(t, err)
	require.NotNil(t, f.m.Current())

	require.NoError(t, f.m.ChangeSymbol(bank))

	assert.Equal(t, bank.TickerName(), f.m.Symbol().TickerName())
	assert.False(t, f.m.IsStreaming())
	assert.Nil(t, f.m.Current())
	_, ok := f.m.Range(five)
	assert.False(t, ok)
	assert.Equal(t, bank.TickerName(), f.m.SymbolInfo().Ticker)

	assert.Nil(t, f.m.UpdateRealTime(five, tick(nifty.TickerName(), at(18, 10, 8), 1, 1)))
	assert.Nil(t, f.m.UpdateRealTime(five, tick(bank.TickerName(), at(18, 10, 8), 1, 1)))
	assert.Equal(t, 1, f.m.QueueLen())

	require.ErrorIs(t, f.m.ChangeSymbol(models.Symbol{}), ErrSymbolRequired)
	require.ErrorIs(t, f.m.ChangeSymbol(models.Symbol{SymbolName: "X"}), ErrSymbolRequired)
}

func TestChangeSymbolWithoutRulesKeepsPreviousSymbol(t *testing.T) {
	t.Parallel()

	week := make([]models.MarketRule, 0, 5)
	for d := time.Monday; d <= time.Friday; d++ {
		week = append(week, models.WeekdayRule(d, "09:15", "15:30"))
	}
	src := market.RulesFunc(func(sym models.Symbol) ([]models.MarketRule, error) {
		if sym.SymbolName == bank.SymbolName {
			return nil, errors.New("no rules")
		}
		return week, nil
	})
	session, err := market.NewManager(market.NewClock(market.WithLocation(time.UTC)), src, nifty, applogger.NewNop())
	require.NoError(t, err)
	buckets, err := feed.NewBucketizerFromString("05:30", time.UTC)
	require.NoError(t, err)

	now := at(18, 10, 7)
	tr := &fakeTransport{candles: []models.Candle{{Date: ptr(at(18, 10, 5)), Open: 1, High: 1, Low: 1, Close: 1}}}
	m, err := NewChartDataManager(nifty, tr, session, buckets, eventbus.New(nil),
		WithClock(func() time.Time { return now }), WithRangeSize(10))
	require.NoError(t, err)
	t.Cleanup(m.Close)

	_, err = m.GetInitialData(context.Background(), five, nil)
	require.NoError(t, err)

	require.ErrorIs(t, m.ChangeSymbol(bank), ErrSymbolRules)
	assert.Equal(t, nifty.TickerName(), m.Symbol().TickerName())
	assert.Equal(t, nifty.TickerName(), session.Symbol().TickerName())
	assert.True(t, m.IsStreaming())
	assert.NotNil(t, m.Current())
}

func TestChangeSymbolRestoresPreviousOnSubscriberFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.bus.Subscribe(models.SymbolChangedTopic, func(ev eventbus.Event) error {
		sym, err := eventbus.Decode[models.Symbol](ev.Payload)
		if err != nil {
			return err
		}
		if sym.SymbolName == bank.SymbolName {
			return errors.New("subscriber rejected")
		}
		return nil
	})

	err := f.m.ChangeSymbol(bank)
	require.ErrorIs(t, err, ErrSymbolPublish)
	assert.NotErrorIs(t, err, ErrSymbolRules)
	assert.Equal(t, nifty.TickerName(), f.m.Symbol().TickerName())
	assert.Equal(t, nifty.TickerName(), f.m.SymbolInfo().Ticker)
}

func TestSymbolChangeDuringFetchAbandonsLoad(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.tr.candles = []models.Candle{{Date: ptr(at(18, 10, 5)), Close: 1}}
	f.tr.during = func() { require.NoError(t, f.m.ChangeSymbol(bank)) }

	_, err := f.m.GetInitialData(context.Background(), five, nil)
	require.ErrorIs(t, err, ErrSymbolChanged)
	assert.False(t, f.m.IsStreaming())
	assert.Nil(t, f.m.Current())
}

func TestFinalizedCandlesReachSink(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{saved: make(chan savedCandle, 4)}
	f := newFixture(t, WithSink(sink))
	f.tr.candles = []models.Candle{{Date: ptr(at(18, 10, 5)), Open: 100, High: 101, Low: 99, Close: 100, Volume: 1000}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.m.Run(ctx)

	_, err := f.m.GetInitialData(ctx, five, nil)
	require.NoError(t, err)

	c := f.m.UpdateRealTime(five, tick(nifty.TickerName(), at(18, 10, 11), 105, 1300))
	require.NotNil(t, c)
	assert.True(t, at(18, 10, 10).Equal(*c.Date))
	assert.Equal(t, 105.0, c.Open)
	assert.Equal(t, 300.0, c.Volume)

	select {
	case got := <-sink.saved:
		assert.Equal(t, nifty.TickerName(), got.ticker)
		assert.Equal(t, "5", got.res)
		assert.True(t, at(18, 10, 5).Equal(*got.candle.Date))
		assert.Equal(t, 1000.0, got.candle.Volume)
	case <-time.After(2 * time.Second):
		t.Fatal("finalized candle not saved")
	}
}

func TestProcessUsesActiveResolution(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.m.GetInitialData(context.Background(), models.MustResolution("1D"), nil)
	require.NoError(t, err)

	tk := tick(nifty.TickerName(), at(18, 10, 7), 10, 700)
	require.NoError(t, f.m.Process(context.Background(), &tk))
	require.Error(t, f.m.Process(context.Background(), nil))

	c := f.m.Current()
	require.NotNil(t, c)
	assert.True(t, at(18, 5, 30).Equal(*c.Date))
	assert.Equal(t, 700.0, c.Volume)
	assert.Equal(t, "1D", f.m.Resolution().Token)
}

func TestMarketStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	st := f.m.MarketStatus(at(18, 10, 0))
	assert.True(t, st.Open)
	assert.True(t, st.MarketDay)

	st = f.m.MarketStatus(at(20, 10, 0))
	assert.False(t, st.MarketDay)
}
