package repository

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/models"
	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/repository"
	"github.com/VigneshwaranJheyaraman/charts-helper/pkg/cache"
	pkghttp "github.com/VigneshwaranJheyaraman/charts-helper/pkg/http"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var nifty = models.Symbol{SymbolName: "NIFTY", Exchange: "NSE", SymbolID: "26000"}

func fetchReq() repository.FetchRequest {
	return repository.FetchRequest{
		Symbol:     nifty,
		Resolution: models.MustResolution("5"),
		From:       time.Date(2024, 1, 15, 9, 15, 0, 0, time.UTC),
		To:         time.Date(2024, 1, 15, 15, 30, 0, 0, time.UTC),
		Headers:    map[string]string{"Authorization": "Bearer t"},
	}
}

func TestHTTPCandleTransportRows(t *testing.T) {
	t.Parallel()

	var got historyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer t", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`[
			{"date":"2024-01-15T09:20:00Z","open":2,"high":3,"low":1,"close":2.5,"volume":20},
			{"date":1705310100,"open":1,"high":2,"low":0.5,"close":1.5,"volume":10}
		]`))
	}))
	defer srv.Close()

	tr := NewHTTPCandleTransport(pkghttp.NewClient(), srv.URL)
	candles, err := tr.FetchCandles(context.Background(), fetchReq())
	require.NoError(t, err)

	assert.Equal(t, "NIFTY-NSE-26000", got.Ticker)
	assert.Equal(t, "5", got.Resolution)
	assert.Equal(t, fetchReq().From.Unix(), got.From)

	require.Len(t, candles, 2)
	assert.Equal(t, 1.0, candles[0].Open, "sorted oldest first")
	assert.True(t, candles[1].Date.Equal(time.Date(2024, 1, 15, 9, 20, 0, 0, time.UTC)))
}

func TestHTTPCandleTransportUDF(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"s":"ok","t":[1705310100,1705310400],"o":[1,2],"h":[2,3],"l":[0.5,1],"c":[1.5,2.5],"v":[10,20]}`))
	}))
	defer srv.Close()

	candles, err := NewHTTPCandleTransport(pkghttp.NewClient(), srv.URL).FetchCandles(context.Background(), fetchReq())
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 20.0, candles[1].Volume)
}

func TestHTTPCandleTransportErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"upstream status", http.StatusBadGateway, `oops`},
		{"udf error", http.StatusOK, `{"s":"error","errmsg":"bad symbol"}`},
		{"ragged columns", http.StatusOK, `{"s":"ok","t":[1],"o":[],"h":[],"l":[],"c":[]}`},
		{"row without date", http.StatusOK, `[{"open":1}]`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewHTTPCandleTransport(pkghttp.NewClient(), srv.URL).FetchCandles(context.Background(), fetchReq())
			assert.Error(t, err)
		})
	}
}

func TestHTTPCandleTransportNoData(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"s":"no_data"}`))
	}))
	defer srv.Close()

	candles, err := NewHTTPCandleTransport(pkghttp.NewClient(), srv.URL).FetchCandles(context.Background(), fetchReq())
	require.NoError(t, err)
	assert.Empty(t, candles)
}

type countingTransport struct {
	mu      sync.Mutex
	calls   int
	candles []models.Candle
	err     error
}

func (c *countingTransport) FetchCandles(context.Context, repository.FetchRequest) ([]models.Candle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.candles, c.err
}

func candleAt(ts time.Time, close float64) models.Candle {
	return models.Candle{Date: &ts, Open: close, High: close, Low: close, Close: close, Volume: 1}
}

func TestCachingTransportServesRepeatsFromCache(t *testing.T) {
	t.Parallel()

	src := &countingTransport{candles: []models.Candle{candleAt(time.Date(2024, 1, 15, 9, 15, 0, 0, time.UTC), 10)}}
	mc := cache.NewMemoryCache()
	defer mc.Close()
	ct := NewCachingTransport(src, mc, time.Minute, nil)

	first, err := ct.FetchCandles(context.Background(), fetchReq())
	require.NoError(t, err)
	second, err := ct.FetchCandles(context.Background(), fetchReq())
	require.NoError(t, err)

	assert.Equal(t, 1, src.calls)
	require.Len(t, second, 1)
	assert.True(t, first[0].Date.Equal(*second[0].Date))

	other := fetchReq()
	other.Resolution = models.MustResolution("15")
	_, err = ct.FetchCandles(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestCachingTransportSkipsEmptyAndErrors(t *testing.T) {
	t.Parallel()

	mc := cache.NewMemoryCache()
	defer mc.Close()

	empty := &countingTransport{}
	ct := NewCachingTransport(empty, mc, time.Minute, nil)
	_, _ = ct.FetchCandles(context.Background(), fetchReq())
	_, _ = ct.FetchCandles(context.Background(), fetchReq())
	assert.Equal(t, 2, empty.calls)

	failing := &countingTransport{err: errors.New("down")}
	_, err := NewCachingTransport(failing, mc, time.Minute, nil).FetchCandles(context.Background(), fetchReq())
	assert.Error(t, err)
}

func TestClickHouseCandleStoreSave(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewClickHouseCandleStore(db, "charts")
	c := candleAt(time.Date(2024, 1, 15, 9, 15, 0, 0, time.UTC), 10)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO charts.candles")).
		WithArgs("NIFTY-NSE-26000", "5", sqlmock.AnyArg(), 10.0, 10.0, 10.0, 10.0, 1.0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.SaveCandle(context.Background(), nifty.TickerName(), models.MustResolution("5"), c))
	assert.Error(t, store.SaveCandle(context.Background(), "x", models.MustResolution("5"), models.Candle{}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClickHouseCandleStoreFetch(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ts := time.Date(2024, 1, 15, 9, 15, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"ts", "open", "high", "low", "close", "volume"}).
		AddRow(ts, 1.0, 2.0, 0.5, 1.5, 10.0).
		AddRow(ts.Add(5*time.Minute), 1.5, 2.5, 1.0, 2.0, 20.0)
	mock.ExpectQuery(regexp.QuoteMeta("FROM charts.candles FINAL WHERE ticker = ?")).
		WithArgs("NIFTY-NSE-26000", "5", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(rows)

	candles, err := NewClickHouseCandleStore(db, "charts").FetchCandles(context.Background(), fetchReq())
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.True(t, candles[0].Date.Equal(ts))
	assert.Equal(t, 20.0, candles[1].Volume)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClickHouseCandleStoreInit(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE DATABASE IF NOT EXISTS charts")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS charts.candles")).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, NewClickHouseCandleStore(db, "charts").Init(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

type published struct {
	topic string
	key   string
	value interface{}
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{topic: topic, key: string(key), value: value})
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func TestKafkaPublishers(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	c := candleAt(time.Date(2024, 1, 15, 9, 15, 0, 0, time.UTC), 10)

	require.NoError(t, NewKafkaCandlePublisher(pub, "chart.candles").SaveCandle(context.Background(), "NIFTY", models.MustResolution("5"), c))
	require.NoError(t, NewKafkaTickPublisher(pub, "chart.ticks").PublishTick(context.Background(), &models.Tick{Ticker: "NIFTY", Close: 1}))
	assert.Error(t, NewKafkaTickPublisher(pub, "chart.ticks").PublishTick(context.Background(), nil))

	require.Len(t, pub.msgs, 2)
	assert.Equal(t, "chart.candles", pub.msgs[0].topic)
	assert.Equal(t, "NIFTY", pub.msgs[0].key)
	ev, ok := pub.msgs[0].value.(CandleEvent)
	require.True(t, ok)
	assert.Equal(t, "5", ev.Resolution)
	assert.Equal(t, "chart.ticks", pub.msgs[1].topic)
}

func TestMultiSinkJoinsErrors(t *testing.T) {
	t.Parallel()

	ok := &fakePublisher{}
	bad := &fakePublisher{err: errors.New("broker down")}
	sink := NewMultiSink(NewKafkaCandlePublisher(ok, "a"), nil, NewKafkaCandlePublisher(bad, "b"))
	require.Len(t, sink, 2)

	err := sink.SaveCandle(context.Background(), "NIFTY", models.MustResolution("5"), candleAt(time.Now(), 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Len(t, ok.msgs, 1)
	assert.NoError(t, sink.Close())
}
