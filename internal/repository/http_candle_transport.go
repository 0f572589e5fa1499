package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/models"
	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/repository"
	pkghttp "github.com/VigneshwaranJheyaraman/charts-helper/pkg/http"
	"github.com/VigneshwaranJheyaraman/charts-helper/pkg/util"
)

// HTTPCandleTransport posts a history request to a charting data API.
type HTTPCandleTransport struct {
	client *pkghttp.Client
	url    string
}

// NewHTTPCandleTransport creates a transport for url.
func NewHTTPCandleTransport(client *pkghttp.Client, url string) *HTTPCandleTransport {
	return &HTTPCandleTransport{client: client, url: url}
}

type historyRequest struct {
	Symbol     string `json:"symbol"`
	Exchange   string `json:"exchange"`
	SymbolID   string `json:"symbolId"`
	Ticker     string `json:"ticker"`
	Resolution string `json:"resolution"`
	From       int64  `json:"from"`
	To         int64  `json:"to"`
}

// udfHistory is the column-oriented shape used by TradingView style feeds.
type udfHistory struct {
	Status string    `json:"s"`
	Error  string    `json:"errmsg"`
	Time   []int64   `json:"t"`
	Open   []float64 `json:"o"`
	High   []float64 `json:"h"`
	Low    []float64 `json:"l"`
	Close  []float64 `json:"c"`
	Volume []float64 `json:"v"`
}

type candleRow struct {
	Date   json.RawMessage `json:"date"`
	Open   float64         `json:"open"`
	High   float64         `json:"high"`
	Low    float64         `json:"low"`
	Close  float64         `json:"close"`
	Volume float64         `json:"volume"`
}

// FetchCandles returns the candles of req.From..req.To, oldest first.
func (t *HTTPCandleTransport) FetchCandles(ctx context.Context, req repository.FetchRequest) ([]models.Candle, error) {
	body := historyRequest{
		Symbol:     req.Symbol.SymbolName,
		Exchange:   req.Symbol.Exchange,
		SymbolID:   req.Symbol.SymbolID,
		Ticker:     req.Symbol.TickerName(),
		Resolution: req.Resolution.Token,
		From:       req.From.Unix(),
		To:         req.To.Unix(),
	}

	var raw []byte
	err := t.client.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:  pkghttp.MethodPost,
		URL:     t.url,
		Headers: req.Headers,
		Body:    body,
	}, &raw)
	if err != nil {
		return nil, fmt.Errorf("fetch history %s: %w", body.Ticker, err)
	}

	candles, err := decodeCandles(raw)
	if err != nil {
		return nil, fmt.Errorf("decode history %s: %w", body.Ticker, err)
	}
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].Date.Before(*candles[j].Date) })
	return candles, nil
}

func decodeCandles(raw []byte) ([]models.Candle, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}

	if raw[0] == '[' {
		var rows []candleRow
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, err
		}
		out := make([]models.Candle, 0, len(rows))
		for i, r := range rows {
			ts, err := parseRowDate(r.Date)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
			out = append(out, models.Candle{Date: &ts, Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume})
		}
		return out, nil
	}

	var udf udfHistory
	if err := json.Unmarshal(raw, &udf); err != nil {
		return nil, err
	}
	switch udf.Status {
	case "no_data":
		return nil, nil
	case "error":
		return nil, fmt.Errorf("upstream: %s", udf.Error)
	}
	n := len(udf.Time)
	if len(udf.Open) != n || len(udf.High) != n || len(udf.Low) != n || len(udf.Close) != n {
		return nil, fmt.Errorf("column lengths differ")
	}
	out := make([]models.Candle, n)
	for i := 0; i < n; i++ {
		ts := util.FromUnix(udf.Time[i])
		out[i] = models.Candle{Date: &ts, Open: udf.Open[i], High: udf.High[i], Low: udf.Low[i], Close: udf.Close[i]}
		if i < len(udf.Volume) {
			out[i].Volume = udf.Volume[i]
		}
	}
	return out, nil
}

func parseRowDate(raw json.RawMessage) (time.Time, error) {
	s := string(bytes.Trim(raw, `"`))
	if s == "" || s == "null" {
		return time.Time{}, fmt.Errorf("date missing")
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
		return util.FromUnix(ts), nil
	}
	t, ok := util.ParseTime(s)
	if !ok {
		return time.Time{}, fmt.Errorf("date %q unreadable", s)
	}
	return t, nil
}

var _ repository.HistoricalTransport = (*HTTPCandleTransport)(nil)
