package models

import "time"

// Candle is one OHLCV bar. Date is the bucket start; nil means no bucket yet.
type Candle struct {
	Date   *time.Time `json:"date"`
	Open   float64    `json:"open"`
	High   float64    `json:"high"`
	Low    float64    `json:"low"`
	Close  float64    `json:"close"`
	Volume float64    `json:"volume"`
}

// HasDate reports whether the candle is anchored to a bucket.
func (c Candle) HasDate() bool { return c.Date != nil }

// Clone returns a deep copy.
func (c Candle) Clone() Candle {
	out := c
	if c.Date != nil {
		d := *c.Date
		out.Date = &d
	}
	return out
}

// Tick is a real-time quote update. Volume is the cumulative day total.
type Tick struct {
	Ticker string    `json:"ticker"`
	Date   time.Time `json:"date"`
	Close  float64   `json:"close"`
	Open   *float64  `json:"open,omitempty"`
	High   *float64  `json:"high,omitempty"`
	Low    *float64  `json:"low,omitempty"`
	Volume *float64  `json:"volume,omitempty"`
}

// OpenOrClose returns Open when present, otherwise Close.
func (t Tick) OpenOrClose() float64 { return valueOr(t.Open, t.Close) }

// HighOrClose returns High when present, otherwise Close.
func (t Tick) HighOrClose() float64 { return valueOr(t.High, t.Close) }

// LowOrClose returns Low when present, otherwise Close.
func (t Tick) LowOrClose() float64 { return valueOr(t.Low, t.Close) }

// CumulativeVolume returns Volume or zero.
func (t Tick) CumulativeVolume() float64 { return valueOr(t.Volume, 0) }

func valueOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Range is a request window for historical candles.
type Range struct {
	From *time.Time `json:"from"`
	To   *time.Time `json:"to"`
}

// Clone returns a deep copy.
func (r Range) Clone() Range {
	var out Range
	if r.From != nil {
		f := *r.From
		out.From = &f
	}
	if r.To != nil {
		t := *r.To
		out.To = &t
	}
	return out
}

// IsSet reports whether both bounds are present.
func (r Range) IsSet() bool { return r.From != nil && r.To != nil }
