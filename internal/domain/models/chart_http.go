package models

import "time"

// Requests for the chart HTTP endpoints.

type ChartRequest struct {
	Resolution string            `query:"resolution" json:"resolution" default:"1D" validate:"required"`
	Headers    map[string]string `json:"headers"`
}

type RangeRequest struct {
	Resolution string `query:"resolution" json:"resolution" default:"1D" validate:"required"`
}

// TickRequest pushes one quote. An empty Resolution uses the active one.
type TickRequest struct {
	Ticker     string    `json:"ticker" validate:"required"`
	Date       time.Time `json:"date"`
	Close      float64   `json:"close" validate:"gt=0"`
	Open       *float64  `json:"open" validate:"omitempty,gt=0"`
	High       *float64  `json:"high" validate:"omitempty,gt=0"`
	Low        *float64  `json:"low" validate:"omitempty,gt=0"`
	Volume     *float64  `json:"volume" validate:"omitempty,gte=0"`
	Resolution string    `json:"resolution"`
}

// Tick converts the request to a domain tick.
func (r TickRequest) Tick() Tick {
	return Tick{
		Ticker: r.Ticker,
		Date:   r.Date,
		Close:  r.Close,
		Open:   r.Open,
		High:   r.High,
		Low:    r.Low,
		Volume: r.Volume,
	}
}

type MarketStatusRequest struct {
	// At accepts RFC3339, a date or unix seconds/millis; empty means now.
	At string `query:"at" json:"at"`
}

// TickResponse carries the updated candle, or nil when the tick was queued
// or dropped.
type TickResponse struct {
	Candle    *Candle `json:"candle"`
	Streaming bool    `json:"streaming"`
	Queued    int     `json:"queued"`
}
