package models

import "strings"

const (
	// TickerDelimiter joins the parts of a derived ticker.
	TickerDelimiter = "-"
	// SymbolChangedTopic carries the new Symbol whenever the active symbol changes.
	SymbolChangedTopic = "CHART_SYMBOL"
)

// Symbol identifies the instrument being charted.
type Symbol struct {
	SymbolName string `yaml:"symbol_name" json:"symbolName" validate:"required"`
	Exchange   string `yaml:"exchange" json:"exchange" validate:"required"`
	SymbolID   string `yaml:"symbol_id" json:"symbolId" validate:"required"`
	ExchangeID string `yaml:"exchange_id,omitempty" json:"exchangeId,omitempty"`
	Ticker     string `yaml:"ticker,omitempty" json:"ticker,omitempty"`
	LotSize    int    `yaml:"lot_size,omitempty" json:"lotSize,omitempty" validate:"omitempty,min=1"`
	// MIC selects an exchange holiday calendar (ISO 10383, e.g. "xnse").
	MIC string `yaml:"mic,omitempty" json:"mic,omitempty"`
}

// TickerName returns the explicit ticker or SymbolName-Exchange-SymbolID.
func (s Symbol) TickerName() string {
	if s.Ticker != "" {
		return s.Ticker
	}
	return strings.Join([]string{s.SymbolName, s.Exchange, s.SymbolID}, TickerDelimiter)
}

// IsZero reports whether no symbol has been configured.
func (s Symbol) IsZero() bool {
	return s.SymbolName == "" && s.Exchange == "" && s.SymbolID == "" && s.Ticker == ""
}
