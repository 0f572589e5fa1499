package market

import (
	"fmt"
	"sync"
	"time"

	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/models"
	"github.com/VigneshwaranJheyaraman/charts-helper/pkg/eventbus"
	applogger "github.com/VigneshwaranJheyaraman/charts-helper/pkg/logger"
)

// Manager binds a Clock to the active symbol's rule set.
type Manager struct {
	clock  *Clock
	source RuleSource
	l      *applogger.Logger

	mu      sync.RWMutex
	symbol  models.Symbol
	rules   RuleSet
	pending map[string]RuleSet
}

// NewManager resolves the rules for sym. An empty rule list is an error.
func NewManager(clock *Clock, source RuleSource, sym models.Symbol, l *applogger.Logger) (*Manager, error) {
	if clock == nil {
		clock = NewClock()
	}
	m := &Manager{clock: clock, source: source, l: l, pending: make(map[string]RuleSet)}
	if err := m.UseSymbol(sym); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) resolve(sym models.Symbol) (RuleSet, error) {
	raw, err := m.source.RulesFor(sym)
	if err != nil {
		return RuleSet{}, fmt.Errorf("market rules for %s: %w", sym.TickerName(), err)
	}
	rs, err := NewRuleSet(raw, m.l)
	if err != nil {
		return RuleSet{}, fmt.Errorf("market rules for %s: %w", sym.TickerName(), err)
	}
	return rs, nil
}

// Prepare resolves the rule set for sym without switching to it. The next
// UseSymbol for the same ticker commits the prepared set.
func (m *Manager) Prepare(sym models.Symbol) error {
	rs, err := m.resolve(sym)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.pending[sym.TickerName()] = rs
	m.mu.Unlock()
	return nil
}

// UseSymbol swaps in the rule set for sym.
func (m *Manager) UseSymbol(sym models.Symbol) error {
	ticker := sym.TickerName()
	m.mu.Lock()
	rs, ok := m.pending[ticker]
	delete(m.pending, ticker)
	m.mu.Unlock()

	if !ok {
		var err error
		if rs, err = m.resolve(sym); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.symbol = sym
	m.rules = rs
	m.mu.Unlock()
	return nil
}

// Symbol returns the symbol whose rules are active.
func (m *Manager) Symbol() models.Symbol {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.symbol
}

// Attach follows symbol changes published on bus. The returned id can be
// passed to bus.Unsubscribe.
func (m *Manager) Attach(bus *eventbus.Bus) string {
	return bus.Subscribe(models.SymbolChangedTopic, func(ev eventbus.Event) error {
		sym, err := eventbus.Decode[models.Symbol](ev.Payload)
		if err != nil {
			return err
		}
		return m.UseSymbol(*sym)
	})
}

// Rules returns the active rule set.
func (m *Manager) Rules() RuleSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rules
}

// Clock returns the underlying clock.
func (m *Manager) Clock() *Clock { return m.clock }

// Location returns the market location.
func (m *Manager) Location() *time.Location { return m.clock.Location() }

func (m *Manager) IsMarketDay(t time.Time) bool { return m.clock.IsMarketDay(t, m.Rules()) }

func (m *Manager) IsSessionOpen(t time.Time) bool { return m.clock.IsSessionOpen(t, m.Rules()) }

func (m *Manager) SnapToSessionBoundary(t time.Time) time.Time {
	return m.clock.SnapToSessionBoundary(t, m.Rules())
}

func (m *Manager) PreviousMarketDay(t time.Time) time.Time {
	return m.clock.PreviousMarketDay(t, m.Rules())
}

func (m *Manager) GoBack(from time.Time, ticks int, res models.Resolution) time.Time {
	return m.clock.GoBack(from, ticks, res, m.Rules())
}

// Status summarises the session state at t.
type Status struct {
	At          time.Time         `json:"at"`
	MarketDay   bool              `json:"marketDay"`
	Open        bool              `json:"open"`
	Snapped     time.Time         `json:"snapped"`
	PreviousDay time.Time         `json:"previousMarketDay"`
	Rule        models.MarketRule `json:"rule"`
}

// StatusAt evaluates every session question for t against one rule set.
func (m *Manager) StatusAt(t time.Time) Status {
	rs := m.Rules()
	at := t.In(m.clock.Location())
	return Status{
		At:          at,
		MarketDay:   m.clock.IsMarketDay(at, rs),
		Open:        m.clock.IsSessionOpen(at, rs),
		Snapped:     m.clock.SnapToSessionBoundary(at, rs),
		PreviousDay: m.clock.PreviousMarketDay(at, rs),
		Rule:        rs.ResolveRule(at),
	}
}

// SymbolInfo describes the active session layout for charting clients.
type SymbolInfo struct {
	Ticker          string `json:"ticker"`
	Timezone        string `json:"timezone"`
	Session         string `json:"session"`
	Holidays        string `json:"holidays"`
	HolidaySessions string `json:"corrections"`
}

// SymbolInfo renders the active rule set.
func (m *Manager) SymbolInfo() SymbolInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return SymbolInfo{
		Ticker:          m.symbol.TickerName(),
		Timezone:        m.clock.Location().String(),
		Session:         SessionString(m.rules.Default()),
		Holidays:        m.rules.HolidaysString(),
		HolidaySessions: m.rules.HolidaySessionsString(),
	}
}
