package market

import (
	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/models"
)

// RuleSource yields the market rules for a symbol.
type RuleSource interface {
	RulesFor(sym models.Symbol) ([]models.MarketRule, error)
}

// StaticRules serves the same list for every symbol.
type StaticRules []models.MarketRule

func (s StaticRules) RulesFor(models.Symbol) ([]models.MarketRule, error) {
	out := make([]models.MarketRule, len(s))
	copy(out, s)
	return out, nil
}

// RulesFunc adapts a function to RuleSource.
type RulesFunc func(sym models.Symbol) ([]models.MarketRule, error)

func (f RulesFunc) RulesFor(sym models.Symbol) ([]models.MarketRule, error) { return f(sym) }

// ExchangeRules picks a list by the symbol's exchange, falling back to Default.
type ExchangeRules struct {
	ByExchange map[string][]models.MarketRule
	Default    []models.MarketRule
}

func (e ExchangeRules) RulesFor(sym models.Symbol) ([]models.MarketRule, error) {
	src := e.Default
	if rules, ok := e.ByExchange[sym.Exchange]; ok && len(rules) > 0 {
		src = rules
	}
	return StaticRules(src).RulesFor(sym)
}
