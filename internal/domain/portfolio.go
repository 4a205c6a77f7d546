package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioStatus gates whether new orders may be accepted.
type PortfolioStatus string

const (
	PortfolioActive  PortfolioStatus = "active"
	PortfolioHalted  PortfolioStatus = "halted"
	PortfolioClosing PortfolioStatus = "closing"
)

// Position is a signed holding in a single symbol. Negative Quantity is short.
type Position struct {
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	AvgCost     decimal.Decimal `json:"avg_cost"`
	RealizedPL  decimal.Decimal `json:"realized_pl"`
	LastMark    decimal.Decimal `json:"last_mark"`
	OpenedAt    time.Time       `json:"opened_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// MarketValue returns quantity * last_mark (signed).
func (p Position) MarketValue() decimal.Decimal {
	return p.Quantity.Mul(p.LastMark)
}

// Portfolio is the source-of-truth aggregate for positions and cash.
type Portfolio struct {
	ID               string              `json:"id"`
	OwnerID          string              `json:"owner_id"`
	Cash             decimal.Decimal     `json:"cash"`
	Currency         string              `json:"currency"`
	Positions        map[string]Position `json:"positions"`
	VarLimit         float64             `json:"var_limit"`
	MaxPositionWeight float64            `json:"max_position_weight"`
	MaxLeverage      float64             `json:"max_leverage"`
	Status           PortfolioStatus     `json:"status"`
}

// Equity returns cash plus the signed market value of every position.
func (p Portfolio) Equity() decimal.Decimal {
	total := p.Cash
	for _, pos := range p.Positions {
		total = total.Add(pos.MarketValue())
	}
	return total
}

// Leverage returns sum(|qty*mark|) / equity, or 0 when equity is non-positive.
func (p Portfolio) Leverage() float64 {
	equity := p.Equity()
	if equity.Sign() <= 0 {
		return 0
	}
	gross := decimal.Zero
	for _, pos := range p.Positions {
		gross = gross.Add(pos.MarketValue().Abs())
	}
	f, _ := gross.Div(equity).Float64()
	return f
}

// PositionWeight returns |qty*mark| / equity for symbol, or 0 if absent or equity <= 0.
func (p Portfolio) PositionWeight(symbol string) float64 {
	equity := p.Equity()
	if equity.Sign() <= 0 {
		return 0
	}
	pos, ok := p.Positions[symbol]
	if !ok {
		return 0
	}
	f, _ := pos.MarketValue().Abs().Div(equity).Float64()
	return f
}

// RiskLimitKind enumerates the kinds of constraints a RiskLimit can express.
type RiskLimitKind string

const (
	RiskLimitPositionSize  RiskLimitKind = "position_size"
	RiskLimitVaR           RiskLimitKind = "var"
	RiskLimitLeverage      RiskLimitKind = "leverage"
	RiskLimitConcentration RiskLimitKind = "concentration"
	RiskLimitDailyVolume   RiskLimitKind = "daily_volume"
)

// RiskLimit scopes a constraint to an optional portfolio, symbol, and/or sector.
type RiskLimit struct {
	ID            string        `json:"id"`
	PortfolioID   *string       `json:"portfolio_id,omitempty"`
	Symbol        *string       `json:"symbol,omitempty"`
	Sector        *string       `json:"sector,omitempty"`
	Kind          RiskLimitKind `json:"kind"`
	Value         float64       `json:"value"`
	WarnThreshold float64       `json:"warn_threshold"`
}
