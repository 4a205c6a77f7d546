package risk

import (
	"context"
	"time"

	"github.com/aristath/quant-core/internal/apperr"
	"github.com/aristath/quant-core/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"
)

// reason used when a Signal with Direction=hold is handed to SizeOrder.
const ReasonSignalHold = "signal_hold"

// SizedOrder is the output of the G step (§4.G "sizes positions"): a
// Kelly-sized, but not yet risk-gated or submitted, trade derived from a
// Signal. The Order State Machine (§4.H) still runs it through CheckRisk on
// submit.
type SizedOrder struct {
	Symbol         string
	Side           domain.OrderSide
	Qty            decimal.Decimal
	Fraction       float64 // the clamped Kelly fraction f* applied
	Volatility     float64
	ReferencePrice decimal.Decimal
}

// SizeOrder applies the Kelly-variant sizing formula (§4.G) to a Signal
// against a portfolio's current equity, a symbol's recent volatility, and a
// reference price. Pure and side-effect free so it can be tested directly
// against Scenario S1's numbers without a Hub or Portfolio Store.
func SizeOrder(signal domain.Signal, equity decimal.Decimal, volatility, riskTolerance float64, price decimal.Decimal) (SizedOrder, error) {
	var side domain.OrderSide
	switch signal.Direction {
	case domain.DirectionBuy:
		side = domain.SideBuy
	case domain.DirectionSell:
		side = domain.SideSell
	default:
		return SizedOrder{}, apperr.WithReason(apperr.KindValidation, "signal direction is hold, nothing to size", ReasonSignalHold)
	}
	if price.Sign() <= 0 {
		return SizedOrder{}, apperr.WithReason(apperr.KindValidation, "no reference price available for "+signal.Symbol, ReasonNoReferencePrice)
	}

	equityF, _ := equity.Float64()
	priceF, _ := price.Float64()
	fraction := KellyFraction(signal.Strength, volatility, riskTolerance)
	shares := KellyShares(equityF, fraction, priceF)

	return SizedOrder{
		Symbol:         signal.Symbol,
		Side:           side,
		Qty:            decimal.NewFromInt(shares),
		Fraction:       fraction,
		Volatility:     volatility,
		ReferencePrice: price,
	}, nil
}

// Sizer is the live G step: it resolves the equity, volatility, and
// reference price a SizeOrder call needs from the Portfolio Store and
// Market-Data Hub, then delegates to SizeOrder.
type Sizer struct {
	hub        Hub
	portfolios PortfolioProvider
	log        zerolog.Logger
}

// NewSizer builds a Sizer over the Market-Data Hub (for price/volatility)
// and Portfolio Store (for equity).
func NewSizer(hub Hub, portfolios PortfolioProvider, log zerolog.Logger) *Sizer {
	return &Sizer{hub: hub, portfolios: portfolios, log: log.With().Str("component", "risk_sizer").Logger()}
}

// Size turns a Signal into a SizedOrder, pulling lookback+1 daily bars for
// signal.Symbol to derive both the reference price (last close) and
// volatility (stdev of daily returns).
func (s *Sizer) Size(ctx context.Context, portfolioID string, signal domain.Signal, riskTolerance float64, lookback int) (SizedOrder, error) {
	pf, err := s.portfolios.Get(ctx, portfolioID)
	if err != nil {
		return SizedOrder{}, err
	}

	now := time.Now().UTC()
	bars, _, err := s.hub.GetBars(ctx, signal.Symbol, domain.TF1d, domain.BarRange{From: now.AddDate(0, 0, -(lookback + 1)), To: now})
	if err != nil {
		return SizedOrder{}, apperr.Wrap(apperr.KindUpstream, "fetch bars for sizing", err)
	}
	if len(bars) < 2 {
		return SizedOrder{}, apperr.WithReason(apperr.KindValidation, "no reference price available for "+signal.Symbol, ReasonNoReferencePrice)
	}

	returns := dailyReturns(bars)
	volatility := 0.0
	if len(returns) > 0 {
		volatility = stat.StdDev(returns, nil)
	}
	price := bars[len(bars)-1].Close

	return SizeOrder(signal, pf.Equity(), volatility, riskTolerance, price)
}
