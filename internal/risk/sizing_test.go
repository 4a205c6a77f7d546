package risk

import (
	"context"
	"testing"

	"github.com/aristath/quant-core/internal/apperr"
	"github.com/aristath/quant-core/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buySignal(symbol string, strength float64) domain.Signal {
	return domain.Signal{ID: "s1", PredictorID: "pred1", Symbol: symbol, Direction: domain.DirectionBuy, Strength: strength}
}

func TestSizeOrder_AppliesKellyFormula(t *testing.T) {
	// Same portfolio/signal/risk_tolerance/price as the happy-path scenario
	// this system's pre-trade flow is built around (cash 100000, no
	// positions, buy AAPL strength=0.6, risk_tolerance=0.5, price 150): the
	// clamped Kelly formula (edge/volatility)*risk_tolerance with edge=0.3
	// and volatility=0.02 evaluates to 7.5, which clamps to the 0.5 ceiling
	// rather than landing on an interior value, so qty is
	// floor(100000*0.5/150)=333 shares.
	equity := decimal.NewFromInt(100000)
	price := decimal.NewFromFloat(150)

	sized, err := SizeOrder(buySignal("AAPL", 0.6), equity, 0.02, 0.5, price)
	require.NoError(t, err)
	assert.Equal(t, domain.SideBuy, sized.Side)
	assert.Equal(t, 0.5, sized.Fraction)
	assert.True(t, sized.Qty.Equal(decimal.NewFromInt(333)))
}

func TestSizeOrder_InteriorFraction(t *testing.T) {
	// Lower strength and higher volatility keep the raw fraction inside
	// [0.01, 0.5], exercising the unclamped branch.
	equity := decimal.NewFromInt(100000)
	price := decimal.NewFromFloat(150)

	sized, err := SizeOrder(buySignal("AAPL", 0.6), equity, 0.6, 0.5, price)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, sized.Fraction, 1e-9)
	assert.True(t, sized.Qty.Equal(decimal.NewFromInt(166)))
}

func TestSizeOrder_SellDirection(t *testing.T) {
	sized, err := SizeOrder(domain.Signal{Symbol: "AAPL", Direction: domain.DirectionSell, Strength: 0.6}, decimal.NewFromInt(100000), 0.6, 0.5, decimal.NewFromFloat(150))
	require.NoError(t, err)
	assert.Equal(t, domain.SideSell, sized.Side)
}

func TestSizeOrder_HoldDirectionRejected(t *testing.T) {
	_, err := SizeOrder(domain.Signal{Symbol: "AAPL", Direction: domain.DirectionHold, Strength: 0.6}, decimal.NewFromInt(100000), 0.02, 0.5, decimal.NewFromFloat(150))
	require.Error(t, err)
	assert.Equal(t, ReasonSignalHold, apperr.ReasonOf(err))
}

func TestSizeOrder_NoReferencePrice(t *testing.T) {
	_, err := SizeOrder(buySignal("AAPL", 0.6), decimal.NewFromInt(100000), 0.02, 0.5, decimal.Zero)
	require.Error(t, err)
	assert.Equal(t, ReasonNoReferencePrice, apperr.ReasonOf(err))
}

func TestSizer_Size_EndToEnd(t *testing.T) {
	pf := basePortfolio() // cash 100000, no positions
	hub := fakeHub{bars: map[string][]domain.Bar{
		"AAPL": barsWithCloses("AAPL", 148, 149, 150),
	}}
	sizer := NewSizer(hub, fakePortfolios{pf: pf}, zerolog.Nop())

	sized, err := sizer.Size(context.Background(), "p1", buySignal("AAPL", 0.6), 0.5, 252)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", sized.Symbol)
	assert.Equal(t, domain.SideBuy, sized.Side)
	assert.True(t, sized.ReferencePrice.Equal(decimal.NewFromInt(150)))
	assert.True(t, sized.Qty.GreaterThan(decimal.Zero))
}

func TestSizer_Size_NoBarsErrors(t *testing.T) {
	hub := fakeHub{bars: map[string][]domain.Bar{}}
	sizer := NewSizer(hub, fakePortfolios{pf: basePortfolio()}, zerolog.Nop())

	_, err := sizer.Size(context.Background(), "p1", buySignal("AAPL", 0.6), 0.5, 252)
	require.Error(t, err)
	assert.Equal(t, ReasonNoReferencePrice, apperr.ReasonOf(err))
}
