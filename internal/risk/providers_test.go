package risk

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/quant-core/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHub struct {
	bars map[string][]domain.Bar
}

func (f fakeHub) GetBars(ctx context.Context, symbol string, tf domain.Timeframe, r domain.BarRange) ([]domain.Bar, bool, error) {
	return f.bars[symbol], false, nil
}

func barsWithCloses(symbol string, closes ...float64) []domain.Bar {
	out := make([]domain.Bar, len(closes))
	for i, c := range closes {
		out[i] = domain.Bar{Symbol: symbol, Timeframe: domain.TF1d, Ts: time.Now().AddDate(0, 0, i-len(closes)), Close: decimal.NewFromFloat(c)}
	}
	return out
}

func TestDailyReturns(t *testing.T) {
	bars := barsWithCloses("AAPL", 100, 110, 99)
	returns := dailyReturns(bars)
	require.Len(t, returns, 2)
	assert.InDelta(t, 0.10, returns[0], 1e-9)
	assert.InDelta(t, -0.1, returns[1], 1e-9)
}

func TestHubReturnsProvider_WeightsBySymbol(t *testing.T) {
	pf := basePortfolio()
	pf.Positions = map[string]domain.Position{
		"AAPL": {Symbol: "AAPL", Quantity: decimal.NewFromInt(100), LastMark: decimal.NewFromInt(100)},
	}
	// equity = 100000 cash is wrong here; basePortfolio already has cash, so
	// recompute equity deliberately small by zeroing cash.
	pf.Cash = decimal.Zero

	hub := fakeHub{bars: map[string][]domain.Bar{
		"AAPL": barsWithCloses("AAPL", 100, 110),
	}}
	p := NewHubReturnsProvider(hub, fakePortfolios{pf: pf}, zerolog.Nop())

	out, err := p.RecentReturns(context.Background(), "p1", 3)
	require.NoError(t, err)
	require.Len(t, out, 3)
	// 100% weight on AAPL, single return of +10% lands in the last slot.
	assert.InDelta(t, 0.10, out[2], 1e-9)
	assert.InDelta(t, 0, out[0], 1e-9)
	assert.InDelta(t, 0, out[1], 1e-9)
}

func TestHubReturnsProvider_ZeroEquity(t *testing.T) {
	pf := basePortfolio()
	pf.Cash = decimal.Zero
	pf.Positions = map[string]domain.Position{}

	p := NewHubReturnsProvider(fakeHub{}, fakePortfolios{pf: pf}, zerolog.Nop())
	out, err := p.RecentReturns(context.Background(), "p1", 5)
	require.NoError(t, err)
	assert.Len(t, out, 5)
	for _, r := range out {
		assert.Zero(t, r)
	}
}
