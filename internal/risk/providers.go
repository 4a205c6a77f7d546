package risk

import (
	"context"
	"time"

	"github.com/aristath/quant-core/internal/domain"
	"github.com/rs/zerolog"
)

// Hub is the subset of the Market-Data Hub HubReturnsProvider needs.
type Hub interface {
	GetBars(ctx context.Context, symbol string, tf domain.Timeframe, r domain.BarRange) ([]domain.Bar, bool, error)
}

// HubReturnsProvider approximates a portfolio's daily return series as the
// position-weighted sum of its holdings' own daily returns, since no
// persisted portfolio-equity time series exists in this system (§4.F's
// Portfolio Store holds current state only, not historical snapshots).
// Weighting by current position weight rather than historical weight is an
// approximation: it treats today's allocation as if it had been held for
// the whole lookback window.
type HubReturnsProvider struct {
	hub        Hub
	portfolios PortfolioProvider
	log        zerolog.Logger
}

// NewHubReturnsProvider builds a ReturnsProvider backed by the Market-Data Hub.
func NewHubReturnsProvider(hub Hub, portfolios PortfolioProvider, log zerolog.Logger) *HubReturnsProvider {
	return &HubReturnsProvider{hub: hub, portfolios: portfolios, log: log.With().Str("component", "risk_returns_provider").Logger()}
}

// RecentReturns implements ReturnsProvider.
func (p *HubReturnsProvider) RecentReturns(ctx context.Context, portfolioID string, lookback int) ([]float64, error) {
	pf, err := p.portfolios.Get(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	equity := pf.Equity()
	if equity.Sign() <= 0 {
		return make([]float64, lookback), nil
	}

	out := make([]float64, lookback)
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -(lookback + 1))

	for symbol, pos := range pf.Positions {
		weight, _ := pos.MarketValue().Div(equity).Float64()
		if weight == 0 {
			continue
		}
		bars, _, err := p.hub.GetBars(ctx, symbol, domain.TF1d, domain.BarRange{From: from, To: now})
		if err != nil {
			p.log.Warn().Err(err).Str("symbol", symbol).Msg("skipping symbol in portfolio returns: bars unavailable")
			continue
		}
		if len(bars) < 2 {
			continue
		}

		returns := dailyReturns(bars)
		// Align the most recent min(len(returns), lookback) values to the
		// tail of out, the same convention the VaR/CVaR metrics use.
		n := len(returns)
		if n > lookback {
			returns = returns[n-lookback:]
			n = lookback
		}
		offset := lookback - n
		for i, r := range returns {
			out[offset+i] += weight * r
		}
	}
	return out, nil
}

func dailyReturns(bars []domain.Bar) []float64 {
	out := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		prev, ok1 := bars[i-1].Close.Float64()
		curr, ok2 := bars[i].Close.Float64()
		if !ok1 || !ok2 || prev == 0 {
			continue
		}
		out = append(out, (curr-prev)/prev)
	}
	return out
}
