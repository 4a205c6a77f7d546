// Package risk implements the Risk Engine (§4.G): return-series metrics,
// Kelly-variant position sizing, a pre-trade limit gate, and stress
// scenarios. Metrics are grounded on gonum's stat package, matching the
// teacher's own cvar.go/stats.go use of gonum for the same family of
// calculations.
package risk

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// VaR returns the (1-alpha) Value-at-Risk of a return series: the loss at
// the alpha confidence level, as a positive number (§4.G).
func VaR(returns []float64, alpha float64) float64 {
	sorted := sortedCopy(returns)
	if len(sorted) == 0 {
		return 0
	}
	idx := tailIndex(len(sorted), alpha)
	return -sorted[idx]
}

// CVaR (synonym: Expected Shortfall) is the mean of the alpha-tail losses,
// always >= VaR.
func CVaR(returns []float64, alpha float64) float64 {
	sorted := sortedCopy(returns)
	if len(sorted) == 0 {
		return 0
	}
	idx := tailIndex(len(sorted), alpha)
	tail := sorted[:idx+1]
	return -stat.Mean(tail, nil)
}

// ExpectedShortfall is CVaR under its other name (§4.G).
func ExpectedShortfall(returns []float64, alpha float64) float64 { return CVaR(returns, alpha) }

// Sharpe is mean(r-rf)/stdev(r-rf), optionally annualized by
// sqrt(annualizationFactor) (pass 0 to skip annualization).
func Sharpe(returns []float64, rf, annualizationFactor float64) float64 {
	excess := excessReturns(returns, rf)
	std := stat.StdDev(excess, nil)
	if std == 0 {
		return 0
	}
	s := stat.Mean(excess, nil) / std
	if annualizationFactor > 0 {
		s *= math.Sqrt(annualizationFactor)
	}
	return s
}

// Sortino is mean excess return over downside stdev (stdev of min(r-rf,0)).
func Sortino(returns []float64, rf, annualizationFactor float64) float64 {
	excess := excessReturns(returns, rf)
	downside := make([]float64, len(excess))
	for i, e := range excess {
		if e < 0 {
			downside[i] = e
		}
	}
	dstd := stat.StdDev(downside, nil)
	if dstd == 0 {
		return 0
	}
	s := stat.Mean(excess, nil) / dstd
	if annualizationFactor > 0 {
		s *= math.Sqrt(annualizationFactor)
	}
	return s
}

// MaxDrawdown is max_t (running_max(c)[t] - c[t]) / running_max(c)[t] over a
// cumulative return curve c.
func MaxDrawdown(cumulative []float64) float64 {
	maxDD := 0.0
	runningMax := math.Inf(-1)
	for _, c := range cumulative {
		if c > runningMax {
			runningMax = c
		}
		if runningMax > 0 {
			if dd := (runningMax - c) / runningMax; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// KellyFraction is the clamped Kelly-variant sizing fraction (§4.G):
// f* = clamp((edge/volatility)*riskTolerance, 0.01, 0.5),
// edge = adjustedSignal - 0.5, adjustedSignal = 0.5 + 0.5*signalStrength.
func KellyFraction(signalStrength, volatility, riskTolerance float64) float64 {
	if volatility <= 0 {
		return 0.01
	}
	adjustedSignal := 0.5 + 0.5*signalStrength
	edge := adjustedSignal - 0.5
	f := (edge / volatility) * riskTolerance
	switch {
	case f < 0.01:
		return 0.01
	case f > 0.5:
		return 0.5
	default:
		return f
	}
}

// KellyShares translates a sizing fraction into a share count:
// floor(portfolio_value * f* / price).
func KellyShares(portfolioValue, fraction, price float64) int64 {
	if price <= 0 {
		return 0
	}
	return int64(math.Floor(portfolioValue * fraction / price))
}

func excessReturns(returns []float64, rf float64) []float64 {
	out := make([]float64, len(returns))
	for i, r := range returns {
		out[i] = r - rf
	}
	return out
}

func sortedCopy(returns []float64) []float64 {
	out := append([]float64(nil), returns...)
	sort.Float64s(out)
	return out
}

// tailIndex returns the index of the (1-alpha) quantile in a sorted-ascending
// series of length n, clamped into range.
func tailIndex(n int, alpha float64) int {
	idx := int(math.Floor((1 - alpha) * float64(n)))
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return idx
}
