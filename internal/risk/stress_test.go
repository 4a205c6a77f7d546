package risk

import (
	"testing"

	"github.com/aristath/quant-core/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestApplyScenario_MarketCrash(t *testing.T) {
	pf := domain.Portfolio{
		Positions: map[string]domain.Position{
			"AAPL": {Symbol: "AAPL", Quantity: decimal.NewFromInt(100), LastMark: decimal.NewFromInt(150)},
			"TLT":  {Symbol: "TLT", Quantity: decimal.NewFromInt(200), LastMark: decimal.NewFromInt(90)},
			"BTC":  {Symbol: "BTC", Quantity: decimal.NewFromInt(1), LastMark: decimal.NewFromInt(60000)},
		},
	}
	scenario := Scenario{
		Name: "market_crash",
		Shocks: map[string]float64{
			"equity": -0.40,
			"bond":   0.05,
			"crypto": -0.70,
		},
	}
	assetClassOf := func(symbol string) (string, bool) {
		switch symbol {
		case "AAPL":
			return "equity", true
		case "TLT":
			return "bond", true
		case "BTC":
			return "crypto", true
		}
		return "", false
	}

	total, deltas := ApplyScenario(pf, scenario, assetClassOf)
	assert.Len(t, deltas, 3)

	expected := 100*150*-0.40 + 200*90*0.05 + 1*60000*-0.70
	assert.InDelta(t, expected, total, 1e-6)
}

func TestApplyScenario_UntaggedSymbolSkipped(t *testing.T) {
	pf := domain.Portfolio{
		Positions: map[string]domain.Position{
			"XYZ": {Symbol: "XYZ", Quantity: decimal.NewFromInt(10), LastMark: decimal.NewFromInt(10)},
		},
	}
	scenario := Scenario{Name: "noop", Shocks: map[string]float64{"equity": -0.5}}
	total, deltas := ApplyScenario(pf, scenario, func(string) (string, bool) { return "", false })
	assert.Empty(t, deltas)
	assert.Equal(t, 0.0, total)
}
