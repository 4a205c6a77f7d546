package risk

import "github.com/aristath/quant-core/internal/domain"

// Scenario maps asset-class tags to shock factors, e.g.
// {"equity": -0.40, "bond": 0.05, "crypto": -0.70} for a market crash (§4.G).
type Scenario struct {
	Name   string
	Shocks map[string]float64
}

// AssetClassLookup resolves a symbol to its asset-class tag for stress
// shocking. Returns ok=false when untagged; untagged positions are left
// unshocked.
type AssetClassLookup func(symbol string) (assetClass string, ok bool)

// PositionDelta is one position's simulated P/L under a scenario.
type PositionDelta struct {
	Symbol string
	Delta  float64 // change in market value, portfolio currency
}

// ApplyScenario computes per-position and portfolio deltas under scenario
// without mutating pf. A position whose asset class has no shock in the
// scenario contributes zero delta.
func ApplyScenario(pf domain.Portfolio, scenario Scenario, assetClassOf AssetClassLookup) (portfolioDelta float64, positions []PositionDelta) {
	for symbol, pos := range pf.Positions {
		class, ok := assetClassOf(symbol)
		if !ok {
			continue
		}
		shock, ok := scenario.Shocks[class]
		if !ok {
			continue
		}
		mv, _ := pos.MarketValue().Float64()
		delta := mv * shock
		positions = append(positions, PositionDelta{Symbol: symbol, Delta: delta})
		portfolioDelta += delta
	}
	return portfolioDelta, positions
}
