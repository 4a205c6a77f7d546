package risk

import (
	"context"
	"database/sql"

	"github.com/aristath/quant-core/internal/apperr"
	"github.com/aristath/quant-core/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PortfolioProvider is the narrow read the Engine needs from the Portfolio
// Store (§4.F), kept as an interface so the engine can be tested without a
// live database.
type PortfolioProvider interface {
	Get(ctx context.Context, portfolioID string) (domain.Portfolio, error)
}

// ReturnsProvider supplies the recent daily return series a portfolio's VaR
// check is computed against.
type ReturnsProvider interface {
	RecentReturns(ctx context.Context, portfolioID string, lookback int) ([]float64, error)
}

// VolumeTracker reports how much a portfolio has already traded today, in
// notional terms, for the daily-volume cap.
type VolumeTracker interface {
	DailyTradedNotional(ctx context.Context, portfolioID string) (decimal.Decimal, error)
}

// SectorLookup resolves a symbol to its sector/issuer tag for concentration
// limits. Returns ok=false when the symbol is untagged.
type SectorLookup func(symbol string) (sector string, ok bool)

// Engine is the Risk Engine (§4.G): implements domain.RiskService's
// pre-trade gate over a portfolio's own limit fields plus any additional
// domain.RiskLimit rows (concentration, daily volume) held in risk_limits.
type Engine struct {
	portfolios PortfolioProvider
	returns    ReturnsProvider
	volumes    VolumeTracker
	sectorOf   SectorLookup
	limitsDB   *sql.DB

	varConfidence float64 // alpha used for the portfolio VaR% check, e.g. 0.95
	log           zerolog.Logger
}

// NewEngine builds an Engine. limitsDB is the portfolio database connection
// risk_limits rows (concentration/daily-volume caps) are read from.
func NewEngine(portfolios PortfolioProvider, returns ReturnsProvider, volumes VolumeTracker, sectorOf SectorLookup, limitsDB *sql.DB, varConfidence float64, log zerolog.Logger) *Engine {
	if varConfidence <= 0 || varConfidence >= 1 {
		varConfidence = 0.95
	}
	return &Engine{
		portfolios:    portfolios,
		returns:       returns,
		volumes:       volumes,
		sectorOf:      sectorOf,
		limitsDB:      limitsDB,
		varConfidence: varConfidence,
		log:           log.With().Str("component", "risk_engine").Logger(),
	}
}

// reasons used in apperr.WithReason for the pre-trade gate; callers branch
// on these, not on the error string.
const (
	ReasonPortfolioInactive      = "portfolio_inactive"
	ReasonNonPositiveEquity      = "non_positive_equity"
	ReasonPositionWeightExceeded = "position_weight_exceeded"
	ReasonVaRExceeded            = "var_exceeded"
	ReasonLeverageExceeded       = "leverage_exceeded"
	ReasonConcentrationExceeded  = "concentration_exceeded"
	ReasonDailyVolumeExceeded    = "daily_volume_exceeded"
	ReasonNoReferencePrice       = "no_reference_price"
)

// CheckRisk is the §6/§4.G pre-trade gate: it simulates proposed's fill
// against portfolioID's current state and rejects if any configured limit
// would be breached post-trade. Satisfies domain.RiskService.
func (e *Engine) CheckRisk(ctx context.Context, portfolioID string, proposed domain.Order) error {
	pf, err := e.portfolios.Get(ctx, portfolioID)
	if err != nil {
		return err
	}
	if pf.Status != domain.PortfolioActive {
		return apperr.WithReason(apperr.KindLimitBreach, "portfolio "+portfolioID+" is not active", ReasonPortfolioInactive)
	}

	refPrice, err := referencePrice(pf, proposed)
	if err != nil {
		return err
	}

	equity := pf.Equity()
	if equity.Sign() <= 0 {
		return apperr.WithReason(apperr.KindLimitBreach, "portfolio equity is non-positive", ReasonNonPositiveEquity)
	}

	signedQty := proposed.Qty
	if proposed.Side == domain.SideSell {
		signedQty = proposed.Qty.Neg()
	}
	existing := pf.Positions[proposed.Symbol]
	newQty := existing.Quantity.Add(signedQty)
	newNotional := newQty.Mul(refPrice).Abs()

	if w, _ := newNotional.Div(equity).Float64(); w > pf.MaxPositionWeight {
		return apperr.WithReason(apperr.KindLimitBreach, "position weight would exceed limit", ReasonPositionWeightExceeded)
	}

	gross := decimal.Zero
	for sym, pos := range pf.Positions {
		if sym == proposed.Symbol {
			continue
		}
		gross = gross.Add(pos.MarketValue().Abs())
	}
	gross = gross.Add(newNotional)
	if lev, _ := gross.Div(equity).Float64(); lev > pf.MaxLeverage {
		return apperr.WithReason(apperr.KindLimitBreach, "leverage would exceed limit", ReasonLeverageExceeded)
	}

	if pf.VarLimit > 0 && e.returns != nil {
		series, err := e.returns.RecentReturns(ctx, portfolioID, 252)
		if err == nil && len(series) > 0 {
			if varPct := VaR(series, e.varConfidence); varPct > pf.VarLimit {
				return apperr.WithReason(apperr.KindLimitBreach, "portfolio VaR would exceed limit", ReasonVaRExceeded)
			}
		}
	}

	limits, err := e.loadLimits(ctx, portfolioID)
	if err != nil {
		return err
	}
	sector, hasSector := "", false
	if e.sectorOf != nil {
		sector, hasSector = e.sectorOf(proposed.Symbol)
	}
	for _, lim := range limits {
		switch lim.Kind {
		case domain.RiskLimitConcentration:
			if !hasSector || lim.Sector == nil || *lim.Sector != sector {
				continue
			}
			sectorNotional := newNotional
			for sym, pos := range pf.Positions {
				if sym == proposed.Symbol {
					continue
				}
				if s, ok := e.sectorOf(sym); ok && s == sector {
					sectorNotional = sectorNotional.Add(pos.MarketValue().Abs())
				}
			}
			if w, _ := sectorNotional.Div(equity).Float64(); w > lim.Value {
				return apperr.WithReason(apperr.KindLimitBreach, "sector concentration would exceed limit", ReasonConcentrationExceeded)
			}
		case domain.RiskLimitDailyVolume:
			if e.volumes == nil {
				continue
			}
			traded, err := e.volumes.DailyTradedNotional(ctx, portfolioID)
			if err != nil {
				return apperr.Wrap(apperr.KindUpstream, "read daily traded volume", err)
			}
			thisTrade := proposed.Qty.Mul(refPrice)
			total, _ := traded.Add(thisTrade).Float64()
			if total > lim.Value {
				return apperr.WithReason(apperr.KindLimitBreach, "daily traded volume would exceed limit", ReasonDailyVolumeExceeded)
			}
		}
	}

	return nil
}

// referencePrice picks the price the gate simulates the fill at: the
// order's limit price if it has one, else the symbol's last mark. A market
// order for a symbol with no existing mark has no way to be sized and is
// rejected rather than silently skipped.
func referencePrice(pf domain.Portfolio, order domain.Order) (decimal.Decimal, error) {
	if order.LimitPrice != nil {
		return *order.LimitPrice, nil
	}
	if pos, ok := pf.Positions[order.Symbol]; ok && !pos.LastMark.IsZero() {
		return pos.LastMark, nil
	}
	return decimal.Zero, apperr.WithReason(apperr.KindValidation, "no reference price available for "+order.Symbol, ReasonNoReferencePrice)
}

// loadLimits reads every domain.RiskLimit scoped to portfolioID (plus
// global rows with a nil portfolio_id) from the risk_limits table.
func (e *Engine) loadLimits(ctx context.Context, portfolioID string) ([]domain.RiskLimit, error) {
	rows, err := e.limitsDB.QueryContext(ctx, `
		SELECT id, portfolio_id, symbol, sector, kind, value, warn_threshold
		FROM risk_limits WHERE portfolio_id IS NULL OR portfolio_id = ?
	`, portfolioID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "query risk limits", err)
	}
	defer rows.Close()

	var out []domain.RiskLimit
	for rows.Next() {
		var lim domain.RiskLimit
		var pid, sym, sector sql.NullString
		if err := rows.Scan(&lim.ID, &pid, &sym, &sector, &lim.Kind, &lim.Value, &lim.WarnThreshold); err != nil {
			return nil, apperr.Wrap(apperr.KindUpstream, "scan risk limit", err)
		}
		if pid.Valid {
			lim.PortfolioID = &pid.String
		}
		if sym.Valid {
			lim.Symbol = &sym.String
		}
		if sector.Valid {
			lim.Sector = &sector.String
		}
		out = append(out, lim)
	}
	return out, rows.Err()
}
