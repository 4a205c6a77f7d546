package server

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/aristath/quant-core/internal/apperr"
	"github.com/aristath/quant-core/internal/domain"
	"github.com/aristath/quant-core/internal/portfolio"
	"github.com/aristath/quant-core/internal/risk"
)

type riskHandlers struct {
	risk      *risk.Engine
	sizer     *risk.Sizer
	portfolio *portfolio.Store
	log       zerolog.Logger
}

type checkRiskRequest struct {
	PortfolioID string       `json:"portfolio_id"`
	Order       domain.Order `json:"order"`
}

// handleCheckRisk serves POST /api/risk/check. A 200 with {"approved": true}
// means the proposed order passes every risk limit; a 422 carries the
// rejection reason.
func (h *riskHandlers) handleCheckRisk(w http.ResponseWriter, r *http.Request) {
	var req checkRiskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.risk.CheckRisk(r.Context(), req.PortfolioID, req.Order); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"rejected": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"approved": true})
}

type sizeRequest struct {
	PortfolioID   string        `json:"portfolio_id"`
	Signal        domain.Signal `json:"signal"`
	RiskTolerance float64       `json:"risk_tolerance"`
}

// handleSizeSignal serves POST /api/risk/size: the G step between a Signal
// and an Order (§2 Flow "G evaluates -> SizedOrder"). It does not submit
// anything; the caller still takes the returned SizedOrder through
// POST /api/orders to reach the pre-trade gate and H.
func (h *riskHandlers) handleSizeSignal(w http.ResponseWriter, r *http.Request) {
	var req sizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.RiskTolerance <= 0 {
		req.RiskTolerance = 0.5
	}

	sized, err := h.sizer.Size(r.Context(), req.PortfolioID, req.Signal, req.RiskTolerance, 252)
	if err != nil {
		h.log.Warn().Err(err).Str("symbol", req.Signal.Symbol).Msg("signal sizing failed")
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, sized)
}

type stressRequest struct {
	PortfolioID  string            `json:"portfolio_id"`
	Scenario     risk.Scenario     `json:"scenario"`
	AssetClasses map[string]string `json:"asset_classes"`
}

type stressResponse struct {
	PortfolioDelta float64              `json:"portfolio_delta"`
	Positions      []risk.PositionDelta `json:"positions"`
}

// handleStressTest serves POST /api/admin/risk/stress (§4.G stress
// scenarios). asset_classes tags each symbol the scenario should shock;
// there is no persisted security-metadata service in this system (§4.G.1),
// so the caller supplies the mapping per request.
func (h *riskHandlers) handleStressTest(w http.ResponseWriter, r *http.Request) {
	var req stressRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	pf, err := h.portfolio.Get(r.Context(), req.PortfolioID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			writeError(w, http.StatusNotFound, "portfolio not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	assetClassOf := risk.AssetClassLookup(func(symbol string) (string, bool) {
		class, ok := req.AssetClasses[symbol]
		return class, ok
	})
	delta, positions := risk.ApplyScenario(pf, req.Scenario, assetClassOf)
	writeJSON(w, http.StatusOK, stressResponse{PortfolioDelta: delta, Positions: positions})
}
