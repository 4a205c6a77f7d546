package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/quant-core/internal/apperr"
	"github.com/aristath/quant-core/internal/portfolio"
)

type portfolioHandlers struct {
	portfolio *portfolio.Store
	log       zerolog.Logger
}

// handleGetPortfolio serves GET /api/portfolios/{id}.
func (h *portfolioHandlers) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	pf, err := h.portfolio.Get(r.Context(), id)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			writeError(w, http.StatusNotFound, "portfolio not found")
			return
		}
		h.log.Error().Err(err).Str("portfolio_id", id).Msg("get portfolio failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, pf)
}
