package server

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/aristath/quant-core/internal/domain"
	"github.com/aristath/quant-core/internal/predictors"
)

type predictionHandlers struct {
	dispatcher *predictors.Dispatcher
	signals    *predictors.SignalStore
	log        zerolog.Logger
}

type predictRequest struct {
	PredictorID string           `json:"predictor_id"`
	Symbol      string           `json:"symbol"`
	Timeframe   domain.Timeframe `json:"timeframe"`
	HorizonBars int              `json:"horizon_bars"`
}

// handlePredict serves POST /api/predict, running one predictor and
// persisting the resulting signal.
func (h *predictionHandlers) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !req.Timeframe.Valid() {
		writeError(w, http.StatusBadRequest, "invalid timeframe")
		return
	}

	sig, err := h.dispatcher.Predict(r.Context(), req.PredictorID, req.Symbol, req.Timeframe, req.HorizonBars)
	if err != nil {
		h.log.Error().Err(err).Str("predictor_id", req.PredictorID).Msg("predict failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	if err := h.signals.Record(r.Context(), sig); err != nil {
		h.log.Warn().Err(err).Str("signal_id", sig.ID).Msg("failed to persist signal")
	}

	writeJSON(w, http.StatusOK, sig)
}
